package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"approvalgate/internal/approval"
	"approvalgate/internal/approval/service"
	"approvalgate/internal/approval/store"
	"approvalgate/internal/audit"
	"approvalgate/internal/channel"
	emailchannel "approvalgate/internal/channel/email"
	"approvalgate/internal/channel/telegram"
	"approvalgate/internal/platform/config"
	"approvalgate/internal/platform/httpserver"
	"approvalgate/internal/platform/logger"
	"approvalgate/internal/platform/metrics"
	platformredis "approvalgate/internal/platform/redis"
	httptransport "approvalgate/internal/transport/http"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	var (
		st       store.Store
		auditSt  audit.Store
		shutdown []func()
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Error("open database failed", "error", err.Error())
			os.Exit(1)
		}
		shutdown = append(shutdown, func() { _ = db.Close() })

		pgStore := store.NewPostgres(db)
		pgAudit := audit.NewPostgresStore(db)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = pgStore.EnsureSchema(ctx)
		if err == nil {
			err = pgAudit.EnsureSchema(ctx)
		}
		cancel()
		if err != nil {
			log.Error("schema setup failed", "error", err.Error())
			os.Exit(1)
		}
		st = pgStore
		auditSt = pgAudit
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store")
		st = store.NewMemory()
		auditSt = audit.NewMemoryStore()
	}

	var deduper telegram.Deduper = telegram.NewMemoryDeduper(24 * time.Hour)
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis setup failed", "error", err.Error())
		os.Exit(1)
	}
	if redisClient != nil {
		shutdown = append(shutdown, func() { _ = redisClient.Close() })
		deduper = telegram.NewRedisDeduper(redisClient.Client, 24*time.Hour)
	}

	m := metrics.New()
	auditPub := audit.NewPublisher(256, log)
	senders := channel.Registry{
		approval.ChannelTelegram: telegram.New(cfg.Telegram, log),
		approval.ChannelEmail:    emailchannel.New(cfg.Email, cfg.PublicURL, cfg.ActionSignKey, log),
	}

	svc := service.New(st, senders, auditPub, m, log)
	handler := httptransport.New(svc, deduper, &cfg, log)
	router := httptransport.NewRouter(handler, log)
	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting approval gate", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		worker := audit.NewWorker(auditSt, auditPub.Inbox(), log)
		if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err.Error())
	}
	for _, fn := range shutdown {
		fn()
	}
}
