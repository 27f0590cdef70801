// Package httptransport is the thin HTTP layer. It delegates to the
// lifecycle service without embedding business logic so transport concerns
// remain isolated.
package httptransport

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"approvalgate/internal/approval"
	"approvalgate/internal/approval/service"
	"approvalgate/internal/channel/telegram"
	"approvalgate/internal/platform/config"
	"approvalgate/internal/platform/middleware"
	"approvalgate/internal/transport/http/shared"
	dErrors "approvalgate/pkg/domain-errors"
	"approvalgate/pkg/requestcontext"

	emailchannel "approvalgate/internal/channel/email"
)

// Service is the surface the handler needs from the lifecycle engine, kept
// as an interface so handler tests can stub it.
type Service interface {
	Create(ctx context.Context, p service.CreateParams) (*approval.Approval, bool, error)
	Get(ctx context.Context, approvalID string) (*approval.Approval, error)
	IngestEmailReply(ctx context.Context, subject, body string) (*approval.Approval, error)
	IngestTelegramCallback(ctx context.Context, deduper telegram.Deduper, updateID int64, data string) (*approval.Approval, error)
	IngestTelegramText(ctx context.Context, approvalID, text string) (*approval.Approval, error)
	IngestAction(ctx context.Context, approvalID, action string) (*approval.Approval, error)
	RevokeAllowRule(ctx context.Context, ruleID string) (*approval.AllowRule, error)
}

// Handler handles the approval endpoints.
type Handler struct {
	svc     Service
	deduper telegram.Deduper
	cfg     *config.Config
	logger  *slog.Logger
}

func New(svc Service, deduper telegram.Deduper, cfg *config.Config, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, deduper: deduper, cfg: cfg, logger: logger}
}

// Register mounts the routes. The credentialed group covers everything a
// client calls directly; webhook and action-link routes authenticate by
// shared secret and link signature instead.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAPIKey(h.cfg.APIKeys, h.logger))
		r.Post("/v1/approvals", h.handleCreate)
		r.Get("/v1/approvals/{approvalID}", h.handleStatus)
		r.Post("/v1/inbox/email-reply", h.handleEmailReply)
		r.Delete("/v1/allow-rules/{ruleID}", h.handleRevokeRule)
	})
	r.Post("/v1/inbox/telegram", h.handleTelegramWebhook)
	r.Get("/v1/action/{approvalID}/{action}", h.handleActionLink)
}

func serviceCreateParams(req CreateApprovalRequest) service.CreateParams {
	return service.CreateParams{
		SessionID:    req.SessionID,
		ActionType:   req.ActionType,
		Title:        req.Title,
		Preview:      req.Preview,
		Channel:      approval.Channel(req.Channel),
		Target:       approval.Target{TgChatID: req.Target["tg_chat_id"], EmailTo: req.Target["email_to"]},
		ExpiresInSec: req.ExpiresInSec,
		Options:      req.Options,
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	a, auto, err := h.svc.Create(ctx, serviceCreateParams(req))
	if err != nil {
		h.logWarn(ctx, "create approval rejected", err)
		shared.WriteError(w, err)
		return
	}

	resp := CreateApprovalResponse{
		ApprovalID: a.ApprovalID,
		Status:     string(a.Status),
		Auto:       auto,
	}
	if auto {
		resp.Decision = decisionPayload(a)
	} else {
		expiresAt := a.ExpiresAt.Unix()
		resp.ExpiresAt = &expiresAt
	}
	shared.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := h.svc.Get(ctx, chi.URLParam(r, "approvalID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	resp := StatusResponse{
		Status:    string(a.Status),
		ExpiresAt: a.ExpiresAt.Unix(),
	}
	if a.Status != approval.StatusPending {
		resp.Decision = decisionPayload(a)
		resp.SessionID = a.SessionID
		resp.ActionType = a.ActionType
	}
	shared.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleEmailReply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EmailReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	a, err := h.svc.IngestEmailReply(ctx, req.Subject, req.Body)
	if err != nil {
		h.logWarn(ctx, "email reply rejected", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, ReplyResponse{
		Status:     string(a.Status),
		ApprovalID: a.ApprovalID,
	})
}

func (h *Handler) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if secret := h.cfg.Telegram.WebhookSecret; secret != "" {
		got := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			h.logger.WarnContext(ctx, "telegram webhook secret mismatch",
				"request_id", requestcontext.RequestID(ctx),
			)
			shared.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid webhook secret"))
			return
		}
	}

	var update telegramUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid update body"))
		return
	}

	var (
		a   *approval.Approval
		err error
	)
	switch {
	case update.CallbackQuery != nil:
		a, err = h.svc.IngestTelegramCallback(ctx, h.deduper, update.UpdateID, update.CallbackQuery.Data)
	case update.Message != nil && update.Message.ReplyToMessage != nil:
		approvalID := emailchannel.ExtractApprovalID(update.Message.ReplyToMessage.Text)
		if approvalID == "" {
			shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "approval_id not found"))
			return
		}
		a, err = h.svc.IngestTelegramText(ctx, approvalID, update.Message.Text)
	default:
		// Updates we don't consume (joins, edits) are acknowledged so the
		// Bot API stops redelivering them.
		shared.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	if err != nil {
		h.logWarn(ctx, "telegram update rejected", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, ReplyResponse{
		Status:     string(a.Status),
		ApprovalID: a.ApprovalID,
	})
}

func (h *Handler) handleActionLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	approvalID := chi.URLParam(r, "approvalID")
	action := chi.URLParam(r, "action")

	if key := h.cfg.ActionSignKey; key != "" {
		sig := r.URL.Query().Get("sig")
		if sig == "" || !emailchannel.VerifyAction(approvalID, action, sig, key) {
			h.logger.WarnContext(ctx, "action link signature rejected",
				"request_id", requestcontext.RequestID(ctx),
				"approval_id", approvalID,
			)
			shared.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid signature"))
			return
		}
	}

	a, err := h.svc.IngestAction(ctx, approvalID, action)
	if err != nil {
		h.logWarn(ctx, "action link rejected", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, ReplyResponse{
		Status:     string(a.Status),
		ApprovalID: a.ApprovalID,
	})
}

func (h *Handler) handleRevokeRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rule, err := h.svc.RevokeAllowRule(ctx, chi.URLParam(r, "ruleID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, RevokeRuleResponse{
		RuleID:     rule.RuleID,
		Status:     "revoked",
		ClientID:   requestcontext.ClientID(ctx),
		ActionType: rule.ActionType,
	})
}

func (h *Handler) logWarn(ctx context.Context, msg string, err error) {
	h.logger.WarnContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err.Error(),
	)
}
