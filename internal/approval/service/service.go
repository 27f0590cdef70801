// Package service is the approval lifecycle engine: it orchestrates
// creation, lazy expiry, and decision application over the store, using the
// rule resolver at creation time and the decision grammar on replies. It is
// the only component with concurrency obligations; those are delegated to the
// store's compare-and-set transition.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"approvalgate/internal/approval"
	"approvalgate/internal/approval/decision"
	"approvalgate/internal/approval/rules"
	"approvalgate/internal/approval/store"
	"approvalgate/internal/audit"
	"approvalgate/internal/channel"
	"approvalgate/internal/platform/metrics"
	dErrors "approvalgate/pkg/domain-errors"
	"approvalgate/pkg/platform/sentinel"
	"approvalgate/pkg/requestcontext"
)

// DefaultTTL applies when a create request carries no expiry.
const DefaultTTL = 600 * time.Second

// Service is the lifecycle engine.
type Service struct {
	store    store.Store
	resolver *rules.Resolver
	senders  channel.Registry
	audit    *audit.Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(st store.Store, senders channel.Registry, auditPub *audit.Publisher, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		store:    st,
		resolver: rules.New(st),
		senders:  senders,
		audit:    auditPub,
		metrics:  m,
		logger:   logger,
	}
}

// CreateParams is the input to Create. ClientID comes from the request
// context, not from the caller.
type CreateParams struct {
	SessionID  string
	ActionType string
	Title      string
	Preview    string
	Channel    approval.Channel
	Target     approval.Target
	// ExpiresInSec nil means "not supplied": DefaultTTL applies. A supplied
	// value below 1, zero included, is rejected.
	ExpiresInSec *int
	Options      []string
}

// Create validates, resolves standing rules, and persists the approval. When
// an enabled AllowRule matches, the row is persisted already approved with
// code "6" and the rule back-reference; a SessionAllow match approves with
// code "2". Otherwise the approval is pending and the human is notified.
// Resolution happens exactly once, here: rules created later never affect an
// already-pending approval.
func (s *Service) Create(ctx context.Context, p CreateParams) (*approval.Approval, bool, error) {
	clientID := requestcontext.ClientID(ctx)
	if clientID == "" {
		return nil, false, dErrors.New(dErrors.CodeUnauthorized, "missing client identity")
	}
	if p.SessionID == "" {
		return nil, false, dErrors.New(dErrors.CodeInvalidInput, "session_id required")
	}
	if p.ActionType == "" {
		return nil, false, dErrors.New(dErrors.CodeInvalidInput, "action_type required")
	}
	ttl := DefaultTTL
	if p.ExpiresInSec != nil {
		if *p.ExpiresInSec < 1 {
			return nil, false, dErrors.New(dErrors.CodeInvalidInput, "expires_in_sec must be >= 1")
		}
		ttl = time.Duration(*p.ExpiresInSec) * time.Second
	}
	target, err := approval.ValidateTarget(p.Channel, p.Target)
	if err != nil {
		return nil, false, err
	}

	now := requestcontext.Now(ctx)
	resolution, err := s.resolver.Resolve(ctx, clientID, p.SessionID, p.ActionType)
	if err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "rule resolution failed")
	}

	a := &approval.Approval{
		ApprovalID: approval.NewApprovalID(),
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		Status:     approval.StatusPending,
		SessionID:  p.SessionID,
		ActionType: p.ActionType,
		Title:      p.Title,
		Preview:    p.Preview,
		Channel:    p.Channel,
		Target:     target,
		Options:    p.Options,
		ClientID:   clientID,
	}

	auto := false
	switch resolution.Match {
	case rules.MatchAllowRule:
		a.Status = approval.StatusApproved
		a.DecisionCode = decision.CodeAlwaysAllow
		a.AllowRuleApplied = resolution.Rule.RuleID
		auto = true
	case rules.MatchSessionAllow:
		a.Status = approval.StatusApproved
		a.DecisionCode = decision.CodeAllowSession
		auto = true
	}

	if err := s.store.Create(ctx, a); err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create approval")
	}

	s.countCreated(string(p.Channel))
	if auto {
		s.countAuto(resolution.Match)
		s.emit(ctx, audit.Event{
			ClientID:   clientID,
			ApprovalID: a.ApprovalID,
			Action:     audit.ActionAutoApproved,
			ActionType: a.ActionType,
			Decision:   a.DecisionCode,
			RuleID:     a.AllowRuleApplied,
		})
		return a, true, nil
	}

	s.emit(ctx, audit.Event{
		ClientID:   clientID,
		ApprovalID: a.ApprovalID,
		Action:     audit.ActionCreated,
		ActionType: a.ActionType,
	})

	// Notification happens after the approval is durably created and outside
	// any transaction. Delivery is best-effort: a send failure never rolls
	// back or alters the persisted state.
	s.notify(ctx, a)

	return a, false, nil
}

func (s *Service) notify(ctx context.Context, a *approval.Approval) {
	sender, err := s.senders.For(a.Channel)
	if err != nil {
		s.logger.ErrorContext(ctx, "no sender for channel",
			"approval_id", a.ApprovalID,
			"channel", string(a.Channel),
		)
		return
	}
	if len(a.Options) > 0 {
		err = sender.SendQuestion(ctx, a, a.Options)
	} else {
		err = sender.SendApproval(ctx, a)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "notification delivery failed",
			"approval_id", a.ApprovalID,
			"channel", string(a.Channel),
			"error", err.Error(),
		)
	}
}

// Get fetches an approval scoped to the calling client and runs the lazy
// expiry check. Unknown ids and ids owned by another client both come back
// NotFound so existence never leaks.
func (s *Service) Get(ctx context.Context, approvalID string) (*approval.Approval, error) {
	a, err := s.getOwned(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	return s.checkExpiry(ctx, a)
}

func (s *Service) getOwned(ctx context.Context, approvalID string) (*approval.Approval, error) {
	clientID := requestcontext.ClientID(ctx)
	if clientID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing client identity")
	}
	a, err := s.store.FindByID(ctx, approvalID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "approval not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval")
	}
	if a.ClientID != clientID {
		return nil, dErrors.New(dErrors.CodeNotFound, "approval not found")
	}
	return a, nil
}

// checkExpiry is the only mechanism that ever sets expired: a pull-model
// check run on read and on decision application. There is no background
// sweep; an expired-but-unaccessed approval reads pending until next access.
func (s *Service) checkExpiry(ctx context.Context, a *approval.Approval) (*approval.Approval, error) {
	now := requestcontext.Now(ctx)
	if a.Status != approval.StatusPending || !a.Expired(now) {
		return a, nil
	}
	expired, err := s.store.MarkExpired(ctx, a.ApprovalID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire approval")
	}
	if expired.Status == approval.StatusExpired {
		s.countExpired()
		s.emit(ctx, audit.Event{
			ClientID:   a.ClientID,
			ApprovalID: a.ApprovalID,
			Action:     audit.ActionExpired,
			ActionType: a.ActionType,
		})
	}
	return expired, nil
}

// ApplyDecision applies a parsed human decision to an approval. Precondition
// order: expiry preempts decision application, then the first decision wins.
// The store transition is a compare-and-set, so exactly one of N concurrent
// calls succeeds; the rest observe Conflict.
//
// Resolution is unscoped by design: channel callbacks (button taps, signed
// links) carry no client credential. Credentialed ingestion paths check
// ownership before calling this.
func (s *Service) ApplyDecision(ctx context.Context, approvalID string, d decision.Decision) (*approval.Approval, error) {
	a, err := s.store.FindByID(ctx, approvalID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "approval not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval")
	}

	now := requestcontext.Now(ctx)
	if a.Status == approval.StatusPending && a.Expired(now) {
		if _, expErr := s.checkExpiry(ctx, a); expErr != nil {
			return nil, expErr
		}
		return nil, dErrors.New(dErrors.CodeExpired, "approval expired")
	}
	if a.Status == approval.StatusExpired {
		return nil, dErrors.New(dErrors.CodeExpired, "approval expired")
	}
	if a.Status != approval.StatusPending {
		return nil, dErrors.New(dErrors.CodeConflict, "approval not pending")
	}

	to := approval.StatusApproved
	if d.Deny() {
		to = approval.StatusDenied
	}

	updated, err := s.store.TransitionDecision(ctx, approvalID, to, d.Code, d.Note, d.Override)
	if errors.Is(err, sentinel.ErrConflict) {
		// Lost the race: another decision or the lazy expiry got there first.
		current, findErr := s.store.FindByID(ctx, approvalID)
		if findErr == nil && current.Status == approval.StatusExpired {
			return nil, dErrors.New(dErrors.CodeExpired, "approval expired")
		}
		return nil, dErrors.New(dErrors.CodeConflict, "approval not pending")
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "approval not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply decision")
	}

	// Side effects run only on the winning attempt. Rule creation after the
	// transition keeps a losing concurrent decision from minting rules. The
	// decided state is authoritative: once the CAS flipped the row, a rule
	// creation failure is logged and the decision still returned, because
	// failing here would leave the caller with a 500 and retries with
	// Conflict while the approval is already terminal. The human can re-issue
	// the code on a later approval to mint the rule.
	switch d.Code {
	case decision.CodeAllowSession:
		if _, err := s.store.EnsureSessionAllow(ctx, updated.ClientID, updated.SessionID, updated.ActionType, now); err != nil {
			s.logger.ErrorContext(ctx, "session allow creation failed",
				"approval_id", updated.ApprovalID,
				"error", err.Error(),
			)
		}
	case decision.CodeAlwaysAllow:
		rule, err := s.store.EnsureAllowRule(ctx, approval.NewRuleID(), updated.ClientID, updated.ActionType, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "allow rule creation failed",
				"approval_id", updated.ApprovalID,
				"error", err.Error(),
			)
			break
		}
		if err := s.store.SetAllowRuleApplied(ctx, updated.ApprovalID, rule.RuleID); err != nil {
			s.logger.ErrorContext(ctx, "allow rule back-reference failed",
				"approval_id", updated.ApprovalID,
				"rule_id", rule.RuleID,
				"error", err.Error(),
			)
			break
		}
		updated.AllowRuleApplied = rule.RuleID
	}

	s.countDecision(d.Code)
	s.emit(ctx, audit.Event{
		ClientID:   updated.ClientID,
		ApprovalID: updated.ApprovalID,
		Action:     audit.ActionDecided,
		ActionType: updated.ActionType,
		Decision:   d.Code,
		RuleID:     updated.AllowRuleApplied,
	})
	return updated, nil
}

// RevokeAllowRule disables a standing rule. Missing rules and rules owned by
// a different client both fail NotFound: an ownership check, not a generic
// forbidden, to avoid existence leakage.
func (s *Service) RevokeAllowRule(ctx context.Context, ruleID string) (*approval.AllowRule, error) {
	clientID := requestcontext.ClientID(ctx)
	if clientID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing client identity")
	}
	rule, err := s.store.FindAllowRuleByID(ctx, ruleID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "rule not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load rule")
	}
	if rule.ClientID != clientID {
		return nil, dErrors.New(dErrors.CodeNotFound, "rule not found")
	}

	disabled, err := s.store.DisableAllowRule(ctx, ruleID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to disable rule")
	}
	s.emit(ctx, audit.Event{
		ClientID: clientID,
		Action:   audit.ActionRuleRevoked,
		RuleID:   ruleID,
	})
	return disabled, nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit != nil {
		event.Timestamp = requestcontext.Now(ctx)
		s.audit.Emit(ctx, event)
	}
}

func (s *Service) countCreated(channelTag string) {
	if s.metrics != nil {
		s.metrics.ApprovalsCreated.WithLabelValues(channelTag).Inc()
	}
}

func (s *Service) countAuto(match rules.Match) {
	if s.metrics == nil {
		return
	}
	kind := "session_allow"
	if match == rules.MatchAllowRule {
		kind = "allow_rule"
	}
	s.metrics.ApprovalsAuto.WithLabelValues(kind).Inc()
}

func (s *Service) countDecision(code string) {
	if s.metrics != nil {
		s.metrics.DecisionsApplied.WithLabelValues(code).Inc()
	}
}

func (s *Service) countExpired() {
	if s.metrics != nil {
		s.metrics.ApprovalsExpired.Inc()
	}
}
