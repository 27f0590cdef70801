package service

import (
	"context"
	"strings"

	"approvalgate/internal/approval"
	"approvalgate/internal/approval/decision"
	"approvalgate/internal/channel/email"
	"approvalgate/internal/channel/telegram"
	dErrors "approvalgate/pkg/domain-errors"
)

// Reply ingestion: the paths that turn raw channel input into an applied
// decision. Each path runs the channel's preprocessor, the shared decision
// grammar, then ApplyDecision.

// IngestEmailReply resolves the approval from an email-shaped reply (subject
// checked before body), strips quoted history, parses the decision, and
// applies it. The caller's credential scopes the lookup.
func (s *Service) IngestEmailReply(ctx context.Context, subject, body string) (*approval.Approval, error) {
	approvalID := email.ExtractApprovalID(subject)
	if approvalID == "" {
		approvalID = email.ExtractApprovalID(body)
	}
	if approvalID == "" {
		s.countRejected("approval_id_not_found")
		return nil, dErrors.New(dErrors.CodeInvalidInput, "approval_id not found")
	}

	replyText := email.TruncateReply(body)
	if replyText == "" {
		s.countRejected("empty_reply")
		return nil, dErrors.New(dErrors.CodeUnparsable, "empty reply")
	}
	d, err := decision.Parse(replyText)
	if err != nil {
		s.countRejected("parse_error")
		return nil, err
	}

	// Ownership check up front: the email inbox endpoint is credentialed,
	// unlike button callbacks.
	if _, err := s.getOwned(ctx, approvalID); err != nil {
		return nil, err
	}
	return s.ApplyDecision(ctx, approvalID, d)
}

// IngestTelegramCallback handles an inline button press. Duplicate webhook
// deliveries are dropped by the dedupe cache before the decision path runs;
// a duplicate that slips through still resolves to Conflict at the store.
func (s *Service) IngestTelegramCallback(ctx context.Context, deduper telegram.Deduper, updateID int64, data string) (*approval.Approval, error) {
	if deduper != nil {
		seen, err := deduper.Seen(ctx, updateID)
		if err != nil {
			s.logger.WarnContext(ctx, "webhook dedupe unavailable",
				"update_id", updateID,
				"error", err.Error(),
			)
		} else if seen {
			s.countDuplicate()
			return nil, dErrors.New(dErrors.CodeConflict, "duplicate webhook delivery")
		}
	}

	cb, err := telegram.ParseCallback(data)
	if err != nil {
		return nil, err
	}
	if cb.Custom {
		// The custom button expects the human to reply with free text,
		// which arrives as a normal message and goes through
		// IngestTelegramText.
		return nil, dErrors.New(dErrors.CodeInvalidInput, "custom reply required")
	}

	var d decision.Decision
	if cb.OptionLetter != "" {
		a, err := s.store.FindByID(ctx, cb.ApprovalID)
		if err != nil {
			return nil, dErrors.New(dErrors.CodeNotFound, "approval not found")
		}
		d = decision.Decision{Code: decision.CodeAllowNote, Note: a.OptionLabel(cb.OptionLetter)}
	} else {
		d, err = decision.Parse(cb.Code)
		if err != nil {
			return nil, err
		}
	}
	return s.ApplyDecision(ctx, cb.ApprovalID, d)
}

// IngestTelegramText handles a free-form reply message referencing an
// approval, the follow-up path for custom replies.
func (s *Service) IngestTelegramText(ctx context.Context, approvalID, text string) (*approval.Approval, error) {
	d, err := decision.Parse(text)
	if err != nil {
		s.countRejected("parse_error")
		return nil, err
	}
	return s.ApplyDecision(ctx, approvalID, d)
}

// IngestAction handles a one-click email action link. Signature verification
// is the transport's job; by the time this runs the link is trusted.
func (s *Service) IngestAction(ctx context.Context, approvalID, action string) (*approval.Approval, error) {
	if code, ok := email.ActionCode[action]; ok {
		return s.ApplyDecision(ctx, approvalID, decision.Decision{Code: code})
	}
	if letter, ok := strings.CutPrefix(action, "option_"); ok && letter != "" {
		a, err := s.store.FindByID(ctx, approvalID)
		if err != nil {
			return nil, dErrors.New(dErrors.CodeNotFound, "approval not found")
		}
		d := decision.Decision{Code: decision.CodeAllowNote, Note: a.OptionLabel(letter)}
		return s.ApplyDecision(ctx, approvalID, d)
	}
	return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid action")
}

func (s *Service) countRejected(reason string) {
	if s.metrics != nil {
		s.metrics.RepliesRejected.WithLabelValues(reason).Inc()
	}
}

func (s *Service) countDuplicate() {
	if s.metrics != nil {
		s.metrics.WebhookDuplicates.Inc()
	}
}
