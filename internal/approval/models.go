// Package approval holds the domain model for the approval gate: one
// Approval per gated action, plus the standing auto-approval rules that can
// short-circuit future requests.
package approval

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	dErrors "approvalgate/pkg/domain-errors"
)

// Status tracks the approval lifecycle. pending is the only non-terminal
// state; every transition out of it is final.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusDenied || s == StatusExpired
}

// Channel is the delivery medium used to reach a human.
type Channel string

const (
	ChannelTelegram Channel = "telegram"
	ChannelEmail    Channel = "email"
)

// Target is the channel-specific delivery address. Exactly one field is set,
// matching the channel.
type Target struct {
	TgChatID string `json:"tg_chat_id,omitempty"`
	EmailTo  string `json:"email_to,omitempty"`
}

// ValidateTarget checks that the target carries the address the channel
// needs. Runs before anything is persisted.
func ValidateTarget(channel Channel, target Target) (Target, error) {
	switch channel {
	case ChannelTelegram:
		if target.TgChatID == "" {
			return Target{}, dErrors.New(dErrors.CodeInvalidInput, "target.tg_chat_id required")
		}
		return Target{TgChatID: target.TgChatID}, nil
	case ChannelEmail:
		if target.EmailTo == "" {
			return Target{}, dErrors.New(dErrors.CodeInvalidInput, "target.email_to required")
		}
		return Target{EmailTo: target.EmailTo}, nil
	default:
		return Target{}, dErrors.New(dErrors.CodeInvalidInput, "invalid channel")
	}
}

// Approval is one request for human sign-off. Rows are append-only: an
// approval is created pending (or already approved when a standing rule
// matched) and mutated exactly once afterwards, by decision application or
// lazy expiry.
type Approval struct {
	ApprovalID string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Status     Status

	SessionID  string
	ActionType string
	Title      string
	Preview    string

	// Decision fields are populated iff Status != pending.
	DecisionCode     string
	DecisionNote     string
	DecisionOverride string

	Channel Channel
	Target  Target
	// Options holds the ordered choice labels for question-style approvals.
	// Needed to resolve an "opt:<letter>" button press back to its label.
	Options []string

	ClientID string
	// AllowRuleApplied references the AllowRule that auto-approved this
	// request, when one did.
	AllowRuleApplied string
}

// Expired reports whether the approval's deadline has passed at the given
// observation time. It does not look at Status: callers combine it with the
// pending check to run the lazy transition.
func (a *Approval) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// OptionLabel resolves a button letter (A, B, ...) to the option it names.
// Returns the letter itself when the approval has no matching option, so a
// stale button press still records something legible.
func (a *Approval) OptionLabel(letter string) string {
	if len(letter) == 1 {
		idx := int(letter[0]) - 'A'
		if idx >= 0 && idx < len(a.Options) {
			return a.Options[idx]
		}
	}
	return letter
}

// AllowRule is a standing, client-and-action-type-scoped auto-approval
// switch. Disabling is a soft revoke: the row persists with Enabled=false and
// re-creating it flips Enabled back on rather than duplicating.
type AllowRule struct {
	RuleID     string
	ClientID   string
	ActionType string
	Enabled    bool
	CreatedAt  time.Time
}

// SessionAllow auto-approves future matching requests within one session.
// Created idempotently; at most one row per (client, session, action type).
type SessionAllow struct {
	SessionID  string
	ClientID   string
	ActionType string
	CreatedAt  time.Time
}

// NewApprovalID mints an approval identifier: "appr_" + 32 hex chars.
func NewApprovalID() string {
	return "appr_" + newHexID()
}

// NewRuleID mints a rule identifier: "rule_" + 32 hex chars.
func NewRuleID() string {
	return "rule_" + newHexID()
}

func newHexID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
