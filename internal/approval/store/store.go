// Package store persists approvals and standing auto-approval rules. Two
// implementations exist: an in-memory store for development and tests, and a
// Postgres store for real deployments. Both enforce the same invariants: the
// pending→terminal transition is atomic (exactly one concurrent writer wins)
// and rule rows are unique per scope.
package store

import (
	"context"
	"time"

	"approvalgate/internal/approval"
)

// ApprovalStore persists approvals. Rows are append-only from the caller's
// point of view: Create inserts, the two transition methods are the only
// mutations, and nothing deletes.
type ApprovalStore interface {
	Create(ctx context.Context, a *approval.Approval) error
	// FindByID returns sentinel.ErrNotFound for unknown ids. Ownership is
	// checked by the service, not here, so channel callbacks that carry no
	// credential can still resolve an approval.
	FindByID(ctx context.Context, approvalID string) (*approval.Approval, error)
	// TransitionDecision atomically moves a pending approval to the given
	// terminal status, recording the decision fields. Returns
	// sentinel.ErrConflict when the approval is no longer pending: exactly
	// one of N concurrent callers succeeds.
	TransitionDecision(ctx context.Context, approvalID string, to approval.Status, code, note, override string) (*approval.Approval, error)
	// MarkExpired moves a pending approval to expired. When the approval is
	// already terminal the current row is returned unchanged; the lazy
	// expiry check is idempotent by design.
	MarkExpired(ctx context.Context, approvalID string) (*approval.Approval, error)
	// SetAllowRuleApplied records the rule back-reference after a code-6
	// decision ensured the rule exists.
	SetAllowRuleApplied(ctx context.Context, approvalID, ruleID string) error
}

// RuleStore persists AllowRules and SessionAllows.
type RuleStore interface {
	// FindEnabledAllowRule returns sentinel.ErrNotFound when no enabled rule
	// matches (client, actionType).
	FindEnabledAllowRule(ctx context.Context, clientID, actionType string) (*approval.AllowRule, error)
	FindAllowRuleByID(ctx context.Context, ruleID string) (*approval.AllowRule, error)
	// EnsureAllowRule creates the (client, actionType) rule, re-enables a
	// disabled one, or returns the enabled one as-is. ruleID is used only
	// when a new row is inserted.
	EnsureAllowRule(ctx context.Context, ruleID, clientID, actionType string, now time.Time) (*approval.AllowRule, error)
	DisableAllowRule(ctx context.Context, ruleID string) (*approval.AllowRule, error)
	// FindSessionAllow returns sentinel.ErrNotFound when no row matches.
	FindSessionAllow(ctx context.Context, clientID, sessionID, actionType string) (*approval.SessionAllow, error)
	// EnsureSessionAllow creates the row idempotently.
	EnsureSessionAllow(ctx context.Context, clientID, sessionID, actionType string, now time.Time) (*approval.SessionAllow, error)
}

// Store is the full persistence surface the lifecycle service needs.
type Store interface {
	ApprovalStore
	RuleStore
}
