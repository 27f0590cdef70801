// Package rules resolves standing auto-approval rules at approval creation
// time. Resolution happens once, before the approval row is persisted; a rule
// created afterwards never affects an already-pending approval.
package rules

import (
	"context"
	"errors"
	"fmt"

	"approvalgate/internal/approval"
	"approvalgate/pkg/platform/sentinel"
)

// Store is the read surface the resolver needs.
type Store interface {
	FindEnabledAllowRule(ctx context.Context, clientID, actionType string) (*approval.AllowRule, error)
	FindSessionAllow(ctx context.Context, clientID, sessionID, actionType string) (*approval.SessionAllow, error)
}

// Match names which kind of rule resolved, if any.
type Match int

const (
	MatchNone Match = iota
	MatchAllowRule
	MatchSessionAllow
)

// Resolution is the outcome of a lookup. Rule is set only for MatchAllowRule.
type Resolution struct {
	Match Match
	Rule  *approval.AllowRule
}

// Resolver looks up standing rules for a (client, session, action type) scope.
type Resolver struct {
	store Store
}

func New(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve applies the fixed precedence: an enabled AllowRule for
// (client, actionType) wins over a SessionAllow for (client, session,
// actionType); absence of both leaves the request pending. The ordering is a
// design constant, not re-derived per call.
func (r *Resolver) Resolve(ctx context.Context, clientID, sessionID, actionType string) (Resolution, error) {
	rule, err := r.store.FindEnabledAllowRule(ctx, clientID, actionType)
	if err == nil {
		return Resolution{Match: MatchAllowRule, Rule: rule}, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return Resolution{}, fmt.Errorf("resolve allow rule: %w", err)
	}

	_, err = r.store.FindSessionAllow(ctx, clientID, sessionID, actionType)
	if err == nil {
		return Resolution{Match: MatchSessionAllow}, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return Resolution{}, fmt.Errorf("resolve session allow: %w", err)
	}

	return Resolution{Match: MatchNone}, nil
}
