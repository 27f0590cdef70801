package store

import (
	"context"
	"sync"
	"time"

	"approvalgate/internal/approval"
	"approvalgate/pkg/platform/sentinel"
)

// MemoryStore is the mutex-guarded in-memory implementation. The single lock
// across all three entity maps is what makes TransitionDecision a true
// compare-and-set: status check and mutation happen under the same critical
// section.
type MemoryStore struct {
	mu            sync.RWMutex
	approvals     map[string]*approval.Approval
	allowRules    map[string]*approval.AllowRule
	sessionAllows map[sessionAllowKey]*approval.SessionAllow
}

type sessionAllowKey struct {
	clientID   string
	sessionID  string
	actionType string
}

var _ Store = (*MemoryStore)(nil)

func NewMemory() *MemoryStore {
	return &MemoryStore{
		approvals:     make(map[string]*approval.Approval),
		allowRules:    make(map[string]*approval.AllowRule),
		sessionAllows: make(map[sessionAllowKey]*approval.SessionAllow),
	}
}

func (s *MemoryStore) Create(ctx context.Context, a *approval.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.approvals[a.ApprovalID]; exists {
		return sentinel.ErrConflict
	}
	clone := cloneApproval(a)
	s.approvals[a.ApprovalID] = clone
	return nil
}

func (s *MemoryStore) FindByID(ctx context.Context, approvalID string) (*approval.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.approvals[approvalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneApproval(a), nil
}

func (s *MemoryStore) TransitionDecision(ctx context.Context, approvalID string, to approval.Status, code, note, override string) (*approval.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[approvalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if a.Status != approval.StatusPending {
		return nil, sentinel.ErrConflict
	}
	a.Status = to
	a.DecisionCode = code
	a.DecisionNote = note
	a.DecisionOverride = override
	return cloneApproval(a), nil
}

func (s *MemoryStore) MarkExpired(ctx context.Context, approvalID string) (*approval.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[approvalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if a.Status == approval.StatusPending {
		a.Status = approval.StatusExpired
	}
	return cloneApproval(a), nil
}

func (s *MemoryStore) SetAllowRuleApplied(ctx context.Context, approvalID, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[approvalID]
	if !ok {
		return sentinel.ErrNotFound
	}
	a.AllowRuleApplied = ruleID
	return nil
}

func (s *MemoryStore) FindEnabledAllowRule(ctx context.Context, clientID, actionType string) (*approval.AllowRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rule := range s.allowRules {
		if rule.ClientID == clientID && rule.ActionType == actionType && rule.Enabled {
			clone := *rule
			return &clone, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) FindAllowRuleByID(ctx context.Context, ruleID string) (*approval.AllowRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.allowRules[ruleID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *rule
	return &clone, nil
}

func (s *MemoryStore) EnsureAllowRule(ctx context.Context, ruleID, clientID, actionType string, now time.Time) (*approval.AllowRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// At most one row per (client, actionType): re-enable rather than duplicate.
	for _, rule := range s.allowRules {
		if rule.ClientID == clientID && rule.ActionType == actionType {
			rule.Enabled = true
			clone := *rule
			return &clone, nil
		}
	}
	rule := &approval.AllowRule{
		RuleID:     ruleID,
		ClientID:   clientID,
		ActionType: actionType,
		Enabled:    true,
		CreatedAt:  now,
	}
	s.allowRules[ruleID] = rule
	clone := *rule
	return &clone, nil
}

func (s *MemoryStore) DisableAllowRule(ctx context.Context, ruleID string) (*approval.AllowRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.allowRules[ruleID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	rule.Enabled = false
	clone := *rule
	return &clone, nil
}

func (s *MemoryStore) FindSessionAllow(ctx context.Context, clientID, sessionID, actionType string) (*approval.SessionAllow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sa, ok := s.sessionAllows[sessionAllowKey{clientID, sessionID, actionType}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *sa
	return &clone, nil
}

func (s *MemoryStore) EnsureSessionAllow(ctx context.Context, clientID, sessionID, actionType string, now time.Time) (*approval.SessionAllow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionAllowKey{clientID, sessionID, actionType}
	if sa, ok := s.sessionAllows[key]; ok {
		clone := *sa
		return &clone, nil
	}
	sa := &approval.SessionAllow{
		SessionID:  sessionID,
		ClientID:   clientID,
		ActionType: actionType,
		CreatedAt:  now,
	}
	s.sessionAllows[key] = sa
	clone := *sa
	return &clone, nil
}

func cloneApproval(a *approval.Approval) *approval.Approval {
	clone := *a
	if a.Options != nil {
		clone.Options = append([]string(nil), a.Options...)
	}
	return &clone
}
