package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"approvalgate/internal/approval"
	"approvalgate/internal/approval/decision"
	"approvalgate/internal/approval/store"
	"approvalgate/internal/channel"
	"approvalgate/internal/platform/logger"
	dErrors "approvalgate/pkg/domain-errors"
	"approvalgate/pkg/requestcontext"
)

// recordingSender captures delivery calls instead of sending anything.
type recordingSender struct {
	mu        sync.Mutex
	approvals []string
	questions []string
	fail      bool
}

func (r *recordingSender) SendApproval(ctx context.Context, a *approval.Approval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("delivery failed")
	}
	r.approvals = append(r.approvals, a.ApprovalID)
	return nil
}

func (r *recordingSender) SendQuestion(ctx context.Context, a *approval.Approval, options []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("delivery failed")
	}
	r.questions = append(r.questions, a.ApprovalID)
	return nil
}

// ruleFailingStore fails every rule write so decision side effects cannot
// land, while approvals themselves persist normally.
type ruleFailingStore struct {
	*store.MemoryStore
}

func (f *ruleFailingStore) EnsureAllowRule(ctx context.Context, ruleID, clientID, actionType string, now time.Time) (*approval.AllowRule, error) {
	return nil, errors.New("rule store down")
}

func (f *ruleFailingStore) EnsureSessionAllow(ctx context.Context, clientID, sessionID, actionType string, now time.Time) (*approval.SessionAllow, error) {
	return nil, errors.New("rule store down")
}

type ServiceSuite struct {
	suite.Suite
	store  *store.MemoryStore
	sender *recordingSender
	svc    *Service
	ctx    context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewMemory()
	s.sender = &recordingSender{}
	senders := channel.Registry{
		approval.ChannelTelegram: s.sender,
		approval.ChannelEmail:    s.sender,
	}
	s.svc = New(s.store, senders, nil, nil, logger.NewNop())
	s.ctx = requestcontext.WithClientID(context.Background(), "client-a")
}

func intPtr(n int) *int { return &n }

func (s *ServiceSuite) params() CreateParams {
	return CreateParams{
		SessionID:  "sess-1",
		ActionType: "exec_cmd",
		Title:      "Run command",
		Preview:    "npm test",
		Channel:    approval.ChannelTelegram,
		Target:     approval.Target{TgChatID: "42"},
	}
}

func (s *ServiceSuite) TestCreatePending() {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(s.ctx, now)

	a, auto, err := s.svc.Create(ctx, s.params())
	s.Require().NoError(err)
	s.False(auto)
	s.Equal(approval.StatusPending, a.Status)
	s.Equal("client-a", a.ClientID)
	s.Equal(now.Add(DefaultTTL), a.ExpiresAt)
	s.Empty(a.DecisionCode)

	s.Run("notification sent after persistence", func() {
		s.Equal([]string{a.ApprovalID}, s.sender.approvals)
	})

	s.Run("custom ttl", func() {
		p := s.params()
		p.ExpiresInSec = intPtr(60)
		b, _, err := s.svc.Create(ctx, p)
		s.Require().NoError(err)
		s.Equal(now.Add(time.Minute), b.ExpiresAt)
	})

	s.Run("options route to question delivery", func() {
		p := s.params()
		p.Options = []string{"Use npm", "Use yarn"}
		c, _, err := s.svc.Create(ctx, p)
		s.Require().NoError(err)
		s.Contains(s.sender.questions, c.ApprovalID)
	})

	s.Run("delivery failure does not roll back", func() {
		s.sender.fail = true
		d, _, err := s.svc.Create(ctx, s.params())
		s.Require().NoError(err)
		s.sender.fail = false

		kept, err := s.svc.Get(ctx, d.ApprovalID)
		s.Require().NoError(err)
		s.Equal(approval.StatusPending, kept.Status)
	})
}

func (s *ServiceSuite) TestCreateValidation() {
	cases := []struct {
		name   string
		mutate func(*CreateParams)
		code   dErrors.Code
	}{
		{"missing session", func(p *CreateParams) { p.SessionID = "" }, dErrors.CodeInvalidInput},
		{"missing action type", func(p *CreateParams) { p.ActionType = "" }, dErrors.CodeInvalidInput},
		{"negative ttl", func(p *CreateParams) { p.ExpiresInSec = intPtr(-1) }, dErrors.CodeInvalidInput},
		{"zero ttl", func(p *CreateParams) { p.ExpiresInSec = intPtr(0) }, dErrors.CodeInvalidInput},
		{"unknown channel", func(p *CreateParams) { p.Channel = "carrier_pigeon" }, dErrors.CodeInvalidInput},
		{"telegram without chat id", func(p *CreateParams) { p.Target = approval.Target{} }, dErrors.CodeInvalidInput},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			p := s.params()
			tc.mutate(&p)
			_, _, err := s.svc.Create(s.ctx, p)
			s.True(dErrors.HasCode(err, tc.code))
		})
	}

	s.Run("missing client identity", func() {
		_, _, err := s.svc.Create(context.Background(), s.params())
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *ServiceSuite) TestAutoApproval() {
	now := time.Now().UTC()

	s.Run("allow rule approves with code 6 and back-reference", func() {
		rule, err := s.store.EnsureAllowRule(s.ctx, approval.NewRuleID(), "client-a", "exec_cmd", now)
		s.Require().NoError(err)

		a, auto, err := s.svc.Create(s.ctx, s.params())
		s.Require().NoError(err)
		s.True(auto)
		s.Equal(approval.StatusApproved, a.Status)
		s.Equal(decision.CodeAlwaysAllow, a.DecisionCode)
		s.Equal(rule.RuleID, a.AllowRuleApplied)
		s.Empty(s.sender.approvals, "auto-approved requests are never delivered")
	})

	s.Run("allow rule wins over session allow", func() {
		_, err := s.store.EnsureSessionAllow(s.ctx, "client-a", "sess-1", "exec_cmd", now)
		s.Require().NoError(err)

		a, auto, err := s.svc.Create(s.ctx, s.params())
		s.Require().NoError(err)
		s.True(auto)
		s.Equal(decision.CodeAlwaysAllow, a.DecisionCode)
	})

	s.Run("revoked rule falls back to session allow", func() {
		rule, err := s.store.FindEnabledAllowRule(s.ctx, "client-a", "exec_cmd")
		s.Require().NoError(err)
		_, err = s.svc.RevokeAllowRule(s.ctx, rule.RuleID)
		s.Require().NoError(err)

		a, auto, err := s.svc.Create(s.ctx, s.params())
		s.Require().NoError(err)
		s.True(auto)
		s.Equal(decision.CodeAllowSession, a.DecisionCode)
		s.Empty(a.AllowRuleApplied)
	})

	s.Run("session allow scoped to its session", func() {
		p := s.params()
		p.SessionID = "sess-2"
		a, auto, err := s.svc.Create(s.ctx, p)
		s.Require().NoError(err)
		s.False(auto)
		s.Equal(approval.StatusPending, a.Status)
	})
}

func (s *ServiceSuite) TestRuleCreatedAfterDoesNotAffectPending() {
	a, _, err := s.svc.Create(s.ctx, s.params())
	s.Require().NoError(err)

	_, err = s.store.EnsureAllowRule(s.ctx, approval.NewRuleID(), "client-a", "exec_cmd", time.Now().UTC())
	s.Require().NoError(err)

	got, err := s.svc.Get(s.ctx, a.ApprovalID)
	s.Require().NoError(err)
	s.Equal(approval.StatusPending, got.Status)
}

func (s *ServiceSuite) TestGetOwnership() {
	a, _, err := s.svc.Create(s.ctx, s.params())
	s.Require().NoError(err)

	s.Run("owner reads it", func() {
		got, err := s.svc.Get(s.ctx, a.ApprovalID)
		s.Require().NoError(err)
		s.Equal(a.ApprovalID, got.ApprovalID)
	})

	s.Run("other client sees not found, not forbidden", func() {
		other := requestcontext.WithClientID(context.Background(), "client-b")
		_, err := s.svc.Get(other, a.ApprovalID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("unknown id", func() {
		_, err := s.svc.Get(s.ctx, "appr_missing")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestLazyExpiry() {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(s.ctx, created)

	a, _, err := s.svc.Create(ctx, s.params())
	s.Require().NoError(err)

	s.Run("pending before the deadline", func() {
		before := requestcontext.WithTime(s.ctx, a.ExpiresAt.Add(-time.Second))
		got, err := s.svc.Get(before, a.ApprovalID)
		s.Require().NoError(err)
		s.Equal(approval.StatusPending, got.Status)
	})

	s.Run("read past the deadline flips to expired", func() {
		after := requestcontext.WithTime(s.ctx, a.ExpiresAt)
		got, err := s.svc.Get(after, a.ApprovalID)
		s.Require().NoError(err)
		s.Equal(approval.StatusExpired, got.Status)
	})

	s.Run("expiry is terminal", func() {
		after := requestcontext.WithTime(s.ctx, a.ExpiresAt.Add(time.Hour))
		_, err := s.svc.ApplyDecision(after, a.ApprovalID, decision.Decision{Code: decision.CodeAllowOnce})
		s.True(dErrors.HasCode(err, dErrors.CodeExpired))
	})
}

func (s *ServiceSuite) TestApplyDecision() {
	s.Run("allow once", func() {
		a, _, err := s.svc.Create(s.ctx, s.params())
		s.Require().NoError(err)

		updated, err := s.svc.ApplyDecision(s.ctx, a.ApprovalID, decision.Decision{Code: decision.CodeAllowOnce})
		s.Require().NoError(err)
		s.Equal(approval.StatusApproved, updated.Status)
		s.Equal(decision.CodeAllowOnce, updated.DecisionCode)
	})

	s.Run("deny", func() {
		a, _, err := s.svc.Create(s.ctx, s.params())
		s.Require().NoError(err)

		updated, err := s.svc.ApplyDecision(s.ctx, a.ApprovalID, decision.Decision{Code: decision.CodeDeny})
		s.Require().NoError(err)
		s.Equal(approval.StatusDenied, updated.Status)
	})

	s.Run("note and override payloads persist", func() {
		a, _, err := s.svc.Create(s.ctx, s.params())
		s.Require().NoError(err)
		updated, err := s.svc.ApplyDecision(s.ctx, a.ApprovalID, decision.Decision{Code: decision.CodeAllowNote, Note: "add logs"})
		s.Require().NoError(err)
		s.Equal("add logs", updated.DecisionNote)

		b, _, err := s.svc.Create(s.ctx, s.params())
		s.Require().NoError(err)
		updated, err = s.svc.ApplyDecision(s.ctx, b.ApprovalID, decision.Decision{Code: decision.CodeModify, Override: "npm test -- --runInBand"})
		s.Require().NoError(err)
		s.Equal("npm test -- --runInBand", updated.DecisionOverride)
	})

	s.Run("second decision conflicts", func() {
		a, _, err := s.svc.Create(s.ctx, s.params())
		s.Require().NoError(err)
		_, err = s.svc.ApplyDecision(s.ctx, a.ApprovalID, decision.Decision{Code: decision.CodeDeny})
		s.Require().NoError(err)

		_, err = s.svc.ApplyDecision(s.ctx, a.ApprovalID, decision.Decision{Code: decision.CodeAllowOnce})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("unknown approval", func() {
		_, err := s.svc.ApplyDecision(s.ctx, "appr_missing", decision.Decision{Code: decision.CodeAllowOnce})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestDecisionSideEffects() {
	s.Run("code 2 mints a session allow", func() {
		a, _, err := s.svc.Create(s.ctx, s.params())
		s.Require().NoError(err)
		_, err = s.svc.ApplyDecision(s.ctx, a.ApprovalID, decision.Decision{Code: decision.CodeAllowSession})
		s.Require().NoError(err)

		next, auto, err := s.svc.Create(s.ctx, s.params())
		s.Require().NoError(err)
		s.True(auto)
		s.Equal(decision.CodeAllowSession, next.DecisionCode)
	})

	s.Run("rule creation failure does not undo the decision", func() {
		st := &ruleFailingStore{MemoryStore: store.NewMemory()}
		svc := New(st, channel.Registry{approval.ChannelTelegram: s.sender}, nil, nil, logger.NewNop())

		a, _, err := svc.Create(s.ctx, s.params())
		s.Require().NoError(err)
		updated, err := svc.ApplyDecision(s.ctx, a.ApprovalID, decision.Decision{Code: decision.CodeAlwaysAllow})
		s.Require().NoError(err)
		s.Equal(approval.StatusApproved, updated.Status)
		s.Empty(updated.AllowRuleApplied)

		_, err = svc.ApplyDecision(s.ctx, a.ApprovalID, decision.Decision{Code: decision.CodeAllowOnce})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		b, _, err := svc.Create(s.ctx, s.params())
		s.Require().NoError(err)
		updated, err = svc.ApplyDecision(s.ctx, b.ApprovalID, decision.Decision{Code: decision.CodeAllowSession})
		s.Require().NoError(err)
		s.Equal(approval.StatusApproved, updated.Status)
	})

	s.Run("code 6 mints an allow rule with back-reference", func() {
		p := s.params()
		p.ActionType = "write_file"
		a, _, err := s.svc.Create(s.ctx, p)
		s.Require().NoError(err)
		updated, err := s.svc.ApplyDecision(s.ctx, a.ApprovalID, decision.Decision{Code: decision.CodeAlwaysAllow})
		s.Require().NoError(err)
		s.NotEmpty(updated.AllowRuleApplied)

		rule, err := s.store.FindEnabledAllowRule(s.ctx, "client-a", "write_file")
		s.Require().NoError(err)
		s.Equal(updated.AllowRuleApplied, rule.RuleID)

		next, auto, err := s.svc.Create(s.ctx, p)
		s.Require().NoError(err)
		s.True(auto)
		s.Equal(rule.RuleID, next.AllowRuleApplied)
	})
}

func (s *ServiceSuite) TestRevokeAllowRule() {
	now := time.Now().UTC()
	rule, err := s.store.EnsureAllowRule(s.ctx, approval.NewRuleID(), "client-a", "exec_cmd", now)
	s.Require().NoError(err)

	s.Run("other client cannot revoke", func() {
		other := requestcontext.WithClientID(context.Background(), "client-b")
		_, err := s.svc.RevokeAllowRule(other, rule.RuleID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("owner revokes and gating resumes", func() {
		disabled, err := s.svc.RevokeAllowRule(s.ctx, rule.RuleID)
		s.Require().NoError(err)
		s.False(disabled.Enabled)

		a, auto, err := s.svc.Create(s.ctx, s.params())
		s.Require().NoError(err)
		s.False(auto)
		s.Equal(approval.StatusPending, a.Status)
	})

	s.Run("unknown rule", func() {
		_, err := s.svc.RevokeAllowRule(s.ctx, "rule_missing")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// Concurrent decisions on the same approval: exactly one wins, and only the
// winner's side effects run.
func (s *ServiceSuite) TestConcurrentDecisions() {
	a, _, err := s.svc.Create(s.ctx, s.params())
	s.Require().NoError(err)

	const goroutines = 20
	var wg sync.WaitGroup
	var wins, conflicts atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := decision.Decision{Code: decision.CodeAllowOnce}
			if i%2 == 0 {
				d = decision.Decision{Code: decision.CodeDeny}
			}
			_, err := s.svc.ApplyDecision(s.ctx, a.ApprovalID, d)
			switch {
			case err == nil:
				wins.Add(1)
			case dErrors.HasCode(err, dErrors.CodeConflict):
				conflicts.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(goroutines-1), conflicts.Load())

	got, err := s.svc.Get(s.ctx, a.ApprovalID)
	s.Require().NoError(err)
	s.True(got.Status.Terminal())
}
