package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"approvalgate/internal/approval"
	"approvalgate/pkg/platform/sentinel"
)

// PostgresStore is the durable implementation. The pending→terminal
// compare-and-set rides on a conditional UPDATE (`WHERE status = 'pending'`):
// row-level locking makes exactly one concurrent writer observe an affected
// row. Rule uniqueness rides on the composite unique constraints with
// ON CONFLICT upserts.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Schema holds the DDL for the three tables. Applied by EnsureSchema; kept
// here so the integration tests and deployments share one definition.
const Schema = `
CREATE TABLE IF NOT EXISTS approvals (
	approval_id       TEXT PRIMARY KEY,
	created_at        TIMESTAMPTZ NOT NULL,
	expires_at        TIMESTAMPTZ NOT NULL,
	status            TEXT NOT NULL,
	session_id        TEXT NOT NULL,
	action_type       TEXT NOT NULL,
	title             TEXT NOT NULL,
	preview           TEXT NOT NULL,
	decision_code     TEXT NOT NULL DEFAULT '',
	decision_note     TEXT NOT NULL DEFAULT '',
	decision_override TEXT NOT NULL DEFAULT '',
	channel           TEXT NOT NULL,
	target            JSONB NOT NULL,
	options           JSONB NOT NULL DEFAULT '[]',
	client_id         TEXT NOT NULL,
	allow_rule_applied TEXT NOT NULL DEFAULT '',
	CHECK (expires_at > created_at)
);
CREATE INDEX IF NOT EXISTS idx_approvals_client ON approvals (client_id);
CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals (status);

CREATE TABLE IF NOT EXISTS allow_rules (
	rule_id     TEXT PRIMARY KEY,
	client_id   TEXT NOT NULL,
	action_type TEXT NOT NULL,
	enabled     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at  TIMESTAMPTZ NOT NULL,
	CONSTRAINT uq_allow_rule UNIQUE (client_id, action_type)
);

CREATE TABLE IF NOT EXISTS session_allows (
	session_id  TEXT NOT NULL,
	client_id   TEXT NOT NULL,
	action_type TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	CONSTRAINT uq_session_allow UNIQUE (client_id, session_id, action_type)
);
`

// EnsureSchema creates the tables when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const approvalColumns = `approval_id, created_at, expires_at, status, session_id,
	action_type, title, preview, decision_code, decision_note, decision_override,
	channel, target, options, client_id, allow_rule_applied`

func (s *PostgresStore) Create(ctx context.Context, a *approval.Approval) error {
	target, err := json.Marshal(a.Target)
	if err != nil {
		return fmt.Errorf("marshal target: %w", err)
	}
	options := a.Options
	if options == nil {
		options = []string{}
	}
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}

	query := `
		INSERT INTO approvals (` + approvalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = s.db.ExecContext(ctx, query,
		a.ApprovalID, a.CreatedAt, a.ExpiresAt, string(a.Status),
		a.SessionID, a.ActionType, a.Title, a.Preview,
		a.DecisionCode, a.DecisionNote, a.DecisionOverride,
		string(a.Channel), target, optionsJSON,
		a.ClientID, a.AllowRuleApplied,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, approvalID string) (*approval.Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE approval_id = $1`
	return s.scanApproval(s.db.QueryRowContext(ctx, query, approvalID))
}

func (s *PostgresStore) TransitionDecision(ctx context.Context, approvalID string, to approval.Status, code, note, override string) (*approval.Approval, error) {
	query := `
		UPDATE approvals
		SET status = $2, decision_code = $3, decision_note = $4, decision_override = $5
		WHERE approval_id = $1 AND status = 'pending'
		RETURNING ` + approvalColumns
	a, err := s.scanApproval(s.db.QueryRowContext(ctx, query,
		approvalID, string(to), code, note, override,
	))
	if errors.Is(err, sentinel.ErrNotFound) {
		// Zero rows updated: either the id is unknown or someone else won
		// the transition. Distinguish with a plain read.
		if _, findErr := s.FindByID(ctx, approvalID); findErr != nil {
			return nil, findErr
		}
		return nil, sentinel.ErrConflict
	}
	return a, err
}

func (s *PostgresStore) MarkExpired(ctx context.Context, approvalID string) (*approval.Approval, error) {
	query := `
		UPDATE approvals SET status = 'expired'
		WHERE approval_id = $1 AND status = 'pending'
	`
	if _, err := s.db.ExecContext(ctx, query, approvalID); err != nil {
		return nil, fmt.Errorf("mark expired: %w", err)
	}
	return s.FindByID(ctx, approvalID)
}

func (s *PostgresStore) SetAllowRuleApplied(ctx context.Context, approvalID, ruleID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET allow_rule_applied = $2 WHERE approval_id = $1`,
		approvalID, ruleID,
	)
	if err != nil {
		return fmt.Errorf("set allow rule applied: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindEnabledAllowRule(ctx context.Context, clientID, actionType string) (*approval.AllowRule, error) {
	query := `
		SELECT rule_id, client_id, action_type, enabled, created_at
		FROM allow_rules
		WHERE client_id = $1 AND action_type = $2 AND enabled
	`
	return s.scanAllowRule(s.db.QueryRowContext(ctx, query, clientID, actionType))
}

func (s *PostgresStore) FindAllowRuleByID(ctx context.Context, ruleID string) (*approval.AllowRule, error) {
	query := `
		SELECT rule_id, client_id, action_type, enabled, created_at
		FROM allow_rules WHERE rule_id = $1
	`
	return s.scanAllowRule(s.db.QueryRowContext(ctx, query, ruleID))
}

func (s *PostgresStore) EnsureAllowRule(ctx context.Context, ruleID, clientID, actionType string, now time.Time) (*approval.AllowRule, error) {
	query := `
		INSERT INTO allow_rules (rule_id, client_id, action_type, enabled, created_at)
		VALUES ($1, $2, $3, TRUE, $4)
		ON CONFLICT ON CONSTRAINT uq_allow_rule DO UPDATE SET enabled = TRUE
		RETURNING rule_id, client_id, action_type, enabled, created_at
	`
	return s.scanAllowRule(s.db.QueryRowContext(ctx, query, ruleID, clientID, actionType, now))
}

func (s *PostgresStore) DisableAllowRule(ctx context.Context, ruleID string) (*approval.AllowRule, error) {
	query := `
		UPDATE allow_rules SET enabled = FALSE WHERE rule_id = $1
		RETURNING rule_id, client_id, action_type, enabled, created_at
	`
	return s.scanAllowRule(s.db.QueryRowContext(ctx, query, ruleID))
}

func (s *PostgresStore) FindSessionAllow(ctx context.Context, clientID, sessionID, actionType string) (*approval.SessionAllow, error) {
	query := `
		SELECT session_id, client_id, action_type, created_at
		FROM session_allows
		WHERE client_id = $1 AND session_id = $2 AND action_type = $3
	`
	return s.scanSessionAllow(s.db.QueryRowContext(ctx, query, clientID, sessionID, actionType))
}

func (s *PostgresStore) EnsureSessionAllow(ctx context.Context, clientID, sessionID, actionType string, now time.Time) (*approval.SessionAllow, error) {
	query := `
		INSERT INTO session_allows (session_id, client_id, action_type, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT uq_session_allow DO UPDATE SET session_id = session_allows.session_id
		RETURNING session_id, client_id, action_type, created_at
	`
	return s.scanSessionAllow(s.db.QueryRowContext(ctx, query, sessionID, clientID, actionType, now))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanApproval(row rowScanner) (*approval.Approval, error) {
	var (
		a               approval.Approval
		status, channel string
		target, options []byte
	)
	err := row.Scan(
		&a.ApprovalID, &a.CreatedAt, &a.ExpiresAt, &status,
		&a.SessionID, &a.ActionType, &a.Title, &a.Preview,
		&a.DecisionCode, &a.DecisionNote, &a.DecisionOverride,
		&channel, &target, &options,
		&a.ClientID, &a.AllowRuleApplied,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan approval: %w", err)
	}
	a.Status = approval.Status(status)
	a.Channel = approval.Channel(channel)
	if err := json.Unmarshal(target, &a.Target); err != nil {
		return nil, fmt.Errorf("unmarshal target: %w", err)
	}
	if err := json.Unmarshal(options, &a.Options); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) scanAllowRule(row rowScanner) (*approval.AllowRule, error) {
	var rule approval.AllowRule
	err := row.Scan(&rule.RuleID, &rule.ClientID, &rule.ActionType, &rule.Enabled, &rule.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan allow rule: %w", err)
	}
	return &rule, nil
}

func (s *PostgresStore) scanSessionAllow(row rowScanner) (*approval.SessionAllow, error) {
	var sa approval.SessionAllow
	err := row.Scan(&sa.SessionID, &sa.ClientID, &sa.ActionType, &sa.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session allow: %w", err)
	}
	return &sa, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
