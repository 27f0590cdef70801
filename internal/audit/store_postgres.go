package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists the trail in the audit_events table.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          BIGSERIAL PRIMARY KEY,
	timestamp   TIMESTAMPTZ NOT NULL,
	client_id   TEXT NOT NULL,
	approval_id TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL,
	action_type TEXT NOT NULL DEFAULT '',
	decision    TEXT NOT NULL DEFAULT '',
	rule_id     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_events_client ON audit_events (client_id);
`

// EnsureSchema creates the audit table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO audit_events (timestamp, client_id, approval_id, action, action_type, decision, rule_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.Timestamp, event.ClientID, event.ApprovalID,
		event.Action, event.ActionType, event.Decision, event.RuleID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByClient(ctx context.Context, clientID string) ([]Event, error) {
	query := `
		SELECT timestamp, client_id, approval_id, action, action_type, decision, rule_id
		FROM audit_events WHERE client_id = $1 ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Timestamp, &e.ClientID, &e.ApprovalID, &e.Action, &e.ActionType, &e.Decision, &e.RuleID); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
