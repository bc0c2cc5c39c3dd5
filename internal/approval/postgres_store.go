package approval

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/relaycore/agentcore/pkg/models"
)

// PostgresStore persists the approval audit trail to a Postgres table, so
// pending decisions can be listed across instances and decided requests
// survive a restart.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-opened *sql.DB (typically opened with
// sql.Open("postgres", dsn) via github.com/lib/pq). Callers own db's
// lifecycle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Schema is the DDL for the approval_requests table. Callers run it as part
// of their own migration tooling.
const Schema = `
CREATE TABLE IF NOT EXISTS approval_requests (
	id                    TEXT PRIMARY KEY,
	conversation_id       TEXT NOT NULL,
	turn_id               TEXT NOT NULL,
	tool_call_id          TEXT NOT NULL,
	tool_name             TEXT NOT NULL,
	kind                  TEXT NOT NULL,
	payload               TEXT NOT NULL DEFAULT '',
	risk                  TEXT NOT NULL,
	estimated_duration_ms BIGINT NOT NULL DEFAULT 0,
	status                TEXT NOT NULL,
	expires_at            TIMESTAMPTZ NOT NULL,
	decided_at            TIMESTAMPTZ,
	decided_by            TEXT NOT NULL DEFAULT '',
	created_at            TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS approval_requests_pending_idx
	ON approval_requests (conversation_id) WHERE status = 'pending';
`

func (s *PostgresStore) Create(ctx context.Context, req *models.ApprovalRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approval_requests
			(id, conversation_id, turn_id, tool_call_id, tool_name, kind, payload, risk, estimated_duration_ms, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		req.ID, req.ConversationID, req.TurnID, req.ToolCallID, req.ToolName,
		string(req.Kind), string(req.Payload), string(req.Risk),
		req.EstimatedDurationMs, string(req.Status), req.ExpiresAt, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert approval request: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, turn_id, tool_call_id, tool_name, kind, payload, risk,
		       estimated_duration_ms, status, expires_at, decided_at, decided_by, created_at
		FROM approval_requests WHERE id = $1`, id)
	return scanApprovalRequest(row)
}

func (s *PostgresStore) Update(ctx context.Context, req *models.ApprovalRequest) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = $2, decided_at = $3, decided_by = $4
		WHERE id = $1`,
		req.ID, string(req.Status), req.DecidedAt, req.DecidedBy)
	if err != nil {
		return fmt.Errorf("update approval request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("approval request %s not found", req.ID)
	}
	return nil
}

func (s *PostgresStore) ListPending(ctx context.Context, conversationID string) ([]*models.ApprovalRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, turn_id, tool_call_id, tool_name, kind, payload, risk,
		       estimated_duration_ms, status, expires_at, decided_at, decided_by, created_at
		FROM approval_requests
		WHERE status = 'pending' AND ($1 = '' OR conversation_id = $1)
		ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list pending approval requests: %w", err)
	}
	defer rows.Close()

	var out []*models.ApprovalRequest
	for rows.Next() {
		req, err := scanApprovalRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM approval_requests WHERE created_at < $1`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune approval requests: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApprovalRequest(row rowScanner) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	var kind, payload, risk, status string
	var decidedAt sql.NullTime

	err := row.Scan(&req.ID, &req.ConversationID, &req.TurnID, &req.ToolCallID,
		&req.ToolName, &kind, &payload, &risk, &req.EstimatedDurationMs,
		&status, &req.ExpiresAt, &decidedAt, &req.DecidedBy, &req.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("approval request not found: %w", err)
		}
		return nil, fmt.Errorf("scan approval request: %w", err)
	}
	req.Kind = models.ApprovalKind(kind)
	if payload != "" {
		req.Payload = []byte(payload)
	}
	req.Risk = models.RiskLevel(risk)
	req.Status = models.ApprovalStatus(status)
	if decidedAt.Valid {
		req.DecidedAt = &decidedAt.Time
	}
	return &req, nil
}
