// Package postgres implements statestore.Service on PostgreSQL via pgx.
// Conditional updates use `WHERE status = ANY(...)`, claims use
// `FOR UPDATE SKIP LOCKED`, and unites deduplication rides the partial
// unique index on (run_id, unites_fingerprint), so the engine's invariants
// hold across any number of processes sharing one database.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowmesh/flowmesh/internal/clock"
	"github.com/flowmesh/flowmesh/model/state"
	"github.com/flowmesh/flowmesh/service/dao"
	"github.com/flowmesh/flowmesh/service/statestore"
)

const uniqueViolation = "23505"

// Service implements statestore.Service using a pgx connection pool.
type Service struct {
	db *pgxpool.Pool
}

var _ statestore.Service = (*Service)(nil)

// New creates a Service backed by the given pool.
func New(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

// Save inserts or overwrites a record.
func (s *Service) Save(ctx context.Context, record *state.State) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.ID == "" {
		return dao.ErrInvalidID
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("statestore: marshal state %s: %w", record.ID, err)
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO states (id, namespace, graph_name, run_id, node_name, status, enqueue_after, lease_deadline, unites_fingerprint, record, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    enqueue_after = EXCLUDED.enqueue_after,
    lease_deadline = EXCLUDED.lease_deadline,
    record = EXCLUDED.record,
    updated_at = EXCLUDED.updated_at`,
		record.ID, record.Namespace, record.GraphName, record.RunID, record.NodeName,
		record.Status, record.EnqueueAfter, record.LeaseDeadline, record.UnitesFingerprint,
		data, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("statestore: save state %s: %w", record.ID, err)
	}
	return nil
}

// Load retrieves a record by id.
func (s *Service) Load(ctx context.Context, id string) (*state.State, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	return scanState(s.db.QueryRow(ctx, `SELECT record FROM states WHERE id = $1`, id))
}

// List returns records matching the parameters.
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*state.State, error) {
	query := `SELECT record FROM states`
	var args []interface{}
	clause := ""
	for _, parameter := range parameters {
		column, ok := columnOf(parameter.Name)
		if !ok {
			continue
		}
		if clause == "" {
			clause = " WHERE "
		} else {
			clause += " AND "
		}
		switch value := parameter.Value.(type) {
		case string:
			args = append(args, value)
			clause += fmt.Sprintf("%s = $%d", column, len(args))
		case []string:
			args = append(args, value)
			clause += fmt.Sprintf("%s = ANY($%d)", column, len(args))
		}
	}
	rows, err := s.db.Query(ctx, query+clause+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("statestore: list states: %w", err)
	}
	defer rows.Close()
	return scanStates(rows)
}

// ListRun returns every record of a run.
func (s *Service) ListRun(ctx context.Context, runID string) ([]*state.State, error) {
	if runID == "" {
		return nil, dao.ErrInvalidID
	}
	return s.List(ctx, dao.NewParameter("RunID", runID))
}

// Transition locks the row, applies the mutation while the status condition
// holds, and persists the result in the same transaction.
func (s *Service) Transition(ctx context.Context, id string, from []state.Status, apply func(*state.State)) (*state.State, bool, error) {
	if id == "" {
		return nil, false, dao.ErrInvalidID
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("statestore: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	record, err := scanState(tx.QueryRow(ctx, `SELECT record FROM states WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, false, err
	}
	if !statusIn(record.Status, from) {
		return record, false, nil
	}

	apply(record)
	record.UpdatedAt = clock.Now()
	data, err := json.Marshal(record)
	if err != nil {
		return nil, false, fmt.Errorf("statestore: marshal state %s: %w", id, err)
	}
	_, err = tx.Exec(ctx, `
UPDATE states SET status = $2, enqueue_after = $3, lease_deadline = $4, record = $5, updated_at = $6 WHERE id = $1`,
		id, record.Status, record.EnqueueAfter, record.LeaseDeadline, data, record.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("statestore: update state %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("statestore: commit: %w", err)
	}
	return record, true, nil
}

// Claim flips up to Limit due records to QUEUED using SKIP LOCKED so that
// concurrent dispatch calls never claim the same row.
func (s *Service) Claim(ctx context.Context, request statestore.ClaimRequest) ([]*state.State, error) {
	limit := request.Limit
	if limit <= 0 {
		limit = 1
	}
	query := `
WITH due AS (
    SELECT id FROM states
    WHERE status = $1
      AND enqueue_after <= $2
      AND ($3 = '' OR namespace = $3)
      AND ($4 = '' OR graph_name = $4)
      AND (cardinality($5::text[]) = 0 OR node_name = ANY($5))
    ORDER BY created_at, id
    LIMIT $6
    FOR UPDATE SKIP LOCKED
)
UPDATE states s SET
    status = $7,
    lease_deadline = $8,
    updated_at = $9,
    record = jsonb_set(jsonb_set(jsonb_set(s.record,
        '{status}', to_jsonb($7::text)),
        '{leaseDeadline}', to_jsonb($8::timestamptz)),
        '{claimedBy}', to_jsonb($10::text))
FROM due WHERE s.id = due.id
RETURNING s.record`
	nodeNames := request.NodeNames
	if nodeNames == nil {
		nodeNames = []string{}
	}
	rows, err := s.db.Query(ctx, query,
		state.StatusCreated, request.Now, request.Namespace, request.GraphName,
		nodeNames, limit, state.StatusQueued, request.LeaseDeadline, clock.Now(), request.ClaimedBy)
	if err != nil {
		return nil, fmt.Errorf("statestore: claim states: %w", err)
	}
	defer rows.Close()
	return scanStates(rows)
}

// CreateUnique inserts the uniting state; a unique-index collision maps to
// dao.ErrDuplicateFingerprint for the losing caller.
func (s *Service) CreateUnique(ctx context.Context, record *state.State) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.ID == "" || record.UnitesFingerprint == "" {
		return dao.ErrInvalidID
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("statestore: marshal state %s: %w", record.ID, err)
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO states (id, namespace, graph_name, run_id, node_name, status, enqueue_after, lease_deadline, unites_fingerprint, record, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		record.ID, record.Namespace, record.GraphName, record.RunID, record.NodeName,
		record.Status, record.EnqueueAfter, record.LeaseDeadline, record.UnitesFingerprint,
		data, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return dao.ErrDuplicateFingerprint
		}
		return fmt.Errorf("statestore: insert uniting state %s: %w", record.ID, err)
	}
	return nil
}

// ListExpired returns QUEUED records whose lease deadline passed.
func (s *Service) ListExpired(ctx context.Context, now time.Time) ([]*state.State, error) {
	rows, err := s.db.Query(ctx, `
SELECT record FROM states
WHERE status = $1 AND lease_deadline IS NOT NULL AND lease_deadline <= $2
ORDER BY created_at, id`, state.StatusQueued, now)
	if err != nil {
		return nil, fmt.Errorf("statestore: list expired: %w", err)
	}
	defer rows.Close()
	return scanStates(rows)
}

func columnOf(name string) (string, bool) {
	switch name {
	case "RunID":
		return "run_id", true
	case "GraphName":
		return "graph_name", true
	case "Namespace":
		return "namespace", true
	case "NodeName":
		return "node_name", true
	case "Status":
		return "status", true
	}
	return "", false
}

func statusIn(status state.Status, set []state.Status) bool {
	for _, candidate := range set {
		if status == candidate {
			return true
		}
	}
	return false
}

func scanState(row pgx.Row) (*state.State, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, dao.ErrNotFound
		}
		return nil, fmt.Errorf("statestore: scan state: %w", err)
	}
	record := &state.State{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("statestore: unmarshal state: %w", err)
	}
	return record, nil
}

func scanStates(rows pgx.Rows) ([]*state.State, error) {
	var out []*state.State
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("statestore: scan state: %w", err)
		}
		record := &state.State{}
		if err := json.Unmarshal(data, record); err != nil {
			return nil, fmt.Errorf("statestore: unmarshal state: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}
