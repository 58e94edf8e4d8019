package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS states (
    id                 TEXT PRIMARY KEY,
    namespace          TEXT NOT NULL DEFAULT '',
    graph_name         TEXT NOT NULL,
    run_id             TEXT NOT NULL,
    node_name          TEXT NOT NULL,
    status             TEXT NOT NULL,
    enqueue_after      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    lease_deadline     TIMESTAMPTZ,
    unites_fingerprint TEXT,
    record             JSONB NOT NULL,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_states_run_id   ON states(run_id);
CREATE INDEX IF NOT EXISTS idx_states_dispatch ON states(graph_name, status, enqueue_after);
CREATE INDEX IF NOT EXISTS idx_states_lease    ON states(status, lease_deadline);
CREATE UNIQUE INDEX IF NOT EXISTS uq_states_unites
    ON states(run_id, unites_fingerprint)
    WHERE unites_fingerprint IS NOT NULL;
`

// CreateSchema creates the states table and its indexes if absent.
func (s *Service) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops the states table.
func (s *Service) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS states CASCADE;`)
	return err
}
