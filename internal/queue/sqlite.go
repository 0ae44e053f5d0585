package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rzbill/tether/internal/errs"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS queued_requests (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	id        TEXT    NOT NULL UNIQUE,
	tenant_id TEXT    NOT NULL,
	endpoint  TEXT    NOT NULL,
	method    TEXT    NOT NULL,
	payload   BLOB,
	headers   TEXT,
	synced    INTEGER NOT NULL DEFAULT 0,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queued_requests_tenant ON queued_requests (tenant_id, synced, timestamp, seq);
CREATE INDEX IF NOT EXISTS idx_queued_requests_synced ON queued_requests (synced);
`

// SQLStore keeps the queue in a single SQLite table with secondary indexes
// on tenant_id and synced. It owns its connection.
type SQLStore struct {
	db     *sql.DB
	limits Limits
}

var _ Store = (*SQLStore)(nil)

// OpenSQLStore opens (or creates) queue.db under dataDir.
func OpenSQLStore(dataDir string, limits Limits) (*SQLStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errs.Storage(err, "queue: create data directory")
	}
	db, err := sql.Open("sqlite", filepath.Join(dataDir, "queue.db"))
	if err != nil {
		return nil, errs.Storage(err, "queue: open sqlite")
	}
	// one writer; keeps Put's count-then-insert serialized
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, stmt := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=FULL;", sqliteSchema} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, errs.Storage(err, "queue: prepare sqlite schema")
		}
	}
	return &SQLStore{db: db, limits: limits}, nil
}

func (s *SQLStore) Put(ctx context.Context, rec QueuedRequest) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	headers, err := json.Marshal(rec.Headers)
	if err != nil {
		return errs.Storage(err, "queue: encode headers")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Storage(err, "queue: begin")
	}
	defer func() { _ = tx.Rollback() }()

	if !rec.Synced && s.limits.MaxPerTenant > 0 {
		var n int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM queued_requests WHERE tenant_id = ? AND synced = 0 AND id <> ?`,
			rec.TenantID, rec.ID).Scan(&n)
		if err != nil {
			return errs.Storage(err, "queue: count pending")
		}
		if n >= s.limits.MaxPerTenant {
			return queueFull(rec.TenantID, s.limits.MaxPerTenant)
		}
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO queued_requests (id, tenant_id, endpoint, method, payload, headers, synced, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	tenant_id = excluded.tenant_id,
	endpoint  = excluded.endpoint,
	method    = excluded.method,
	payload   = excluded.payload,
	headers   = excluded.headers,
	synced    = excluded.synced,
	timestamp = excluded.timestamp`,
		rec.ID, rec.TenantID, rec.Endpoint, rec.Method, []byte(rec.Payload), string(headers), rec.Synced, rec.Timestamp)
	if err != nil {
		return errs.Storage(err, "queue: insert record")
	}
	if err := tx.Commit(); err != nil {
		return errs.Storage(err, "queue: commit record")
	}
	return nil
}

func (s *SQLStore) GetPending(ctx context.Context, tenantID string) ([]QueuedRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, tenant_id, endpoint, method, payload, headers, synced, timestamp
FROM queued_requests
WHERE tenant_id = ? AND synced = 0
ORDER BY timestamp ASC, seq ASC`, tenantID)
	if err != nil {
		return nil, errs.Storage(err, "queue: query pending")
	}
	defer rows.Close()

	var out []QueuedRequest
	for rows.Next() {
		var (
			rec     QueuedRequest
			payload []byte
			headers sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.Endpoint, &rec.Method, &payload, &headers, &rec.Synced, &rec.Timestamp); err != nil {
			return nil, errs.Storage(err, "queue: scan pending")
		}
		if len(payload) > 0 {
			rec.Payload = json.RawMessage(payload)
		}
		if headers.Valid && headers.String != "" && headers.String != "null" {
			if err := json.Unmarshal([]byte(headers.String), &rec.Headers); err != nil {
				return nil, errs.Storage(err, "queue: decode headers of "+rec.ID)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage(err, "queue: iterate pending")
	}
	return out, nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM queued_requests WHERE id = ?`, id); err != nil {
		return errs.Storage(err, "queue: delete record")
	}
	return nil
}

func (s *SQLStore) Tenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM queued_requests WHERE synced = 0 ORDER BY tenant_id`)
	if err != nil {
		return nil, errs.Storage(err, "queue: query tenants")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, errs.Storage(err, "queue: scan tenant")
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage(err, "queue: iterate tenants")
	}
	return out, nil
}

func (s *SQLStore) Count(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_requests WHERE tenant_id = ? AND synced = 0`, tenantID).Scan(&n)
	if err != nil {
		return 0, errs.Storage(err, "queue: count pending")
	}
	return n, nil
}

func (s *SQLStore) Total(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_requests WHERE synced = 0`).Scan(&n)
	if err != nil {
		return 0, errs.Storage(err, "queue: count all pending")
	}
	return n, nil
}

func (s *SQLStore) Prune(ctx context.Context, cutoffMs int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queued_requests WHERE timestamp < ?`, cutoffMs)
	if err != nil {
		return 0, errs.Storage(err, "queue: prune")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errs.Storage(err, "queue: prune result")
	}
	return int(n), nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
