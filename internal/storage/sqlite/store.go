// Package sqlite is a file-backed store for running the gateway without DynamoDB.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/route"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/storage"
)

// Store is a SQLite implementation of storage.Store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New opens (or creates) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS routes (
			route_key TEXT PRIMARY KEY,
			lambda_target TEXT NOT NULL DEFAULT '',
			metadata TEXT,
			response_message TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS claims (
			claim_key TEXT PRIMARY KEY,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_expires ON claims(expires_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (route.Route, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT route_key, lambda_target, metadata, response_message FROM routes WHERE route_key = ?`, key)
	r, err := scanRoute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return route.Route{}, false, nil
	}
	if err != nil {
		return route.Route{}, false, fmt.Errorf("failed to get route %q: %w", key, err)
	}
	return r, true, nil
}

func (s *Store) Put(ctx context.Context, r route.Route) error {
	if r.Key == "" {
		return storage.ErrInvalidKey
	}
	var metadata sql.NullString
	if len(r.Metadata) > 0 {
		data, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	query := `INSERT INTO routes (route_key, lambda_target, metadata, response_message, updated_at)
	          VALUES (?, ?, ?, ?, ?)
	          ON CONFLICT(route_key) DO UPDATE SET
	            lambda_target = excluded.lambda_target,
	            metadata = excluded.metadata,
	            response_message = excluded.response_message,
	            updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, r.Key, r.LambdaTarget, metadata, r.ResponseMessage, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to put route %q: %w", r.Key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM routes WHERE route_key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete route %q: %w", key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]route.Route, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT route_key, lambda_target, metadata, response_message FROM routes ORDER BY route_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	defer rows.Close()

	var result []route.Route
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRoute(row scanner) (route.Route, error) {
	var (
		r        route.Route
		metadata sql.NullString
	)
	if err := row.Scan(&r.Key, &r.LambdaTarget, &metadata, &r.ResponseMessage); err != nil {
		return route.Route{}, err
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &r.Metadata); err != nil {
			return route.Route{}, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return r, nil
}

func (s *Store) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UnixNano()
	if _, err := tx.ExecContext(ctx, `DELETE FROM claims WHERE claim_key = ? AND expires_at <= ?`, key, now); err != nil {
		return false, fmt.Errorf("failed to expire claim %q: %w", key, err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO claims (claim_key, expires_at) VALUES (?, ?) ON CONFLICT(claim_key) DO NOTHING`,
		key, now+ttl.Nanoseconds())
	if err != nil {
		return false, fmt.Errorf("failed to claim %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit claim: %w", err)
	}
	return n == 1, nil
}

func (s *Store) Release(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM claims WHERE claim_key = ?`, key); err != nil {
		return fmt.Errorf("failed to release claim %q: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
