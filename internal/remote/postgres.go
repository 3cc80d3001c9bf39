package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"fieldchart/sync/internal/record"
)

// Open connects to Postgres through the pgx stdlib driver.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// PostgresStore mirrors each record as a JSONB document. Upsert merges
// via the || operator, so concurrent partial writers only overwrite the
// top-level keys they carry. Change subscriptions are poll-based: the
// stored lastUpdated stamp is compared at each tick and a full snapshot
// emitted when it moves.
type PostgresStore struct {
	db           *sql.DB
	pollInterval time.Duration
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, pollInterval: time.Second}
}

// EnsureSchema creates the record table when it is missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS encounter_records (
			id TEXT PRIMARY KEY,
			doc JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (record.Record, error) {
	const query = `SELECT doc FROM encounter_records WHERE id = $1`
	var raw []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	var rec record.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, id string, rec record.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	const upsert = `
		INSERT INTO encounter_records (id, doc, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (id) DO UPDATE
		SET doc = encounter_records.doc || EXCLUDED.doc, updated_at = now()
	`
	if _, err := s.db.ExecContext(ctx, upsert, id, data); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM encounter_records WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Subscribe(ctx context.Context, id string) (<-chan record.Record, func(), error) {
	out := make(chan record.Record)
	done := make(chan struct{})

	go func() {
		defer close(out)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		var lastSeen string
		for {
			select {
			case <-ticker.C:
				rec, err := s.Get(ctx, id)
				if err != nil {
					continue
				}
				stamp, _ := rec[record.FieldLastUpdated].(string)
				if stamp == "" || stamp == lastSeen {
					continue
				}
				lastSeen = stamp
				select {
				case out <- rec:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() { close(done) })
	}
	return out, cancel, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var _ Store = (*PostgresStore)(nil)
