//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"beyondgd/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, table := range []string{"runs", "entities", "populations", "epoch_reports"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run model.RunRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, created_at_utc, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created_at_utc = excluded.created_at_utc,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, run.RunID, run.CreatedAtUTC, run.SchemaVersion, run.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (model.RunRecord, bool, error) {
	payload, ok, err := s.payload(ctx, `SELECT payload FROM runs WHERE id = ?`, runID)
	if err != nil || !ok {
		return model.RunRecord{}, false, err
	}
	run, err := DecodeRun(payload)
	if err != nil {
		return model.RunRecord{}, false, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return run, true, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context) ([]model.RunRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT id, payload FROM runs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.RunRecord
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		run, err := DecodeRun(payload)
		if err != nil {
			return nil, fmt.Errorf("decode run %s: %w", id, err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortRuns(runs)
	return runs, nil
}

func (s *SQLiteStore) SaveEntity(ctx context.Context, entity model.EntityRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	payload, err := EncodeEntity(entity)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO entities (id, run_id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, entity.ID, entity.RunID, entity.SchemaVersion, entity.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (model.EntityRecord, bool, error) {
	payload, ok, err := s.payload(ctx, `SELECT payload FROM entities WHERE id = ?`, id)
	if err != nil || !ok {
		return model.EntityRecord{}, false, err
	}
	entity, err := DecodeEntity(payload)
	if err != nil {
		return model.EntityRecord{}, false, fmt.Errorf("decode entity %s: %w", id, err)
	}
	return entity, true, nil
}

func (s *SQLiteStore) SavePopulation(ctx context.Context, snapshot model.PopulationSnapshot) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	payload, err := EncodePopulation(snapshot)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO populations (id, run_id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, snapshot.ID, snapshot.RunID, snapshot.SchemaVersion, snapshot.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetPopulation(ctx context.Context, id string) (model.PopulationSnapshot, bool, error) {
	payload, ok, err := s.payload(ctx, `SELECT payload FROM populations WHERE id = ?`, id)
	if err != nil || !ok {
		return model.PopulationSnapshot{}, false, err
	}
	snapshot, err := DecodePopulation(payload)
	if err != nil {
		return model.PopulationSnapshot{}, false, fmt.Errorf("decode population %s: %w", id, err)
	}
	return snapshot, true, nil
}

func (s *SQLiteStore) SaveEpochReports(ctx context.Context, runID string, reports []model.EpochReport) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	payload, err := EncodeEpochReports(reports)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO epoch_reports (run_id, payload)
		VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			payload = excluded.payload
	`, runID, payload)
	return err
}

func (s *SQLiteStore) GetEpochReports(ctx context.Context, runID string) ([]model.EpochReport, bool, error) {
	payload, ok, err := s.payload(ctx, `SELECT payload FROM epoch_reports WHERE run_id = ?`, runID)
	if err != nil || !ok {
		return nil, false, err
	}
	reports, err := DecodeEpochReports(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode epoch reports %s: %w", runID, err)
	}
	return reports, true, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) payload(ctx context.Context, query, key string) ([]byte, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}
	var payload []byte
	err = db.QueryRowContext(ctx, query, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			created_at_utc TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS populations (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS epoch_reports (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
	`)
	return err
}
