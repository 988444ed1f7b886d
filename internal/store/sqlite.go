package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"gitlab.com/dirk.krummacker/calllist-service/internal/model"
)

// SnapshotKey is the key under which the local snapshot is stored.
const SnapshotKey = "call-to-die-customers"

const (
	createSnapshots = `
		CREATE TABLE IF NOT EXISTS snapshots (
			key      TEXT PRIMARY KEY,
			value    TEXT NOT NULL,
			saved_at TIMESTAMP NOT NULL
		)`

	upsertSnapshot = `
		INSERT INTO snapshots (key, value, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, saved_at = excluded.saved_at`

	selectSnapshot = `SELECT value FROM snapshots WHERE key = ?`
	deleteSnapshot = `DELETE FROM snapshots WHERE key = ?`
)

// SQLiteStore keeps the whole customer set as one serialized value under a
// fixed key. Every save overwrites the complete value.
type SQLiteStore struct {
	db     *sqlx.DB
	key    string
	logger *zap.Logger
}

// OpenSQLite opens (or creates) the snapshot database at path. Use ":memory:"
// for a throwaway database.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)
	return NewSQLiteStore(db, SnapshotKey, logger)
}

// NewSQLiteStore creates the snapshot table if needed.
func NewSQLiteStore(db *sqlx.DB, key string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := db.Exec(createSnapshots); err != nil {
		return nil, fmt.Errorf("could not create snapshot table: %w", err)
	}
	return &SQLiteStore{db: db, key: key, logger: logger}, nil
}

// Save serializes the snapshot and overwrites the stored value.
func (s *SQLiteStore) Save(ctx context.Context, snapshot model.Snapshot) error {
	value, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertSnapshot, s.key, string(value), snapshot.Metadata.SavedAt); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	s.logger.Debug("saved snapshot", zap.String("key", s.key), zap.Int("customers", len(snapshot.Customers)))
	return nil
}

// Load returns the stored snapshot. A missing or empty snapshot is reported as
// not found.
func (s *SQLiteStore) Load(ctx context.Context) (model.Snapshot, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, selectSnapshot, s.key)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Snapshot{}, false, nil
	}
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	var snapshot model.Snapshot
	if err := json.Unmarshal([]byte(value), &snapshot); err != nil {
		return model.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	if len(snapshot.Customers) == 0 {
		return model.Snapshot{}, false, nil
	}
	return snapshot, true, nil
}

// Clear deletes the stored snapshot.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, deleteSnapshot, s.key); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
