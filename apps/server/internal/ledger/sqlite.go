package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const defaultLocalDBName = "pokerhub_local.db"

type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		dbPath = filepath.Join("data", defaultLocalDBName)
	}
	if dbPath != ":memory:" {
		parent := filepath.Dir(dbPath)
		if parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSQLiteSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStore{db: db, logger: logger.Named("ledger")}, nil
}

func ensureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS room_snapshots (
    table_id   TEXT PRIMARY KEY,
    tick       INTEGER NOT NULL,
    state_json TEXT NOT NULL,
    saved_at   TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS hand_records (
    hand_id     TEXT PRIMARY KEY,
    table_id    TEXT NOT NULL,
    record_json TEXT NOT NULL,
    played_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS hand_records_table_played ON hand_records (table_id, played_at DESC);
`)
	if err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	raw, err := json.Marshal(snap.State)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO room_snapshots (table_id, tick, state_json, saved_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (table_id) DO UPDATE
SET tick = excluded.tick, state_json = excluded.state_json, saved_at = excluded.saved_at
`, snap.TableID, int64(snap.Tick), string(raw), snap.SavedAt.UTC())
	return err
}

func (s *SQLiteStore) LoadSnapshots(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT table_id, tick, state_json, saved_at FROM room_snapshots ORDER BY table_id
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSnapshots(rows, s.logger)
}

func (s *SQLiteStore) SaveHand(ctx context.Context, hand HandRecord) error {
	raw, err := json.Marshal(hand)
	if err != nil {
		return fmt.Errorf("marshal hand: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO hand_records (hand_id, table_id, record_json, played_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (hand_id) DO UPDATE
SET record_json = excluded.record_json, played_at = excluded.played_at
`, hand.HandID, hand.TableID, string(raw), hand.PlayedAt.UTC())
	return err
}

func (s *SQLiteStore) FindHands(ctx context.Context, tableID string, limit int) ([]HandRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT record_json FROM hand_records WHERE table_id = ? ORDER BY played_at DESC LIMIT ?
`, tableID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHands(rows)
}

func (s *SQLiteStore) FindHand(ctx context.Context, handID string) (HandRecord, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT record_json FROM hand_records WHERE hand_id = ?`, handID).Scan(&raw)
	return decodeHand(raw, err)
}
