// Package eventstore persists finished gateway interactions (transcriptions,
// syntheses, chat completions) into SQLite with configurable retention.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/voxway/voxway/internal/config"
	_ "modernc.org/sqlite"
)

// Interaction is one recorded request/response exchange.
type Interaction struct {
	ID        int64
	Surface   string // wyoming or http
	Kind      string // stt, tts or chat
	Detail    []byte
	CreatedAt time.Time
}

// Store wraps a SQLite-backed interaction log.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. In ephemeral mode nothing
// touches disk and every write is a no-op.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("interaction store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("interaction store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS interactions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    surface TEXT NOT NULL,
    kind TEXT NOT NULL,
    detail BLOB,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interactions_created ON interactions(created_at);
CREATE INDEX IF NOT EXISTS idx_interactions_kind ON interactions(kind, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record serializes detail and appends one interaction. Failures are logged
// rather than surfaced so persistence never disturbs a live session.
func (s *Store) Record(ctx context.Context, surface, kind string, detail any) {
	if s == nil || s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return
	}
	payload, err := json.Marshal(detail)
	if err != nil {
		s.log.Warn("marshal interaction detail failed", slog.String("error", err.Error()))
		return
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO interactions(surface, kind, detail, created_at) VALUES(?, ?, ?, ?)`,
		surface, kind, payload, s.clock().UTC())
	if err != nil {
		s.log.Warn("record interaction failed", slog.String("error", err.Error()))
	}
}

// List returns the most recent interactions of a kind (empty kind means
// all), newest first.
func (s *Store) List(ctx context.Context, kind string, limit int) ([]Interaction, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, surface, kind, detail, created_at FROM interactions`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var it Interaction
		if err := rows.Scan(&it.ID, &it.Surface, &it.Kind, &it.Detail, &it.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Prune applies the retention policy: drop rows older than retention_days
// and keep at most max_records.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
		if _, err := s.db.ExecContext(ctx, `DELETE FROM interactions WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxRecords > 0 {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM interactions WHERE id NOT IN (
			    SELECT id FROM interactions ORDER BY created_at DESC, id DESC LIMIT ?)`,
			s.cfg.MaxRecords)
		if err != nil {
			return err
		}
	}
	return nil
}
