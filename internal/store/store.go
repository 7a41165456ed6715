// Package store keeps an annotation log in SQLite: which providers matched
// which messages, and how deferred fetches turned out. Fetched markup is
// never stored.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"embedbot/internal/domain"

	_ "modernc.org/sqlite"
)

// Outcome values recorded for deferred embeds.
const (
	OutcomeMaterialized  = "materialized"
	OutcomeFailed        = "failed"
	OutcomeTargetMissing = "target_missing"
)

// Record is one logged metadata entry.
type Record struct {
	ID        int64
	MessageID string
	Channel   string
	ChatID    string
	EmbedKey  string
	Provider  string
	Label     string
	Index     int
	Kind      string
	NSFW      bool
	CreatedAt time.Time
}

// ProviderStat aggregates the log per provider.
type ProviderStat struct {
	Provider     string
	Entries      int
	NSFW         int
	Deferred     int
	Materialized int
	Failed       int
}

type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Log records every view rendered for msg in one transaction.
func (s *SQLiteStore) Log(ctx context.Context, msg domain.Message, views []domain.EmbedView) error {
	if len(views) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO annotations (message_id, channel, chat_id, embed_key, provider, label, idx, kind, nsfw, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := s.now()
	for _, v := range views {
		if _, err := stmt.ExecContext(ctx,
			msg.ID, msg.Channel, msg.ChatID, v.Key, v.Provider, v.Label, v.Index, v.Kind, boolInt(v.NSFW), now,
		); err != nil {
			return fmt.Errorf("log %s: %w", v.Key, err)
		}
	}
	return tx.Commit()
}

// RecordOutcome notes how a deferred embed's fetch ended.
func (s *SQLiteStore) RecordOutcome(ctx context.Context, key, outcome string, fetchErr error) error {
	errText := ""
	if fetchErr != nil {
		errText = fetchErr.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fetch_outcomes (embed_key, outcome, error, created_at) VALUES (?, ?, ?, ?)`,
		key, outcome, errText, s.now(),
	)
	return err
}

// ProviderStats aggregates entries logged since the given time, busiest
// provider first.
func (s *SQLiteStore) ProviderStats(ctx context.Context, since time.Time) ([]ProviderStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.provider,
		        COUNT(*),
		        COALESCE(SUM(a.nsfw), 0),
		        COALESCE(SUM(CASE WHEN a.kind = 'deferred' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN EXISTS (SELECT 1 FROM fetch_outcomes o
		             WHERE o.embed_key = a.embed_key AND o.outcome = ?) THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN EXISTS (SELECT 1 FROM fetch_outcomes o
		             WHERE o.embed_key = a.embed_key AND o.outcome = ?) THEN 1 ELSE 0 END), 0)
		 FROM annotations a
		 WHERE a.created_at >= ?
		 GROUP BY a.provider
		 ORDER BY COUNT(*) DESC, a.provider`,
		OutcomeMaterialized, OutcomeFailed, since.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []ProviderStat
	for rows.Next() {
		var st ProviderStat
		if err := rows.Scan(&st.Provider, &st.Entries, &st.NSFW, &st.Deferred, &st.Materialized, &st.Failed); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Recent returns the newest records first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, channel, chat_id, embed_key, provider, label, idx, kind, nsfw, created_at
		 FROM annotations ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var nsfw int
		if err := rows.Scan(&r.ID, &r.MessageID, &r.Channel, &r.ChatID, &r.EmbedKey, &r.Provider,
			&r.Label, &r.Index, &r.Kind, &nsfw, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.NSFW = nsfw != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes records older than retention and returns how many
// annotations went.
func (s *SQLiteStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)
	res, err := s.db.ExecContext(ctx, `DELETE FROM annotations WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM fetch_outcomes WHERE created_at < ?`, cutoff); err != nil {
		return n, err
	}
	if n > 0 {
		s.logger.Info("annotation log pruned", "removed", n, "retention", retention)
	}
	return n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
