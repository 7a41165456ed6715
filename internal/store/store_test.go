package store

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"embedbot/internal/domain"

	_ "modernc.org/sqlite"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "annotations.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func views() []domain.EmbedView {
	return []domain.EmbedView{
		{Key: "embed_a", Label: "image", Provider: "image", Kind: "inline"},
		{Key: "embed_b", Label: "Tweet 2", Provider: "Tweet", Index: 2, Kind: "deferred", NSFW: true},
		{Key: "embed_c", Label: "Tweet 1", Provider: "Tweet", Index: 1, Kind: "deferred", NSFW: true},
	}
}

func TestRunMigrations_FreshAndIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if v, _ := GetSchemaVersion(db); v != 0 {
		t.Fatalf("expected version 0 for empty db, got %d", v)
	}
	for i := 0; i < 2; i++ {
		if err := RunMigrations(db, testLogger()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	v, err := GetSchemaVersion(db)
	if err != nil || v != schemaVersion {
		t.Fatalf("expected version %d, got %d (%v)", schemaVersion, v, err)
	}
	for _, table := range []string{"annotations", "fetch_outcomes", "schema_version"} {
		var name string
		if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name); err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestSplitSQL(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"CREATE TABLE t (id INT)", 1},
		{"CREATE TABLE t1 (id INT); CREATE TABLE t2 (id INT)", 2},
		{"  CREATE TABLE t (id INT)  ;  ", 1},
	}
	for _, tt := range tests {
		if got := splitSQL(tt.input); len(got) != tt.want {
			t.Errorf("splitSQL(%q): expected %d statements, got %d", tt.input, tt.want, len(got))
		}
	}
}

func TestLogAndRecent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	msg := domain.Message{ID: "m1", Channel: "cli", ChatID: "local"}

	if err := s.Log(ctx, msg, views()); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := s.Log(ctx, msg, nil); err != nil {
		t.Fatalf("Log with no views: %v", err)
	}

	recs, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].EmbedKey != "embed_c" || recs[0].Index != 1 || !recs[0].NSFW {
		t.Fatalf("unexpected newest record %+v", recs[0])
	}
	if recs[2].Channel != "cli" || recs[2].Kind != "inline" {
		t.Fatalf("unexpected oldest record %+v", recs[2])
	}
}

func TestProviderStats(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.Log(ctx, domain.Message{ID: "m1", Channel: "cli"}, views()); err != nil {
		t.Fatal(err)
	}
	s.RecordOutcome(ctx, "embed_b", OutcomeMaterialized, nil)
	s.RecordOutcome(ctx, "embed_c", OutcomeFailed, errors.New("status 404"))

	stats, err := s.ProviderStats(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ProviderStats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(stats))
	}
	tw := stats[0]
	if tw.Provider != "Tweet" || tw.Entries != 2 || tw.NSFW != 2 || tw.Deferred != 2 {
		t.Fatalf("unexpected tweet stats %+v", tw)
	}
	if tw.Materialized != 1 || tw.Failed != 1 {
		t.Fatalf("unexpected outcome counts %+v", tw)
	}
	if stats[1].Provider != "image" || stats[1].Deferred != 0 {
		t.Fatalf("unexpected image stats %+v", stats[1])
	}
}

func TestPrune(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	s.now = func() time.Time { return old }
	if err := s.Log(ctx, domain.Message{Channel: "cli"}, views()[:1]); err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return time.Now().UTC() }
	if err := s.Log(ctx, domain.Message{Channel: "cli"}, views()[1:]); err != nil {
		t.Fatal(err)
	}

	n, err := s.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
	recs, _ := s.Recent(ctx, 10)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records left, got %d", len(recs))
	}
}
