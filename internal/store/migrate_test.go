package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

func TestMigrateAddsColumnsToVersionOne(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	old := `CREATE TABLE display_messages (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  kind TEXT NOT NULL,
  username TEXT,
  body TEXT NOT NULL,
  ts INTEGER NOT NULL,
  profile_image TEXT
);
INSERT INTO display_messages (id, kind, username, body, ts) VALUES ('old', 'chat', 'alice', 'hello', 1);
PRAGMA user_version = 1;`
	if _, err := db.Exec(old); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_ = db.Close()

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	cols, err := sqliteTableInfo(ctx, s.db, "display_messages")
	if err != nil {
		t.Fatalf("table info: %v", err)
	}
	for _, name := range []string{"badge_url", "donation_amount"} {
		if _, ok := cols[name]; !ok {
			t.Fatalf("column %s missing after migration", name)
		}
	}
	if v, err := sqliteUserVersion(ctx, s.db); err != nil || v != schemaVersion {
		t.Fatalf("user_version = %d, %v", v, err)
	}
	if ok, err := sqliteHasIndex(ctx, s.db, "display_messages", "display_messages_ts"); err != nil || !ok {
		t.Fatalf("ts index missing: %v", err)
	}

	all, err := s.All(ctx)
	if err != nil || len(all) != 1 || all[0].ID != "old" {
		t.Fatalf("existing rows not readable: %+v %v", all, err)
	}
}

func TestSQLitePathReportsFile(t *testing.T) {
	s := openTemp(t)
	if got := sqlitePath(context.Background(), s.db); filepath.Base(got) != "chat.db" {
		t.Fatalf("unexpected path %q", got)
	}
}
