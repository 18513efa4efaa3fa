package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
)

// basePragmas are always applied. tuningPragmas are added when
// CHZPURI_SQLITE_TUNING=1.
var (
	basePragmas = []string{
		"PRAGMA busy_timeout=5000;",
	}
	tuningPragmas = []string{
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA wal_autocheckpoint=1000;",
		"PRAGMA temp_store=MEMORY;",
	}
)

// ApplySQLitePragmas runs the pragma set and logs each result. Failures are
// logged and skipped.
func ApplySQLitePragmas(ctx context.Context, db *sql.DB) {
	pragmas := basePragmas
	if os.Getenv("CHZPURI_SQLITE_TUNING") == "1" {
		pragmas = append(append([]string(nil), basePragmas...), tuningPragmas...)
	}
	for _, pragma := range pragmas {
		value, err := applyPragma(ctx, db, pragma)
		if err != nil {
			slog.Warn("store: pragma failed", "pragma", pragma, "err", err)
			continue
		}
		slog.Debug("store: pragma applied", "pragma", pragma, "value", value)
	}
}

// applyPragma returns the value a pragma reports, or "ok" for pragmas that
// return no row.
func applyPragma(ctx context.Context, db *sql.DB, pragma string) (any, error) {
	var value any
	err := db.QueryRowContext(ctx, pragma).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return nil, err
		}
		return "ok", nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}
