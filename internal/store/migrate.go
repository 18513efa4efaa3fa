package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

type sqliteColumn struct {
	Name    string
	Type    string
	NotNull bool
}

// Migrate brings a database created by an older build up to schemaVersion.
// Version 1 stored neither badges nor donation amounts.
func Migrate(ctx context.Context, db *sql.DB) error {
	path := sqlitePath(ctx, db)
	userVersion, err := sqliteUserVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("sqlite: user_version: %w", err)
	}
	slog.Info("store: sqlite", "path", path, "user_version", userVersion)

	columns, err := sqliteTableInfo(ctx, db, "display_messages")
	if err != nil {
		return fmt.Errorf("sqlite: describe display_messages: %w", err)
	}
	if len(columns) == 0 {
		return fmt.Errorf("sqlite: display_messages table missing")
	}

	for _, col := range []struct{ name, ddl string }{
		{"badge_url", `ALTER TABLE display_messages ADD COLUMN badge_url TEXT;`},
		{"donation_amount", `ALTER TABLE display_messages ADD COLUMN donation_amount INTEGER;`},
	} {
		if _, ok := columns[col.name]; ok {
			continue
		}
		if _, err := db.ExecContext(ctx, col.ddl); err != nil {
			return fmt.Errorf("sqlite: ensure %s column: %w", col.name, err)
		}
		slog.Info("store: added column", "column", col.name)
	}

	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS display_messages_ts ON display_messages(ts);`); err != nil {
		return fmt.Errorf("sqlite: ensure display_messages_ts: %w", err)
	}
	hasIndex, err := sqliteHasIndex(ctx, db, "display_messages", "display_messages_ts")
	if err != nil {
		return fmt.Errorf("sqlite: inspect indices: %w", err)
	}

	if userVersion < schemaVersion {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, schemaVersion)); err != nil {
			return fmt.Errorf("sqlite: set user_version: %w", err)
		}
	}
	slog.Info("store: schema ready", "user_version", schemaVersion, "ts_index", hasIndex)
	return nil
}

func sqlitePath(ctx context.Context, db *sql.DB) string {
	rows, err := db.QueryContext(ctx, `PRAGMA database_list;`)
	if err != nil {
		return "(unknown)"
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq  int
			name string
			file sql.NullString
		)
		if err := rows.Scan(&seq, &name, &file); err != nil {
			return "(unknown)"
		}
		if strings.EqualFold(strings.TrimSpace(name), "main") {
			if file.Valid && strings.TrimSpace(file.String) != "" {
				return file.String
			}
			return "(memory)"
		}
	}
	return "(unknown)"
}

func sqliteUserVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func sqliteTableInfo(ctx context.Context, db *sql.DB, table string) (map[string]sqliteColumn, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s);`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]sqliteColumn)
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		out[strings.ToLower(strings.TrimSpace(name))] = sqliteColumn{
			Name:    name,
			Type:    strings.TrimSpace(colType),
			NotNull: notNull == 1,
		}
	}
	return out, rows.Err()
}

func sqliteHasIndex(ctx context.Context, db *sql.DB, table, index string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_list('%s');`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return false, err
		}
		if strings.EqualFold(strings.TrimSpace(name), index) {
			return true, nil
		}
	}
	return false, rows.Err()
}
