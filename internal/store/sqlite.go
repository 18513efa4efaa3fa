// Package store persists the backend's display messages and playlist in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/httpapi"
)

const schemaVersion = 2

const schema = `CREATE TABLE IF NOT EXISTS display_messages (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  kind TEXT NOT NULL,
  username TEXT,
  body TEXT NOT NULL,
  ts INTEGER NOT NULL,
  profile_image TEXT,
  badge_url TEXT,
  donation_amount INTEGER
);
CREATE TABLE IF NOT EXISTS playlist_state (
  slot INTEGER PRIMARY KEY CHECK (slot = 0),
  state_json TEXT NOT NULL,
  updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);`

const defaultListLimit = 100

type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// A single connection keeps in-memory databases shared across calls.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	ctx := context.Background()
	ApplySQLitePragmas(ctx, db)
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Write appends msg. A message whose id is already stored is ignored.
func (s *SQLiteStore) Write(msg core.DisplayMessage) error {
	const q = `INSERT INTO display_messages (id, kind, username, body, ts, profile_image, badge_url, donation_amount)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;`
	_, err := s.db.Exec(q, msg.ID, string(msg.Kind), nullString(msg.Author), msg.Body, msg.TimestampMillis,
		nullString(msg.ProfileImage), nullString(msg.BadgeURL), nullInt(msg.DonationAmount))
	return errors.Wrap(err, "insert display message")
}

func (s *SQLiteStore) Ping() error {
	return s.db.Ping()
}

func (s *SQLiteStore) String() string {
	return fmt.Sprintf("SQLiteStore{%p}", s.db)
}

// All returns every stored message in insertion order.
func (s *SQLiteStore) All(ctx context.Context) ([]core.DisplayMessage, error) {
	return s.query(ctx, "SELECT id, kind, username, body, ts, profile_image, badge_url, donation_amount FROM display_messages ORDER BY seq ASC;")
}

func (s *SQLiteStore) CountMessages(ctx context.Context, filters httpapi.Filters) (int64, error) {
	query, args := buildMessageQuery(filters, true)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count")
	}
	return n, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, filters httpapi.Filters) ([]core.DisplayMessage, error) {
	query, args := buildMessageQuery(filters, false)
	return s.query(ctx, query, args...)
}

// Clear deletes every stored message.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM display_messages;`)
	return errors.Wrap(err, "clear display messages")
}

func (s *SQLiteStore) SavePlaylist(ctx context.Context, st core.PlaylistState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "encode playlist")
	}
	const q = `INSERT INTO playlist_state (slot, state_json, updated_at) VALUES (0, ?, strftime('%s','now'))
ON CONFLICT(slot) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at;`
	_, err = s.db.ExecContext(ctx, q, string(data))
	return errors.Wrap(err, "save playlist")
}

// LoadPlaylist returns the saved playlist. ok is false when none was saved.
func (s *SQLiteStore) LoadPlaylist(ctx context.Context) (st core.PlaylistState, ok bool, err error) {
	var raw string
	err = s.db.QueryRowContext(ctx, `SELECT state_json FROM playlist_state WHERE slot = 0;`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return core.PlaylistState{}, false, nil
	}
	if err != nil {
		return core.PlaylistState{}, false, errors.Wrap(err, "load playlist")
	}
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return core.PlaylistState{}, false, errors.Wrap(err, "decode playlist")
	}
	return st, true, nil
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]core.DisplayMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	defer rows.Close()

	var out []core.DisplayMessage
	for rows.Next() {
		var (
			msg                    core.DisplayMessage
			kind                   string
			author, profile, badge sql.NullString
			amount                 sql.NullInt64
		)
		if err := rows.Scan(&msg.ID, &kind, &author, &msg.Body, &msg.TimestampMillis, &profile, &badge, &amount); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		msg.Kind = core.MessageKind(kind)
		msg.Author = fromNull(author)
		msg.ProfileImage = fromNull(profile)
		msg.BadgeURL = fromNull(badge)
		if amount.Valid {
			v := amount.Int64
			msg.DonationAmount = &v
		}
		out = append(out, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate messages")
	}
	return out, nil
}

func buildMessageQuery(filters httpapi.Filters, count bool) (string, []any) {
	var builder strings.Builder
	if count {
		builder.WriteString("SELECT COUNT(*) FROM display_messages")
	} else {
		builder.WriteString("SELECT id, kind, username, body, ts, profile_image, badge_url, donation_amount FROM display_messages")
	}

	var (
		conditions []string
		args       []any
	)

	if len(filters.Kinds) > 0 {
		placeholders := make([]string, 0, len(filters.Kinds))
		for _, k := range filters.Kinds {
			placeholders = append(placeholders, "?")
			args = append(args, string(k))
		}
		conditions = append(conditions, fmt.Sprintf("kind IN (%s)", strings.Join(placeholders, ",")))
	}

	if len(filters.Usernames) > 0 {
		ors := make([]string, 0, len(filters.Usernames))
		for _, u := range filters.Usernames {
			ors = append(ors, "LOWER(COALESCE(username, '')) LIKE '%' || ? || '%'")
			args = append(args, u)
		}
		conditions = append(conditions, fmt.Sprintf("(%s)", strings.Join(ors, " OR ")))
	}

	if filters.Since != nil {
		conditions = append(conditions, "ts >= ?")
		args = append(args, filters.Since.UnixMilli())
	}

	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	if !count {
		order := "DESC"
		if filters.Order == httpapi.OrderAsc {
			order = "ASC"
		}
		builder.WriteString(" ORDER BY seq ")
		builder.WriteString(order)
		limit := filters.Limit
		if limit <= 0 {
			limit = defaultListLimit
		}
		builder.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	builder.WriteString(";")
	return builder.String(), args
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func fromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
