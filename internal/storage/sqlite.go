// Package storage is the persistence gateway: schema bootstrap,
// transactional group commits, replace-on-resend single commits, and the
// random lookups backing the /random path. It never talks to destinations;
// failures surface as *Error and the caller decides what to tell the user.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	kit "mediavault/internal/transport"
	"mediavault/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the persistence API used by the pipeline.
type Store interface {
	// SaveGroup commits one settled album atomically: the group header is
	// upserted (a key conflict only adjusts item_count) and every item is
	// inserted in order. Returns the number of items written.
	SaveGroup(ctx context.Context, g GroupMeta, items []kit.MediaItem) (int, error)

	// SaveSingle commits one standalone item. An existing row with the
	// same (file_id, owner) is deleted first, so a resend replaces the
	// earlier record.
	SaveSingle(ctx context.Context, s SingleItem) error

	// RandomSingle draws one stored single item uniformly at random for
	// owner. Returns (nil, nil) when the table holds nothing for owner.
	RandomSingle(ctx context.Context, owner string) (*SingleItem, error)

	// RandomGroup draws one stored group uniformly at random for owner
	// and returns its items in insertion order. Returns ("", nil, nil)
	// when no group exists.
	RandomGroup(ctx context.Context, owner string) (string, []kit.MediaItem, error)

	Close() error
}

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (creating if needed) the SQLite database and applies the
// embedded schema.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, wrap("open", "DB_OPEN", errors.New("sqlite path is required"))
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, wrap("open", "DB_OPEN", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, wrap("open", "DB_OPEN", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, wrap("migrate", "DB_EXEC", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveGroup(ctx context.Context, g GroupMeta, items []kit.MediaItem) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrap("save_group", "DB_TX", err)
	}
	defer func() { _ = tx.Rollback() }()

	// A repeated key (same batch observed again after its window elapsed)
	// keeps the original metadata; item_count grows by the new rows so it
	// stays equal to the row count for the key.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO media_groups (group_key, owner, chat_id, chat_kind, user_id, username, first_name, last_name, item_count, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(group_key, owner) DO UPDATE SET item_count = item_count + excluded.item_count`,
		g.Key, g.Owner, g.ChatID, g.ChatKind, g.UserID,
		nullStr(g.Username), nullStr(g.FirstName), nullStr(g.LastName),
		len(items), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, wrap("save_group", "DB_EXEC", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO media_items (group_key, owner, kind, file_id, caption, at) VALUES (?,?,?,?,?,?)`)
	if err != nil {
		return 0, wrap("save_group", "DB_EXEC", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, g.Key, g.Owner, string(it.Kind), it.FileID, nullStr(it.Caption), it.Unix); err != nil {
			return 0, wrap("save_group", "DB_EXEC", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, wrap("save_group", "DB_TX", err)
	}
	return len(items), nil
}

func (s *sqliteStore) SaveSingle(ctx context.Context, item SingleItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("save_single", "DB_TX", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM single_items WHERE file_id = ? AND owner = ? LIMIT 1`,
		item.Item.FileID, item.Owner).Scan(&existing)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `DELETE FROM single_items WHERE id = ?`, existing); err != nil {
			return wrap("save_single", "DB_EXEC", err)
		}
		s.log.Debug("replacing stored item", logx.String("file_id", tail(item.Item.FileID, 8)))
	case errors.Is(err, sql.ErrNoRows):
		// first sighting
	default:
		return wrap("save_single", "DB_QUERY", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO single_items (file_id, owner, kind, chat_id, user_id, caption, duration, mime_type, at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		item.Item.FileID, item.Owner, string(item.Item.Kind), item.ChatID, item.UserID,
		nullStr(item.Item.Caption), item.Item.Duration, nullStr(item.Item.MIME), item.Item.Unix,
	)
	if err != nil {
		return wrap("save_single", "DB_EXEC", err)
	}

	if err := tx.Commit(); err != nil {
		return wrap("save_single", "DB_TX", err)
	}
	return nil
}

func (s *sqliteStore) RandomSingle(ctx context.Context, owner string) (*SingleItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT file_id, kind, chat_id, user_id, COALESCE(caption,''), duration, COALESCE(mime_type,''), at
		 FROM single_items WHERE owner = ? ORDER BY RANDOM() LIMIT 1`, owner)

	var it SingleItem
	var kind string
	err := row.Scan(&it.Item.FileID, &kind, &it.ChatID, &it.UserID, &it.Item.Caption, &it.Item.Duration, &it.Item.MIME, &it.Item.Unix)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("random_single", "DB_QUERY", err)
	}
	it.Owner = owner
	it.Item.Kind = kit.MediaKind(kind)
	return &it, nil
}

func (s *sqliteStore) RandomGroup(ctx context.Context, owner string) (string, []kit.MediaItem, error) {
	var key string
	err := s.db.QueryRowContext(ctx,
		`SELECT group_key FROM media_groups WHERE owner = ? ORDER BY RANDOM() LIMIT 1`, owner).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, wrap("random_group", "DB_QUERY", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, file_id, COALESCE(caption,''), at
		 FROM media_items WHERE group_key = ? AND owner = ? ORDER BY id ASC`, key, owner)
	if err != nil {
		return "", nil, wrap("random_group", "DB_QUERY", err)
	}
	defer rows.Close()

	var items []kit.MediaItem
	for rows.Next() {
		var it kit.MediaItem
		var kind string
		if err := rows.Scan(&kind, &it.FileID, &it.Caption, &it.Unix); err != nil {
			return "", nil, wrap("random_group", "DB_QUERY", err)
		}
		it.Kind = kit.MediaKind(kind)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return "", nil, wrap("random_group", "DB_QUERY", err)
	}
	if len(items) == 0 {
		// Header without items should not happen (the commit is atomic),
		// but treat it as "nothing stored" rather than an error.
		return "", nil, nil
	}
	return key, items, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
