package storage

import (
	"fmt"
	"time"

	kit "mediavault/internal/transport"
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// GroupMeta is the durable header row of one committed album. Metadata
// fields are immutable after the first insert; a key conflict only bumps
// the stored item_count.
type GroupMeta struct {
	Key       string
	Owner     string
	ChatID    int64
	ChatKind  string
	UserID    int64
	Username  string
	FirstName string
	LastName  string
}

// SingleItem is one standalone stored item, unique per (FileID, Owner).
// A resend of the same file replaces the existing row.
type SingleItem struct {
	Owner  string
	ChatID int64
	UserID int64
	Item   kit.MediaItem
}

// Error is a persistence failure with a vendor-neutral code suitable for
// user-facing failure notices.
type Error struct {
	Code string // DB_OPEN, DB_TX, DB_EXEC, DB_QUERY
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op, code string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}
