// Package mediagroup coalesces album messages that share a correlation
// key. Telegram splits one album into several transport events with no
// up-front size hint, so an entry is flushed only after it has been quiet
// for a full debounce window: every new item reschedules the flush timer.
package mediagroup

import (
	"sync"
	"time"

	kit "mediavault/internal/transport"
	"mediavault/pkg/logx"
)

// DefaultWindow is the quiet period after which an album is considered
// complete. 3.5s absorbs Telegram's typical inter-part delivery jitter.
const DefaultWindow = 3500 * time.Millisecond

// Origin captures where a batch came from. The first event of a batch
// wins; later events never overwrite it.
type Origin struct {
	ChatID    int64
	ChatKind  string
	UserID    int64
	Username  string
	FirstName string
	LastName  string
	StartedAt time.Time
}

// Batch is the settled result handed to the commit function. The buffer
// retains no reference to it after flush.
type Batch struct {
	Key    string
	Origin Origin
	Items  []kit.MediaItem // arrival order
}

// CommitFunc receives a settled batch. It runs on the timer goroutine,
// outside the buffer lock; the entry is already gone from the buffer and
// will not be retried regardless of the commit outcome.
type CommitFunc func(b *Batch)

type entry struct {
	origin Origin
	items  []kit.MediaItem
	timer  *time.Timer

	// gen invalidates stale timers: a flush only proceeds when its
	// generation still matches the entry's. Observe bumps it on every
	// reschedule, so a timer that fired while Observe held the lock
	// becomes a no-op instead of committing a half-updated batch.
	gen uint64
}

type Buffer struct {
	mu      sync.Mutex
	entries map[string]*entry

	window time.Duration
	commit CommitFunc
	log    logx.Logger
}

func New(window time.Duration, commit CommitFunc, log logx.Logger) *Buffer {
	if window <= 0 {
		window = DefaultWindow
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Buffer{
		entries: make(map[string]*entry),
		window:  window,
		commit:  commit,
		log:     log,
	}
}

// Observe records one event for key. Unseen keys open a new entry; every
// call appends the item and slides the flush window to a full interval
// from now.
func (b *Buffer) Observe(key string, origin Origin, item kit.MediaItem) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entries[key]
	if e == nil {
		if origin.StartedAt.IsZero() {
			origin.StartedAt = time.Now()
		}
		e = &entry{origin: origin}
		b.entries[key] = e
		b.log.Debug("batch opened",
			logx.String("key", key),
			logx.Int64("chat_id", origin.ChatID),
			logx.Int64("user_id", origin.UserID))
	}

	e.items = append(e.items, item)
	e.gen++
	gen := e.gen

	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(b.window, func() { b.flush(key, gen) })
}

// SetWindow changes the debounce window for subsequent reschedules.
// Timers already armed keep their old deadline.
func (b *Buffer) SetWindow(window time.Duration) {
	if window <= 0 {
		return
	}
	b.mu.Lock()
	b.window = window
	b.mu.Unlock()
}

// Len reports the number of open entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *Buffer) flush(key string, gen uint64) {
	b.mu.Lock()
	e := b.entries[key]
	if e == nil || e.gen != gen {
		// Superseded by a newer Observe, or already flushed.
		b.mu.Unlock()
		return
	}
	delete(b.entries, key)
	b.mu.Unlock()

	b.log.Debug("batch settled", logx.String("key", key), logx.Int("items", len(e.items)))

	if b.commit == nil {
		return
	}
	b.commit(&Batch{Key: key, Origin: e.origin, Items: e.items})
}
