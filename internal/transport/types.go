// Package transport defines the platform-neutral types exchanged between
// the messaging adapter and the pipeline. The Telegram binding lives in
// transport/telegram.
package transport

import "context"

// MediaKind identifies the payload type of a media item.
type MediaKind string

const (
	KindPhoto    MediaKind = "photo"
	KindVideo    MediaKind = "video"
	KindDocument MediaKind = "document"
	KindAudio    MediaKind = "audio"
)

// MediaItem is one content-bearing element of a message. FileID is an
// opaque platform handle for the underlying bytes; the bytes themselves
// are never pulled through this system.
type MediaItem struct {
	Kind     MediaKind
	FileID   string
	Caption  string // sanitized by the router before it reaches storage
	Duration int    // seconds; video/audio only
	MIME     string
	Unix     int64 // origin timestamp, seconds resolution
}

// Message is one inbound event. GroupKey is the album correlation key
// (empty for standalone messages). Item is nil for plain text.
type Message struct {
	ID        int
	GroupKey  string
	ChatID    int64
	ChatKind  string // private/group/supergroup/channel
	FromID    int64
	FromFirst string
	FromLast  string
	FromUser  string // @username, may be empty
	Text      string
	Item      *MediaItem
	Unix      int64
}

type Update struct {
	Message *Message
}

type ChatTarget struct {
	ChatID int64
}

// Receipt is what a successful send yields. ChatTitle is the resolved
// human-readable label of the destination; it is frequently empty and
// callers must tolerate that.
type Receipt struct {
	ChatTitle string
}

type SendOptions struct {
	ParseMode string
	ReplyTo   int // message id to reply to; 0 for none
}

// Sender is the outbound delivery capability.
type Sender interface {
	// SendAlbum delivers the ordered items as one album. The lead caption
	// is attached to the first item only.
	SendAlbum(ctx context.Context, to ChatTarget, items []MediaItem, leadCaption string) (Receipt, error)

	// SendMedia delivers a single item with its caption.
	SendMedia(ctx context.Context, to ChatTarget, item MediaItem) (Receipt, error)

	// SendText delivers a feedback/report message.
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (Receipt, error)
}

// Adapter is the transport front door: it produces inbound updates and
// carries the Sender capability for outbound delivery.
type Adapter interface {
	Sender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
