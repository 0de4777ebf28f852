// Package bot routes inbound events through the pipeline: album parts go
// to the correlation buffer, standalone media to single-item persistence,
// and the random command to the selector. It owns every user-facing
// feedback message.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mediavault/internal/fanout"
	"mediavault/internal/mediagroup"
	"mediavault/internal/random"
	"mediavault/internal/retry"
	"mediavault/internal/sanitize"
	"mediavault/internal/storage"
	kit "mediavault/internal/transport"
	"mediavault/pkg/logx"
)

type Router struct {
	owner    string
	buffer   *mediagroup.Buffer
	store    storage.Store
	engine   *fanout.Engine
	selector *random.Selector
	sender   kit.Sender
	retry    retry.Policy
	log      logx.Logger

	// base is the lifetime context for work triggered by flush timers,
	// which have no caller to inherit one from.
	base context.Context
}

func New(owner string, store storage.Store, engine *fanout.Engine, selector *random.Selector,
	sender kit.Sender, pol retry.Policy, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		owner:    owner,
		store:    store,
		engine:   engine,
		selector: selector,
		sender:   sender,
		retry:    pol,
		log:      log,
		base:     context.Background(),
	}
}

// SetBuffer wires the correlation buffer after construction; the buffer
// needs the router's commit function, so the two are tied together by the
// app.
func (r *Router) SetBuffer(b *mediagroup.Buffer) { r.buffer = b }

// Run consumes updates until ctx is done. Album parts are observed on
// the intake goroutine itself: the adapter delivers them in arrival order
// on this one channel, and Observe is a lock-and-append with no I/O, so
// running it inline is what keeps per-group item order intact. Everything
// else (storage commits, sends) runs as its own short task so a slow call
// never stalls intake.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	r.base = ctx
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			msg := up.Message
			if msg == nil {
				continue
			}
			if msg.Item != nil && msg.GroupKey != "" {
				r.observeAlbumPart(msg)
				continue
			}
			go r.Handle(ctx, msg)
		}
	}
}

// Handle dispatches one inbound message to exactly one path.
func (r *Router) Handle(ctx context.Context, msg *kit.Message) {
	switch {
	case msg.Item != nil && msg.GroupKey != "":
		r.observeAlbumPart(msg)
	case msg.Item != nil:
		r.handleSingle(ctx, msg)
	case isRandomCommand(msg.Text):
		r.handleRandom(ctx, msg)
	}
}

func isRandomCommand(text string) bool {
	cmd := strings.TrimSpace(text)
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	return cmd == "/random" || cmd == "/sj"
}

// --- album path ---

func (r *Router) observeAlbumPart(msg *kit.Message) {
	item := *msg.Item
	item.Caption = sanitize.Caption(item.Caption)

	r.buffer.Observe(msg.GroupKey, mediagroup.Origin{
		ChatID:    msg.ChatID,
		ChatKind:  msg.ChatKind,
		UserID:    msg.FromID,
		Username:  msg.FromUser,
		FirstName: msg.FromFirst,
		LastName:  msg.FromLast,
	}, item)
}

// CommitBatch persists a settled album and fans it out. It is the
// buffer's commit function: failures are contained here — there is no
// caller above the flush timer to surface them to.
func (r *Router) CommitBatch(b *mediagroup.Batch) {
	ctx := r.base
	to := kit.ChatTarget{ChatID: b.Origin.ChatID}
	log := r.log.With(logx.String("key", tail(b.Key, 6)))

	n, err := r.store.SaveGroup(ctx, storage.GroupMeta{
		Key:       b.Key,
		Owner:     r.owner,
		ChatID:    b.Origin.ChatID,
		ChatKind:  b.Origin.ChatKind,
		UserID:    b.Origin.UserID,
		Username:  b.Origin.Username,
		FirstName: b.Origin.FirstName,
		LastName:  b.Origin.LastName,
	}, b.Items)
	if err != nil {
		log.Error("group commit failed", logx.Err(err))
		r.notify(ctx, to, "❌ Save failed: "+errCode(err), 0)
		return
	}
	log.Info("group saved", logx.Int("items", n))

	r.feedback(ctx, to, fmt.Sprintf("✅ Saved %d files\n└ group <code>%s</code>", n, tail(b.Key, 6)), 0)

	rep := r.engine.Deliver(ctx, fanout.Payload{
		Kind:     fanout.PayloadAlbum,
		GroupKey: b.Key,
		Items:    b.Items,
	})
	r.sendReport(ctx, to, rep, tail(b.Key, 6), 0)
}

// --- single-item path ---

func (r *Router) handleSingle(ctx context.Context, msg *kit.Message) {
	item := *msg.Item
	item.Caption = sanitize.Caption(item.Caption)
	to := kit.ChatTarget{ChatID: msg.ChatID}
	log := r.log.With(
		logx.String("file_id", tail(item.FileID, 10)),
		logx.Int64("user_id", msg.FromID))

	err := r.store.SaveSingle(ctx, storage.SingleItem{
		Owner:  r.owner,
		ChatID: msg.ChatID,
		UserID: msg.FromID,
		Item:   item,
	})
	if err != nil {
		log.Error("single commit failed", logx.Err(err))
		r.notify(ctx, to, "❌ Save failed: "+errCode(err), msg.ID)
		return
	}
	log.Info("item saved", logx.String("kind", string(item.Kind)))

	r.feedback(ctx, to, savedItemText(item), msg.ID)

	rep := r.engine.Deliver(ctx, fanout.Payload{
		Kind:  fanout.PayloadSingle,
		Items: []kit.MediaItem{item},
	})
	r.sendReport(ctx, to, rep, "", msg.ID)
}

func savedItemText(item kit.MediaItem) string {
	var b strings.Builder
	b.WriteString("✅ <b>Saved</b>")
	if item.Duration > 0 {
		fmt.Fprintf(&b, "\n├ duration: %ds", item.Duration)
	}
	if item.MIME != "" {
		format := item.MIME
		if i := strings.IndexByte(format, '/'); i >= 0 {
			format = format[i+1:]
		}
		fmt.Fprintf(&b, "\n└ format: %s", format)
	}
	return b.String()
}

// --- random path ---

func (r *Router) handleRandom(ctx context.Context, msg *kit.Message) {
	to := kit.ChatTarget{ChatID: msg.ChatID}
	log := r.log.With(logx.Int64("user_id", msg.FromID))
	log.Info("random request")

	media, err := r.selector.Pick(ctx)
	if err != nil {
		log.Error("random pick failed", logx.Err(err))
		r.notify(ctx, to, "⚠️ Sending failed, try again later", msg.ID)
		return
	}
	if media == nil {
		// Valid outcome, not an error: the vault is empty.
		r.notify(ctx, to, "❌ No media available yet", msg.ID)
		return
	}

	if err := r.sendMedia(ctx, to, media); err != nil {
		log.Error("random send failed", logx.String("kind", string(media.Kind)), logx.Err(err))
		r.notify(ctx, to, "⚠️ Sending failed, try again later", msg.ID)
		return
	}
	log.Info("random sent",
		logx.String("kind", string(media.Kind)),
		logx.String("key", tail(media.Key, 6)))
}

func (r *Router) sendMedia(ctx context.Context, to kit.ChatTarget, m *random.Media) error {
	if m.Kind == random.KindGroup {
		_, err := r.sender.SendAlbum(ctx, to, m.Items, m.Caption)
		return err
	}
	return r.retry.Do(ctx, func() error {
		_, err := r.sender.SendMedia(ctx, to, m.Items[0])
		return err
	})
}

// --- feedback ---

// feedback sends a confirmation the user expects, replying to the
// triggering message when one is known; transient failures are retried,
// the final failure is only logged.
func (r *Router) feedback(ctx context.Context, to kit.ChatTarget, text string, replyTo int) {
	err := r.retry.Do(ctx, func() error {
		_, e := r.sender.SendText(ctx, to, text, &kit.SendOptions{ParseMode: "HTML", ReplyTo: replyTo})
		return e
	})
	if err != nil {
		r.log.Warn("feedback send failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

// notify is a best-effort, single-attempt notice.
func (r *Router) notify(ctx context.Context, to kit.ChatTarget, text string, replyTo int) {
	if _, err := r.sender.SendText(ctx, to, text, &kit.SendOptions{ParseMode: "HTML", ReplyTo: replyTo}); err != nil {
		r.log.Warn("notice send failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func (r *Router) sendReport(ctx context.Context, to kit.ChatTarget, rep fanout.Report, key string, replyTo int) {
	if rep.Total == 0 {
		// No destinations configured; nothing to report.
		return
	}
	r.feedback(ctx, to, formatReport(rep, key), replyTo)
}

func formatReport(rep fanout.Report, key string) string {
	var b strings.Builder
	b.WriteString("📮 Forward complete")
	if key != "" {
		fmt.Fprintf(&b, " [group <code>%s</code>]", key)
	}
	b.WriteString("\n")

	if len(rep.Succeeded) > 0 {
		fmt.Fprintf(&b, "\n✅ Delivered to %d of %d chats", len(rep.Succeeded), rep.Total)
		for _, label := range rep.Succeeded {
			fmt.Fprintf(&b, "\n└ %s", label)
		}
	}
	if len(rep.Failed) > 0 {
		fmt.Fprintf(&b, "\n❌ Failed: %d chat(s)", len(rep.Failed))
	}
	return b.String()
}

func errCode(err error) string {
	var se *storage.Error
	if errors.As(err, &se) {
		return se.Code
	}
	return "SERVER_ERROR"
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
