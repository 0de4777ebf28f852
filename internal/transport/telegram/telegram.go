// Package telegram binds the transport kit to the Telegram Bot API via
// telebot long polling.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "mediavault/internal/runtime/supervisor"
	kit "mediavault/internal/transport"
	"mediavault/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	// dropped counts updates discarded because the consumer was slower
	// than the poll loop; reported periodically instead of per update.
	dropped uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	media := func(c tele.Context) error {
		a.forward(c.Message())
		return nil
	}
	a.bot.Handle(tele.OnPhoto, media)
	a.bot.Handle(tele.OnVideo, media)
	a.bot.Handle(tele.OnDocument, media)
	a.bot.Handle(tele.OnAudio, media)
	a.bot.Handle(tele.OnText, media)
}

func (a *Adapter) forward(m *tele.Message) {
	if m == nil || m.Sender == nil || m.Chat == nil {
		return
	}
	msg := &kit.Message{
		ID:        m.ID,
		GroupKey:  m.AlbumID,
		ChatID:    m.Chat.ID,
		ChatKind:  string(m.Chat.Type),
		FromID:    m.Sender.ID,
		FromFirst: m.Sender.FirstName,
		FromLast:  m.Sender.LastName,
		FromUser:  m.Sender.Username,
		Text:      m.Text,
		Item:      parseMedia(m),
		Unix:      m.Unixtime,
	}

	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- kit.Update{Message: msg}:
	default:
		atomic.AddUint64(&a.dropped, 1)
	}
}

// parseMedia extracts the single media item a message carries, if any.
// Photos use the largest size's file id (telebot already collapses the
// size array into one Photo).
func parseMedia(m *tele.Message) *kit.MediaItem {
	switch {
	case m.Photo != nil:
		return &kit.MediaItem{
			Kind: kit.KindPhoto, FileID: m.Photo.FileID,
			Caption: m.Caption, Unix: m.Unixtime,
		}
	case m.Video != nil:
		return &kit.MediaItem{
			Kind: kit.KindVideo, FileID: m.Video.FileID,
			Caption: m.Caption, Duration: m.Video.Duration,
			MIME: m.Video.MIME, Unix: m.Unixtime,
		}
	case m.Document != nil:
		return &kit.MediaItem{
			Kind: kit.KindDocument, FileID: m.Document.FileID,
			Caption: m.Caption, MIME: m.Document.MIME, Unix: m.Unixtime,
		}
	case m.Audio != nil:
		return &kit.MediaItem{
			Kind: kit.KindAudio, FileID: m.Audio.FileID,
			Caption: m.Caption, Duration: m.Audio.Duration,
			MIME: m.Audio.MIME, Unix: m.Unixtime,
		}
	default:
		return nil
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	sup := a.sup
	a.runMu.Unlock()

	sup.Go("updates.drop_report", func(c context.Context) error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				if n := atomic.SwapUint64(&a.dropped, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
				}
				return nil
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.dropped, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
				}
			}
		}
	})

	sup.Go("telebot.stop_on_cancel", func(c context.Context) error {
		<-c.Done()
		if a.bot != nil {
			a.bot.Stop()
		}
		return nil
	})

	sup.Go("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop()
		a.log.Info("polling stopped")
		return nil
	})

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if sup != nil {
		sup.Cancel()
	}

	// Keep shutdown snappy even if the long-poll is mid-wait.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if sup != nil {
		if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			a.log.Warn("telegram stop error", logx.Err(err))
		}
	}
	return nil
}

func (a *Adapter) SendAlbum(ctx context.Context, to kit.ChatTarget, items []kit.MediaItem, leadCaption string) (kit.Receipt, error) {
	if err := ctxErr(ctx); err != nil {
		return kit.Receipt{}, err
	}
	album := make(tele.Album, 0, len(items))
	for i, it := range items {
		caption := ""
		if i == 0 {
			caption = leadCaption
		}
		album = append(album, inputMedia(it, caption))
	}

	msgs, err := a.bot.SendAlbum(&tele.Chat{ID: to.ChatID}, album, tele.ModeHTML)
	if err != nil {
		return kit.Receipt{}, err
	}
	return receiptFrom(firstMsg(msgs)), nil
}

func (a *Adapter) SendMedia(ctx context.Context, to kit.ChatTarget, item kit.MediaItem) (kit.Receipt, error) {
	if err := ctxErr(ctx); err != nil {
		return kit.Receipt{}, err
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, inputMedia(item, item.Caption), tele.ModeHTML)
	if err != nil {
		return kit.Receipt{}, err
	}
	return receiptFrom(msg), nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.Receipt, error) {
	if err := ctxErr(ctx); err != nil {
		return kit.Receipt{}, err
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}
	sendOpt := &tele.SendOptions{ParseMode: opt.ParseMode}
	if opt.ReplyTo != 0 {
		sendOpt.ReplyTo = &tele.Message{ID: opt.ReplyTo, Chat: chat}
	}
	msg, err := a.bot.Send(chat, text, sendOpt)
	if err != nil {
		return kit.Receipt{}, err
	}
	return receiptFrom(msg), nil
}

// inputMedia builds the telebot sendable for one item. The caption rides
// on the media object itself; HTML parse mode is set at the send call.
func inputMedia(it kit.MediaItem, caption string) tele.Inputtable {
	file := tele.File{FileID: it.FileID}
	switch it.Kind {
	case kit.KindVideo:
		return &tele.Video{File: file, Caption: caption}
	case kit.KindDocument:
		return &tele.Document{File: file, Caption: caption}
	case kit.KindAudio:
		return &tele.Audio{File: file, Caption: caption}
	default:
		return &tele.Photo{File: file, Caption: caption}
	}
}

func firstMsg(msgs []tele.Message) *tele.Message {
	if len(msgs) == 0 {
		return nil
	}
	return &msgs[0]
}

func receiptFrom(m *tele.Message) kit.Receipt {
	if m == nil || m.Chat == nil {
		return kit.Receipt{}
	}
	return kit.Receipt{ChatTitle: m.Chat.Title}
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
