package fanout

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"mediavault/internal/retry"
	kit "mediavault/internal/transport"
	"mediavault/pkg/logx"
)

// PayloadKind tags what a Payload carries.
type PayloadKind string

const (
	PayloadAlbum  PayloadKind = "album"
	PayloadSingle PayloadKind = "single"
)

// Payload is one committed unit ready for delivery. For PayloadSingle,
// Items holds exactly one element.
type Payload struct {
	Kind     PayloadKind
	GroupKey string // album correlation key; empty for singles
	Items    []kit.MediaItem
}

// Caption returns the lead caption attached to the first item.
func (p Payload) Caption() string {
	if len(p.Items) == 0 {
		return ""
	}
	return p.Items[0].Caption
}

// Engine fans one payload out to every registered destination. It owns no
// state across calls; each Deliver is an independent pass over the
// registry.
type Engine struct {
	reg     *Registry
	sender  kit.Sender
	limiter *rate.Limiter
	retry   retry.Policy
	log     logx.Logger
}

type EngineConfig struct {
	RatePerSec int // outbound sends per second across all destinations
	Retry      retry.Policy
}

func NewEngine(cfg EngineConfig, reg *Registry, sender kit.Sender, log logx.Logger) *Engine {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	pol := cfg.Retry
	if pol.MaxAttempts == 0 {
		pol = retry.Default
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		reg:     reg,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		retry:   pol,
		log:     log,
	}
}

// Registry exposes the destination set, mainly so config reloads can add
// destinations without rebuilding the engine.
func (e *Engine) Registry() *Registry { return e.reg }

// Deliver attempts the payload against every destination in registry
// order. A destination's failure is logged and recorded, never escalated,
// and never aborts the remaining destinations. Single-item sends go
// through the retry policy; album sends do not (re-sending a partially
// delivered album would duplicate items).
func (e *Engine) Deliver(ctx context.Context, p Payload) Report {
	rep := Report{ID: uuid.NewString()[:8]}
	if len(p.Items) == 0 {
		// Nothing to send; a zero report keeps this distinguishable from
		// a pass that attempted destinations.
		return rep
	}

	targets := e.reg.Targets()
	rep.Total = len(targets)
	if len(targets) == 0 {
		return rep
	}

	log := e.log.With(
		logx.String("job", rep.ID),
		logx.String("kind", string(p.Kind)),
		logx.Int("total", rep.Total))
	log.Info("fanout started")

	for i, t := range targets {
		if err := e.limiter.Wait(ctx); err != nil {
			// Context gone; everything not yet attempted counts as failed.
			for _, rest := range targets[i:] {
				rep.Failed = append(rep.Failed, rest.ChatID)
			}
			log.Warn("fanout aborted", logx.Int("remaining", len(targets)-i), logx.Err(err))
			break
		}

		receipt, err := e.sendOne(ctx, t, p)
		if err != nil {
			rep.Failed = append(rep.Failed, t.ChatID)
			log.Warn("destination send failed",
				logx.Int64("chat_id", t.ChatID),
				logx.Err(err))
			continue
		}
		rep.Succeeded = append(rep.Succeeded, destLabel(t.ChatID, receipt))
		log.Debug("destination send ok", logx.Int64("chat_id", t.ChatID))
	}

	if len(rep.Failed) > 0 {
		log.Warn("fanout finished with failures",
			logx.Int("ok", len(rep.Succeeded)), logx.Int("failed", len(rep.Failed)))
	} else {
		log.Info("fanout finished", logx.Int("ok", len(rep.Succeeded)))
	}
	return rep
}

func (e *Engine) sendOne(ctx context.Context, to kit.ChatTarget, p Payload) (kit.Receipt, error) {
	if p.Kind == PayloadAlbum {
		return e.sender.SendAlbum(ctx, to, p.Items, p.Caption())
	}

	var receipt kit.Receipt
	err := e.retry.Do(ctx, func() error {
		var sendErr error
		receipt, sendErr = e.sender.SendMedia(ctx, to, p.Items[0])
		return sendErr
	})
	return receipt, err
}

func destLabel(chatID int64, r kit.Receipt) string {
	if r.ChatTitle == "" {
		return strconv.FormatInt(chatID, 10)
	}
	return fmt.Sprintf("%d [%s]", chatID, r.ChatTitle)
}
