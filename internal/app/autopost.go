package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"mediavault/internal/fanout"
	"mediavault/internal/random"
	"mediavault/pkg/logx"
)

// autopost posts a random vault entry to every forward destination on a
// cron schedule. An empty vault is skipped quietly; the next tick tries
// again.
type autopost struct {
	cron     *cron.Cron
	selector *random.Selector
	engine   *fanout.Engine
	log      logx.Logger
}

func newAutopost(schedule string, selector *random.Selector, engine *fanout.Engine, log logx.Logger) (*autopost, error) {
	a := &autopost{
		cron:     cron.New(),
		selector: selector,
		engine:   engine,
		log:      log,
	}
	if _, err := a.cron.AddFunc(schedule, a.run); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *autopost) Start() { a.cron.Start() }

// Stop halts scheduling and waits briefly for an in-flight run.
func (a *autopost) Stop() {
	stopCtx := a.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		a.log.Warn("autopost run still in flight at shutdown")
	}
}

func (a *autopost) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	media, err := a.selector.Pick(ctx)
	if err != nil {
		a.log.Error("scheduled pick failed", logx.Err(err))
		return
	}
	if media == nil {
		a.log.Debug("vault empty, skipping scheduled post")
		return
	}

	rep := a.engine.Deliver(ctx, payloadFrom(media))
	a.log.Info("scheduled post delivered",
		logx.String("kind", string(media.Kind)),
		logx.Int("ok", len(rep.Succeeded)),
		logx.Int("failed", len(rep.Failed)))
}

func payloadFrom(m *random.Media) fanout.Payload {
	p := fanout.Payload{Items: m.Items}
	if m.Kind == random.KindGroup {
		p.Kind = fanout.PayloadAlbum
		p.GroupKey = m.Key
		if len(p.Items) > 0 && p.Items[0].Caption == "" {
			p.Items[0].Caption = m.Caption
		}
	} else {
		p.Kind = fanout.PayloadSingle
	}
	return p
}
