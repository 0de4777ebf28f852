package config

import (
	"context"
	"hash/fnv"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mediavault/pkg/logx"
)

// Watch re-parses path whenever the file changes and hands validated,
// content-changed configs to onChange. Editors tend to emit bursts of
// events (and partial writes), so reloads are debounced. Watch returns
// when ctx is done or the watcher cannot be created; losing the watcher
// only loses hot reload — the startup config keeps working.
func Watch(ctx context.Context, path string, log logx.Logger, onChange func(*Config)) error {
	if log.IsZero() {
		log = logx.Nop()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(path)
	file := filepath.Base(path)
	if err := w.Add(dir); err != nil {
		return err
	}
	log.Debug("config watcher started", logx.String("path", path))

	var (
		mu       sync.Mutex
		timer    *time.Timer
		lastHash uint64
	)
	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			log.Warn("config reload rejected", logx.Err(err))
			return
		}
		h := hashConfig(cfg)
		mu.Lock()
		unchanged := h != 0 && h == lastHash
		if !unchanged {
			lastHash = h
		}
		mu.Unlock()
		if unchanged {
			return
		}
		log.Info("config reloaded", logx.String("path", path))
		onChange(cfg)
	}
	debounce := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, reload)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			// Compare basenames: editors replace files via rename.
			if strings.EqualFold(filepath.Base(ev.Name), file) &&
				ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	h := fnv.New64a()
	enc := func(s string) {
		_, _ = h.Write([]byte(s))
		_, _ = h.Write([]byte{0})
	}
	enc(cfg.BotName)
	enc(cfg.Telegram.Token)
	enc(cfg.Logging.Level)
	enc(strconv.FormatBool(cfg.Logging.Console))
	enc(strconv.FormatBool(cfg.Logging.File.Enabled))
	enc(cfg.Logging.File.Path)
	enc(cfg.Storage.Path)
	enc(cfg.Pipeline.DebounceWindow)
	enc(cfg.Pipeline.RetryBase)
	enc(cfg.Autopost.Schedule)
	for _, id := range cfg.Forward.ChatIDs {
		enc(strconv.FormatInt(id, 10))
	}
	return h.Sum64()
}
