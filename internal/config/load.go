// Package config loads the process configuration: a YAML or JSON file
// decoded strictly, with a small set of environment overrides layered on
// top so deployments can keep secrets out of the file.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// ErrMissingOwner is returned when no bot identity is configured. It is
// fatal: nothing that touches storage may start without an owner.
var ErrMissingOwner = errors.New("config: bot_name is required (set it in the config file or BOT_NAME)")

// ErrMissingToken is returned when no Telegram token is configured.
var ErrMissingToken = errors.New("config: telegram token is required (set telegram.token or TELEGRAM_TOKEN)")

// Load reads path (YAML or JSON), applies environment overrides and
// validates the result. A missing file is tolerated — the environment may
// carry everything required.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Logging.Console = true

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			parsed, perr := Parse(path, b)
			if perr != nil {
				return nil, perr
			}
			cfg = parsed
		case errors.Is(err, fs.ErrNotExist):
			// env-only deployment
		default:
			return nil, err
		}
	}

	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes file content strictly. YAML is coerced to JSON bytes so
// the same DisallowUnknownFields decoder covers both formats.
func Parse(path string, data []byte) (*Config, error) {
	jb, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	cfg.Logging.Console = true

	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	// Reject trailing tokens (e.g. concatenated JSON documents).
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields nothing can run without.
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.BotName) == "" {
		return ErrMissingOwner
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return ErrMissingToken
	}
	if w := cfg.Pipeline.SingleWeight; w < 0 || w > 1 {
		return fmt.Errorf("config: pipeline.single_weight %v out of [0,1]", w)
	}
	return nil
}

// Duration resolves one of the duration-string tuning fields (debounce
// window, retry base, busy timeout, poll timeout). Empty means "not set"
// and yields def; negative values are rejected rather than silently
// clamped, since a negative window or backoff is always a typo.
func Duration(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %q is not a duration: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: %s: %s is negative", field, d)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("BOT_NAME")); v != "" {
		cfg.BotName = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_PATH")); v != "" {
		cfg.Storage.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("FORWARD_CHAT_IDS")); v != "" {
		if ids := parseChatIDs(v); len(ids) > 0 {
			cfg.Forward.ChatIDs = ids
		}
	}
}

func parseChatIDs(raw string) []int64 {
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// coerceToJSONBytes converts YAML config to JSON bytes so the strict JSON
// decoder serves both formats.
func coerceToJSONBytes(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	v = normalizeYAML(v)

	j, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

// normalizeYAML ensures all map keys are strings so the result can be
// JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
