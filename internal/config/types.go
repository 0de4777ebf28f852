package config

type Config struct {
	// BotName is the owning-bot identity every durable row is scoped by.
	// Required: persistence-touching components refuse to construct
	// without it.
	BotName string `json:"bot_name"`

	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Pipeline PipelineConfig `json:"pipeline"`
	Forward  ForwardConfig  `json:"forward"`
	Autopost AutopostConfig `json:"autopost,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite busy handler).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// PipelineConfig tunes the aggregation and delivery core.
//
// All durations are Go duration strings. Defaults (when omitted/zero):
//   - debounce_window: "3.5s"
//   - retry_max: 3
//   - retry_base: "1s"
//   - rate_per_sec: 5
//   - single_weight: 0.5
type PipelineConfig struct {
	DebounceWindow string  `json:"debounce_window,omitempty"`
	RetryMax       int     `json:"retry_max,omitempty"`
	RetryBase      string  `json:"retry_base,omitempty"`
	RatePerSec     int     `json:"rate_per_sec,omitempty"`
	SingleWeight   float64 `json:"single_weight,omitempty"`
}

// ForwardConfig is the initial destination set. Destinations are assumed
// pre-vetted; there is no permission check beyond Telegram's own.
type ForwardConfig struct {
	ChatIDs []int64 `json:"chat_ids"`
}

// AutopostConfig schedules unattended random posts to all destinations.
// Schedule is a cron spec ("0 */6 * * *"); empty disables the job.
type AutopostConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
}
