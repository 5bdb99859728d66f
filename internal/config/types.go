package config

type Config struct {
	// Timezone is the IANA zone every reminder instant is computed in.
	// Empty means the system local zone.
	Timezone string `json:"timezone,omitempty"`

	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Telegram  TelegramConfig  `json:"telegram"`

	// Calendar and Ollama are optional integrations; a nil section means
	// disabled.
	Calendar *CalendarConfig `json:"calendar,omitempty"`
	Ollama   *OllamaConfig   `json:"ollama,omitempty"`

	HTTP HTTPConfig `json:"http"`
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

// StorageConfig controls the sqlite task/reminder store.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// SchedulerConfig controls timer delivery behavior.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1h").
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - misfire_grace: "1h"
//   - delivery_timeout: "30s"
type SchedulerConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// MisfireGrace is how late a timer may be discovered and still fire.
	MisfireGrace string `json:"misfire_grace,omitempty"`

	// DeliveryTimeout bounds one delivery attempt end to end.
	DeliveryTimeout string `json:"delivery_timeout,omitempty"`
}

type TelegramConfig struct {
	Token      string `json:"token"`
	ChatID     int64  `json:"chat_id"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	// SendTimeout is a Go duration string (e.g. "10s").
	SendTimeout string `json:"send_timeout,omitempty"`
}

// CalendarConfig controls the Google Calendar mirror and sync loop.
type CalendarConfig struct {
	Enabled         bool   `json:"enabled"`
	CredentialsPath string `json:"credentials_path"`
	TokenPath       string `json:"token_path"`
	CalendarID      string `json:"calendar_id,omitempty"` // default "primary"

	// SyncInterval is a Go duration string; default "5m".
	SyncInterval string `json:"sync_interval,omitempty"`
	// SyncDays is the lookahead window in days; default 7.
	SyncDays int `json:"sync_days,omitempty"`
	// MaxResults caps one list call; default 100.
	MaxResults int64 `json:"max_results,omitempty"`
}

// OllamaConfig controls the optional LLM parse assist for free-text intake.
type OllamaConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url,omitempty"` // default http://localhost:11434
	Model   string `json:"model,omitempty"`    // default llama3.2
	// Timeout is a Go duration string; default "8s".
	Timeout string `json:"timeout,omitempty"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8000"
	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}
