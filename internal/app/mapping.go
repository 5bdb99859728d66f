package app

import (
	"fmt"
	"strings"
	"time"

	"remindbot/internal/calsync"
	"remindbot/internal/config"
	"remindbot/internal/gcal"
	"remindbot/internal/httpapi"
	"remindbot/internal/ollama"
	"remindbot/internal/scheduler"
	"remindbot/internal/store"
	"remindbot/internal/telegram"
	"remindbot/pkg/logx"
)

// Mapping helpers translate the raw (string-duration) config sections into
// typed component configs. They double as validation: every parse error here
// rejects a config before it is committed.

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (store.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return store.Config{}, err
	}
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = "./remindbot.db"
	}
	return store.Config{Path: path, BusyTimeout: busy}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	if cfg.Scheduler.Workers < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.workers must be >= 0")
	}
	if cfg.Scheduler.QueueSize < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.queue_size must be >= 0")
	}
	grace, err := config.ParseDurationField("scheduler.misfire_grace", cfg.Scheduler.MisfireGrace)
	if err != nil {
		return scheduler.Config{}, err
	}
	timeout, err := config.ParseDurationField("scheduler.delivery_timeout", cfg.Scheduler.DeliveryTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Workers:         cfg.Scheduler.Workers,
		QueueSize:       cfg.Scheduler.QueueSize,
		MisfireGrace:    grace,
		DeliveryTimeout: timeout,
	}, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	sendTimeout, err := config.ParseDurationField("telegram.send_timeout", cfg.Telegram.SendTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	if cfg.Telegram.RatePerSec < 0 {
		return telegram.Config{}, fmt.Errorf("telegram.rate_per_sec must be >= 0")
	}
	return telegram.Config{
		Token:      cfg.Telegram.Token,
		ChatID:     cfg.Telegram.ChatID,
		RatePerSec: cfg.Telegram.RatePerSec,
		Timeout:    sendTimeout,
	}, nil
}

func mapCalendarConfig(cfg *config.Config) (gcal.Config, calsync.Config, error) {
	if cfg.Calendar == nil {
		return gcal.Config{}, calsync.Config{}, nil
	}
	c := cfg.Calendar
	interval, err := config.ParseDurationOrDefault("calendar.sync_interval", c.SyncInterval, 5*time.Minute)
	if err != nil {
		return gcal.Config{}, calsync.Config{}, err
	}
	if c.SyncDays < 0 {
		return gcal.Config{}, calsync.Config{}, fmt.Errorf("calendar.sync_days must be >= 0")
	}
	days := c.SyncDays
	if days == 0 {
		days = 7
	}
	gc := gcal.Config{
		Enabled:         c.Enabled,
		CredentialsPath: c.CredentialsPath,
		TokenPath:       c.TokenPath,
		CalendarID:      c.CalendarID,
	}
	sc := calsync.Config{
		Interval:   interval,
		Lookahead:  time.Duration(days) * 24 * time.Hour,
		MaxResults: c.MaxResults,
	}
	return gc, sc, nil
}

func mapOllamaConfig(cfg *config.Config) (ollama.Config, error) {
	if cfg.Ollama == nil {
		return ollama.Config{}, nil
	}
	timeout, err := config.ParseDurationField("ollama.timeout", cfg.Ollama.Timeout)
	if err != nil {
		return ollama.Config{}, err
	}
	return ollama.Config{
		Enabled: cfg.Ollama.Enabled,
		BaseURL: cfg.Ollama.BaseURL,
		Model:   cfg.Ollama.Model,
		Timeout: timeout,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	readT, err := config.ParseDurationField("http.read_timeout", cfg.HTTP.ReadTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	writeT, err := config.ParseDurationField("http.write_timeout", cfg.HTTP.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  readT,
		WriteTimeout: writeT,
	}, nil
}
