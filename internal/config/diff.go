package config

import (
	"reflect"
	"sort"
	"strings"

	logx "remindbot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) {
		changed = append(changed, "timezone")
		attrs = append(attrs, logx.String("timezone", strings.TrimSpace(newCfg.Timezone)))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.workers", newCfg.Scheduler.Workers),
			logx.Int("scheduler.queue_size", newCfg.Scheduler.QueueSize),
			logx.String("scheduler.misfire_grace", strings.TrimSpace(newCfg.Scheduler.MisfireGrace)),
			logx.String("scheduler.delivery_timeout", strings.TrimSpace(newCfg.Scheduler.DeliveryTimeout)),
		)
	}

	// Telegram (never log the token itself)
	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Bool("telegram.chat_set", newCfg.Telegram.ChatID != 0),
			logx.Int("telegram.rate_per_sec", newCfg.Telegram.RatePerSec),
		)
	}

	// Calendar (section may be nil; nil means disabled)
	oCal, nCal := derefCalendar(oldCfg.Calendar), derefCalendar(newCfg.Calendar)
	if (oldCfg.Calendar != nil) != (newCfg.Calendar != nil) || !reflect.DeepEqual(oCal, nCal) {
		changed = append(changed, "calendar")
		attrs = append(attrs,
			logx.Bool("calendar.enabled", nCal.Enabled),
			logx.String("calendar.sync_interval", strings.TrimSpace(nCal.SyncInterval)),
			logx.Int("calendar.sync_days", nCal.SyncDays),
		)
	}

	// Ollama
	oLLM, nLLM := derefOllama(oldCfg.Ollama), derefOllama(newCfg.Ollama)
	if (oldCfg.Ollama != nil) != (newCfg.Ollama != nil) || oLLM != nLLM {
		changed = append(changed, "ollama")
		attrs = append(attrs,
			logx.Bool("ollama.enabled", nLLM.Enabled),
			logx.String("ollama.model", strings.TrimSpace(nLLM.Model)),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefCalendar(c *CalendarConfig) CalendarConfig {
	if c == nil {
		return CalendarConfig{}
	}
	return *c
}

func derefOllama(o *OllamaConfig) OllamaConfig {
	if o == nil {
		return OllamaConfig{}
	}
	return *o
}
