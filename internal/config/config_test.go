package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
timezone: America/Chicago
logging:
  level: debug
  console: true
storage:
  path: ./data/remind.db
  busy_timeout: 5s
scheduler:
  workers: 4
  misfire_grace: 30m
telegram:
  token: "123:abc"
  chat_id: 42
calendar:
  enabled: true
  credentials_path: ./credentials.json
  token_path: ./token.json
  sync_days: 3
http:
  enabled: true
  addr: 127.0.0.1:9000
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timezone != "America/Chicago" {
		t.Fatalf("timezone = %q", cfg.Timezone)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Scheduler.Workers != 4 || cfg.Scheduler.MisfireGrace != "30m" {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Telegram.ChatID != 42 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Calendar == nil || !cfg.Calendar.Enabled || cfg.Calendar.SyncDays != 3 {
		t.Fatalf("calendar = %+v", cfg.Calendar)
	}
	if cfg.Ollama != nil {
		t.Fatal("omitted ollama section should stay nil")
	}
	if !cfg.HTTP.Enabled || cfg.HTTP.Addr != "127.0.0.1:9000" {
		t.Fatalf("http = %+v", cfg.HTTP)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get returned a different config than Load committed")
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json",
		`{"timezone":"UTC","telegram":{"token":"t","chat_id":1}}`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Timezone != "UTC" || cfg.Telegram.ChatID != 1 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
timezone: UTC
shceduler:
  workers: 4
`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("misspelled section accepted")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"timezone":"UTC"}{"timezone":"UTC"}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("concatenated JSON accepted")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: "  ", want: 0},
		{raw: "10s", want: 10 * time.Second},
		{raw: "1h30m", want: 90 * time.Minute},
		{raw: "-5s", wantErr: true},
		{raw: "5 seconds", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("test.field", tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseDurationField(%q): expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDurationField(%q): %v", tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseDurationField(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}

	if d, err := ParseDurationOrDefault("test.field", "", time.Minute); err != nil || d != time.Minute {
		t.Errorf("ParseDurationOrDefault empty = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("test.field", "2m", time.Minute); err != nil || d != 2*time.Minute {
		t.Errorf("ParseDurationOrDefault set = %v, %v", d, err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Timezone: "UTC",
		Telegram: TelegramConfig{Token: "old", ChatID: 1},
	}
	newCfg := &Config{
		Timezone: "America/Chicago",
		Telegram: TelegramConfig{Token: "new-secret", ChatID: 1},
		Calendar: &CalendarConfig{Enabled: true},
	}

	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"calendar", "telegram", "timezone"}
	if len(sections) != len(want) {
		t.Fatalf("sections = %v, want %v", sections, want)
	}
	for i := range want {
		if sections[i] != want[i] {
			t.Fatalf("sections = %v, want %v", sections, want)
		}
	}
	// The token value itself never appears in log attrs.
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := logger.Info()
	for _, f := range attrs {
		f(e)
	}
	e.Msg("change")
	if strings.Contains(buf.String(), "new-secret") {
		t.Fatal("token leaked into change summary")
	}
}

func TestSummarizeConfigChangeNoChanges(t *testing.T) {
	t.Parallel()
	cfg := &Config{Timezone: "UTC"}
	sections, _ := SummarizeConfigChange(cfg, cfg)
	if len(sections) != 0 {
		t.Fatalf("sections = %v, want none", sections)
	}
}
