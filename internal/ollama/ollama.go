// Package ollama is the optional LLM-assisted parser for free-text task
// input. A local Ollama instance is probed before every use; when it is down
// or returns garbage the caller falls back to the deterministic parser.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"remindbot/pkg/logx"
)

type Config struct {
	Enabled bool
	BaseURL string        // default http://localhost:11434
	Model   string        // default llama3.2
	Timeout time.Duration // per-generate bound, default 8s
}

// Extraction is the structured result pulled out of a sentence. Dates and
// Times are calendar strings (YYYY-MM-DD, HH:MM); StartAt is an RFC3339
// instant set only when the sentence carried an exact time.
type Extraction struct {
	Task    string   `json:"task"`
	Dates   []string `json:"dates"`
	Times   []string `json:"times,omitempty"`
	StartAt string   `json:"start_at,omitempty"`
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	log        logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

// Up probes the tags endpoint with a short deadline. The model endpoint is
// slow to fail when the daemon is down, so callers gate Extract on this.
func (c *Client) Up(ctx context.Context) bool {
	if !c.cfg.Enabled {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 600*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Extract asks the model to pull task text, dates, and times out of a
// sentence. A nil result with nil error means "no usable extraction"; the
// caller falls back to rule-based parsing.
func (c *Client) Extract(ctx context.Context, sentence, nowISO, timezone, pendingJSON string) (*Extraction, error) {
	if !c.cfg.Enabled {
		return nil, nil
	}

	body, err := json.Marshal(generateRequest{
		Model:  c.cfg.Model,
		Prompt: buildPrompt(sentence, nowISO, timezone, pendingJSON),
		Stream: false,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/api/generate", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: generate call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama: generate error %d: %s", resp.StatusCode, string(raw))
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	return parseExtraction(gen.Response), nil
}

// parseExtraction pulls the first {...} block out of the model output.
// Models wrap JSON in prose and code fences no matter how firmly the prompt
// says not to.
func parseExtraction(raw string) *Extraction {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return nil
	}

	var ex Extraction
	if err := json.Unmarshal([]byte(raw[start:end+1]), &ex); err != nil {
		return nil
	}
	if strings.TrimSpace(ex.Task) == "" {
		return nil
	}
	return &ex
}

func buildPrompt(sentence, nowISO, timezone, pendingJSON string) string {
	if pendingJSON == "" {
		pendingJSON = "[]"
	}
	return fmt.Sprintf(`You are a strict JSON parser.

Current date/time (local): %s
Timezone: %s

Existing pending tasks from the database (JSON):
%s

Extract:
- "task": core task (remove date words)
- "dates": list of YYYY-MM-DD
- "times": optional list of HH:MM
- "start_at": optional ISO datetime with timezone when an exact time is provided

Rules:
- "weekend"/"this weekend"/"on weekend" => upcoming Sat+Sun
- "next weekend" => weekend after upcoming
- no past dates
- if same task already exists for those dates in DB, return dates: []
- if an exact time is present, include "start_at"

Return ONLY JSON:
{
  "task": "string",
  "dates": ["YYYY-MM-DD", ...],
  "times": ["HH:MM", ...],
  "start_at": "YYYY-MM-DDTHH:MM:SS-06:00"
}

Sentence: "%s"
`, nowISO, timezone, pendingJSON, sentence)
}
