package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"remindbot/pkg/logx"
)

func TestParseExtraction(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		raw  string
		want *Extraction
	}{
		{
			name: "bare json",
			raw:  `{"task":"Buy milk","dates":["2026-03-19"]}`,
			want: &Extraction{Task: "Buy milk", Dates: []string{"2026-03-19"}},
		},
		{
			name: "json wrapped in prose",
			raw:  "Sure! Here is the result:\n```json\n{\"task\":\"Call bank\",\"dates\":[],\"start_at\":\"2026-03-19T14:30:00-05:00\"}\n```\nLet me know!",
			want: &Extraction{Task: "Call bank", Dates: []string{}, StartAt: "2026-03-19T14:30:00-05:00"},
		},
		{
			name: "no braces",
			raw:  "I could not parse that",
			want: nil,
		},
		{
			name: "invalid json inside braces",
			raw:  `{"task": Buy milk}`,
			want: nil,
		},
		{
			name: "empty task",
			raw:  `{"task":"  ","dates":["2026-03-19"]}`,
			want: nil,
		},
		{
			name: "empty string",
			raw:  "",
			want: nil,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := parseExtraction(tc.raw)
			if (got == nil) != (tc.want == nil) {
				t.Fatalf("parseExtraction = %+v, want %+v", got, tc.want)
			}
			if got == nil {
				return
			}
			if got.Task != tc.want.Task || got.StartAt != tc.want.StartAt {
				t.Fatalf("parseExtraction = %+v, want %+v", got, tc.want)
			}
			if len(got.Dates) != len(tc.want.Dates) {
				t.Fatalf("dates = %v, want %v", got.Dates, tc.want.Dates)
			}
		})
	}
}

func TestExtractRoundTrip(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Stream {
			http.Error(w, "streaming not expected", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(generateResponse{
			Response: `{"task":"Team dinner","dates":["2026-03-20"],"times":["19:00"]}`,
		})
	}))
	defer srv.Close()

	c := New(Config{Enabled: true, BaseURL: srv.URL}, logx.Nop())
	ex, err := c.Extract(context.Background(), "team dinner friday 7pm", "2026-03-18T12:00:00Z", "UTC", "[]")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ex == nil || ex.Task != "Team dinner" {
		t.Fatalf("extraction = %+v", ex)
	}
	if len(ex.Dates) != 1 || ex.Dates[0] != "2026-03-20" {
		t.Fatalf("dates = %v", ex.Dates)
	}
	if len(ex.Times) != 1 || ex.Times[0] != "19:00" {
		t.Fatalf("times = %v", ex.Times)
	}
}

func TestExtractDisabledIsNoop(t *testing.T) {
	t.Parallel()
	c := New(Config{Enabled: false}, logx.Nop())
	ex, err := c.Extract(context.Background(), "anything", "", "", "")
	if err != nil || ex != nil {
		t.Fatalf("disabled Extract = %+v, %v", ex, err)
	}
	if c.Up(context.Background()) {
		t.Fatal("disabled client reports up")
	}
}

func TestExtractServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{Enabled: true, BaseURL: srv.URL}, logx.Nop())
	if _, err := c.Extract(context.Background(), "x", "", "", ""); err == nil {
		t.Fatal("expected error from 500 response")
	}
}

func TestUpProbe(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(Config{Enabled: true, BaseURL: srv.URL}, logx.Nop())
	if !c.Up(context.Background()) {
		t.Fatal("expected up against live server")
	}

	srv.Close()
	if c.Up(context.Background()) {
		t.Fatal("expected down after server close")
	}
}
