package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"remindbot/internal/clock"
	"remindbot/internal/intake"
	"remindbot/internal/store"
	"remindbot/pkg/logx"
)

type fakeIntake struct {
	res intake.Result
	err error
	got string
}

func (f *fakeIntake) SubmitText(_ context.Context, raw string) (intake.Result, error) {
	f.got = raw
	return f.res, f.err
}

type fakeTaskStore struct {
	tasks   []store.Task
	pending []string
	err     error
}

func (f *fakeTaskStore) ListTasks(context.Context) ([]store.Task, error) {
	return f.tasks, f.err
}

func (f *fakeTaskStore) CompleteTask(_ context.Context, id string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pending, nil
}

type fakeCanceller struct {
	cancelled []string
}

func (f *fakeCanceller) Cancel(id string) { f.cancelled = append(f.cancelled, id) }

type fakeNotifier struct {
	configured bool
	err        error
	sent       int
}

func (f *fakeNotifier) Configured() bool { return f.configured }

func (f *fakeNotifier) Send(context.Context, string) error {
	if f.err != nil {
		return f.err
	}
	f.sent++
	return nil
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return m
}

func TestAddTask(t *testing.T) {
	in := &fakeIntake{res: intake.Result{OK: true, Task: "Buy milk", TotalReminders: 6}}
	s := New(Config{}, in, &fakeTaskStore{}, &fakeCanceller{}, &fakeNotifier{}, logx.Nop())

	w := doRequest(s, http.MethodPost, "/add_task", `{"text":"buy milk tomorrow"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if in.got != "buy milk tomorrow" {
		t.Fatalf("submitted %q", in.got)
	}
	body := decodeBody(t, w)
	if body["ok"] != true || body["task"] != "Buy milk" {
		t.Fatalf("body = %v", body)
	}
}

func TestAddTaskBadJSON(t *testing.T) {
	s := New(Config{}, &fakeIntake{}, &fakeTaskStore{}, &fakeCanceller{}, &fakeNotifier{}, logx.Nop())

	w := doRequest(s, http.MethodPost, "/add_task", `{"text": `)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeBody(t, w); body["error"] != "bad_json" {
		t.Fatalf("body = %v", body)
	}
}

func TestAddTaskErrorStatusMapping(t *testing.T) {
	cases := []struct {
		reason     string
		wantStatus int
	}{
		{"empty_text", http.StatusBadRequest},
		{"no_dates", http.StatusBadRequest},
		{"store_error", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		in := &fakeIntake{res: intake.Result{Reason: tc.reason}, err: errors.New(tc.reason)}
		s := New(Config{}, in, &fakeTaskStore{}, &fakeCanceller{}, &fakeNotifier{}, logx.Nop())
		w := doRequest(s, http.MethodPost, "/add_task", `{"text":"x"}`)
		if w.Code != tc.wantStatus {
			t.Errorf("reason %s: status = %d, want %d", tc.reason, w.Code, tc.wantStatus)
		}
		if body := decodeBody(t, w); body["error"] != tc.reason {
			t.Errorf("reason %s: body = %v", tc.reason, body)
		}
	}
}

func TestListTasks(t *testing.T) {
	at := time.Date(2026, time.March, 19, 14, 30, 0, 0, time.UTC)
	ts := &fakeTaskStore{tasks: []store.Task{
		{
			ID:          "t1",
			RawText:     "buy milk tomorrow",
			DisplayText: "Buy milk",
			Date:        clock.Date{Year: 2026, Month: time.March, Day: 19},
		},
		{
			ID:           "t2",
			DisplayText:  "Call bank",
			Date:         clock.Date{Year: 2026, Month: time.March, Day: 19},
			HasExactTime: true,
			ExactAt:      &at,
			Completed:    true,
		},
	}}
	s := New(Config{}, &fakeIntake{}, ts, &fakeCanceller{}, &fakeNotifier{}, logx.Nop())

	w := doRequest(s, http.MethodGet, "/tasks", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var views []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("got %d tasks", len(views))
	}
	if views[0]["task"] != "Buy milk" || views[0]["date"] != "2026-03-19" {
		t.Fatalf("first view = %v", views[0])
	}
	if views[0]["start_at"] != nil {
		t.Fatalf("date task carries start_at: %v", views[0])
	}
	if views[1]["start_at"] != at.Format(time.RFC3339) {
		t.Fatalf("exact task start_at = %v", views[1]["start_at"])
	}
	if views[1]["completed"] != true {
		t.Fatalf("second view = %v", views[1])
	}
}

func TestMarkDoneCancelsPendingTimers(t *testing.T) {
	ts := &fakeTaskStore{pending: []string{"r1", "r2"}}
	cancel := &fakeCanceller{}
	s := New(Config{}, &fakeIntake{}, ts, cancel, &fakeNotifier{}, logx.Nop())

	w := doRequest(s, http.MethodPost, "/tasks/t1/done", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["ok"] != true || body["id"] != "t1" || body["cancelled_reminders"] != float64(2) {
		t.Fatalf("body = %v", body)
	}
	if len(cancel.cancelled) != 2 {
		t.Fatalf("cancelled = %v", cancel.cancelled)
	}
}

func TestMarkDoneNotFound(t *testing.T) {
	ts := &fakeTaskStore{err: store.ErrNotFound}
	s := New(Config{}, &fakeIntake{}, ts, &fakeCanceller{}, &fakeNotifier{}, logx.Nop())

	w := doRequest(s, http.MethodPost, "/tasks/nope/done", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestTelegramTest(t *testing.T) {
	cases := []struct {
		name     string
		notify   *fakeNotifier
		wantOK   bool
		wantErr  string
		wantSent int
	}{
		{name: "not configured", notify: &fakeNotifier{}, wantErr: "missing_telegram_config"},
		{name: "send fails", notify: &fakeNotifier{configured: true, err: errors.New("down")}, wantErr: "send_failed"},
		{name: "ok", notify: &fakeNotifier{configured: true}, wantOK: true, wantSent: 1},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			s := New(Config{}, &fakeIntake{}, &fakeTaskStore{}, &fakeCanceller{}, tc.notify, logx.Nop())
			w := doRequest(s, http.MethodGet, "/telegram_test", "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			body := decodeBody(t, w)
			if body["ok"] != tc.wantOK {
				t.Fatalf("body = %v", body)
			}
			if tc.wantErr != "" && body["error"] != tc.wantErr {
				t.Fatalf("error = %v, want %s", body["error"], tc.wantErr)
			}
			if tc.notify.sent != tc.wantSent {
				t.Fatalf("sent = %d, want %d", tc.notify.sent, tc.wantSent)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	s := New(Config{}, &fakeIntake{}, &fakeTaskStore{}, &fakeCanceller{}, &fakeNotifier{}, logx.Nop())
	w := doRequest(s, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}
