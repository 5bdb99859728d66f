// Package httpapi is the thin HTTP surface over intake and the store.
// Handlers translate requests to service calls and service results to JSON;
// no reminder logic lives here.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"remindbot/internal/intake"
	"remindbot/internal/store"
	"remindbot/pkg/logx"
)

type Config struct {
	Addr         string        // default 127.0.0.1:8000
	ReadTimeout  time.Duration // default 10s
	WriteTimeout time.Duration // default 30s
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8000"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	return c
}

// Intake is the submission surface the API fronts.
type Intake interface {
	SubmitText(ctx context.Context, raw string) (intake.Result, error)
}

// TaskStore is the read/complete slice of the store used by handlers.
type TaskStore interface {
	ListTasks(ctx context.Context) ([]store.Task, error)
	CompleteTask(ctx context.Context, id string) ([]string, error)
}

// Canceller lets the done handler drop timers for neutralized reminders.
type Canceller interface {
	Cancel(reminderID string)
}

// Notifier is used only by the test endpoint.
type Notifier interface {
	Configured() bool
	Send(ctx context.Context, text string) error
}

type Server struct {
	cfg    Config
	intake Intake
	tasks  TaskStore
	sched  Canceller
	notify Notifier
	log    logx.Logger

	srv *http.Server
}

func New(cfg Config, in Intake, tasks TaskStore, sched Canceller, notify Notifier, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg.withDefaults(), intake: in, tasks: tasks, sched: sched, notify: notify, log: log}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/add_task", s.addTask)
	r.GET("/tasks", s.listTasks)
	r.POST("/tasks/:id/done", s.markDone)
	r.GET("/telegram_test", s.telegramTest)
	r.GET("/healthz", s.healthz)

	s.srv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      r,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	return s
}

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.log.Info("http listening", logx.String("addr", s.cfg.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type addTaskRequest struct {
	Text string `json:"text"`
}

func (s *Server) addTask(c *gin.Context) {
	var req addTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "bad_json"})
		return
	}

	res, err := s.intake.SubmitText(c.Request.Context(), req.Text)
	if err != nil {
		s.log.Warn("add_task failed", logx.String("reason", res.Reason), logx.Err(err))
		status := http.StatusBadRequest
		if res.Reason == "store_error" {
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"ok": false, "error": res.Reason})
		return
	}
	c.JSON(http.StatusOK, res)
}

type taskView struct {
	ID              string   `json:"id"`
	RawText         string   `json:"raw_text"`
	Task            string   `json:"task"`
	Date            string   `json:"date"`
	StartAt         *string  `json:"start_at"`
	HasExactTime    bool     `json:"has_exact_time"`
	CalendarEventID string   `json:"calendar_event_id,omitempty"`
	Completed       bool     `json:"completed"`
}

func (s *Server) listTasks(c *gin.Context) {
	tasks, err := s.tasks.ListTasks(c.Request.Context())
	if err != nil {
		s.log.Error("list tasks failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "list_tasks_failed"})
		return
	}

	out := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		v := taskView{
			ID:              t.ID,
			RawText:         t.RawText,
			Task:            t.DisplayText,
			Date:            t.Date.String(),
			HasExactTime:    t.HasExactTime,
			CalendarEventID: t.CalendarEventID,
			Completed:       t.Completed,
		}
		if t.ExactAt != nil {
			at := t.ExactAt.Format(time.RFC3339)
			v.StartAt = &at
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) markDone(c *gin.Context) {
	id := c.Param("id")
	pending, err := s.tasks.CompleteTask(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "not_found"})
		return
	}
	if err != nil {
		s.log.Error("mark done failed", logx.String("task", id), logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "mark_done_failed"})
		return
	}

	// Drop timers for the neutralized reminders. Correctness holds without
	// this (the executor re-checks completion), it just saves wakeups.
	for _, rid := range pending {
		s.sched.Cancel(rid)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": id, "completed": true, "cancelled_reminders": len(pending)})
}

func (s *Server) telegramTest(c *gin.Context) {
	if s.notify == nil || !s.notify.Configured() {
		c.JSON(http.StatusOK, gin.H{"ok": false, "error": "missing_telegram_config"})
		return
	}
	if err := s.notify.Send(c.Request.Context(), "Test message from your bot"); err != nil {
		c.JSON(http.StatusOK, gin.H{"ok": false, "error": "send_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
