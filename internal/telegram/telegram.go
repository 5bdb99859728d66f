package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"remindbot/pkg/logx"
)

var ErrNotConfigured = errors.New("telegram: token or chat id not configured")

type Config struct {
	Token      string
	ChatID     int64
	RatePerSec int           // default 1
	Timeout    time.Duration // per-send bound, default 10s
}

// Notifier is the outbound delivery channel. It is send-only: this bot never
// polls for updates. A Notifier without credentials is valid and reports
// Configured()==false, so reminders stay unsent until a config reload
// supplies a token (the retry-by-default path).
type Notifier struct {
	log logx.Logger

	mu      sync.RWMutex
	bot     *tele.Bot
	chatID  int64
	limiter *rate.Limiter
	timeout time.Duration
}

func New(cfg Config, log logx.Logger) (*Notifier, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	n := &Notifier{log: log}
	if err := n.Apply(cfg); err != nil {
		return nil, err
	}
	return n, nil
}

// Apply swaps credentials and limits at runtime. An empty token tears the
// channel down to the unconfigured state instead of erroring.
func (n *Notifier) Apply(cfg Config) error {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var bot *tele.Bot
	if strings.TrimSpace(cfg.Token) != "" {
		b, err := tele.NewBot(tele.Settings{
			Token:   cfg.Token,
			Offline: true, // send-only; skip the getMe round trip
		})
		if err != nil {
			return err
		}
		bot = b
	}

	n.mu.Lock()
	n.bot = bot
	n.chatID = cfg.ChatID
	n.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	n.timeout = timeout
	n.mu.Unlock()
	return nil
}

func (n *Notifier) Configured() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.bot != nil && n.chatID != 0
}

// Send posts one message to the configured chat. Any error (including the
// Telegram API reporting ok=false) means the reminder must stay unsent.
func (n *Notifier) Send(ctx context.Context, text string) error {
	n.mu.RLock()
	bot, chatID, lim, timeout := n.bot, n.chatID, n.limiter, n.timeout
	n.mu.RUnlock()

	if bot == nil || chatID == 0 {
		return ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := lim.Wait(ctx); err != nil {
		return err
	}

	// telebot's Send has no context parameter; run it on the side so a
	// stalled API call cannot outlive the delivery deadline.
	done := make(chan error, 1)
	go func() {
		_, err := bot.Send(&tele.Chat{ID: chatID}, text)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
