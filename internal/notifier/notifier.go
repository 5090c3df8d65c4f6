// Package notifier pushes Telegram alerts for failed workbench runs.
//
// It consumes run.finished events off the bus, so the engine and runner
// never block on (or even know about) Telegram. Disabled by default.
package notifier

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"fmesched/internal/eventbus"
	"fmesched/internal/storage"
	logx "fmesched/pkg/logx"
)

type Config struct {
	Enabled    bool
	Token      string
	ChatID     int64
	RatePerSec int // default 1
	QueueSize  int // default 64
}

// Sender delivers one alert message. Satisfied by the Telegram adapter;
// tests substitute their own.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Service watches the event bus and forwards failure alerts to a Sender
// through a small queue with a token-bucket rate limit.
type Service struct {
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	sender  Sender
	limiter *rate.Limiter

	startOnce sync.Once
	stop      context.CancelFunc
	done      chan struct{}
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		done:    make(chan struct{}),
	}
}

// Start begins consuming run.finished events. No-op when disabled or when
// no sender is configured.
func (s *Service) Start(ctx context.Context) {
	if !s.cfg.Enabled || s.sender == nil || s.bus == nil {
		close(s.done)
		return
	}
	s.startOnce.Do(func() {
		ctx, s.stop = context.WithCancel(ctx)
		ch, unsub := s.bus.Subscribe(s.cfg.QueueSize)
		go func() {
			defer close(s.done)
			defer unsub()
			s.loop(ctx, ch)
		}()
		s.log.Info("failure notifier started", logx.Int("rate_per_sec", s.cfg.RatePerSec))
	})
}

func (s *Service) Stop() {
	if s.stop != nil {
		s.stop()
	}
	<-s.done
}

func (s *Service) loop(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.Type != eventbus.TypeRunFinished {
				continue
			}
			rec, ok := e.Data.(storage.RunRecord)
			if !ok || rec.OK {
				continue
			}
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			if err := s.sender.Send(ctx, formatAlert(rec)); err != nil {
				s.log.Warn("failed delivering alert",
					logx.String("script", rec.Script),
					logx.Err(err))
				continue
			}
			s.log.Debug("alert delivered", logx.String("script", rec.Script))
		}
	}
}

func formatAlert(rec storage.RunRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Workbench failed: %s\n", rec.Script)
	if rec.JobID != "" {
		fmt.Fprintf(&b, "Job: %s\n", rec.JobID)
	}
	fmt.Fprintf(&b, "Trigger: %s\nExit code: %d\nTook: %dms", rec.Trigger, rec.ExitCode, rec.TookMS)
	if rec.Error != "" {
		fmt.Fprintf(&b, "\nError: %s", rec.Error)
	}
	return b.String()
}

// TelegramSender sends alerts to a fixed chat.
type TelegramSender struct {
	bot  *tele.Bot
	chat *tele.Chat
}

func NewTelegramSender(token string, chatID int64) (*TelegramSender, error) {
	b, err := tele.NewBot(tele.Settings{
		Token: token,
		// Send-only: no poller, and skip the startup getMe round trip so a
		// flaky network can't block service boot.
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: b, chat: &tele.Chat{ID: chatID}}, nil
}

func (t *TelegramSender) Send(ctx context.Context, text string) error {
	_, err := t.bot.Send(t.chat, text)
	return err
}
