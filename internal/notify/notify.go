// Package notify delivers batch reports to a Telegram chat. Delivery is
// best effort: a bounded queue drained by one worker, rate limited, with
// drop-on-overflow. The pipeline never blocks on Telegram.
package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tb "gopkg.in/telebot.v4"

	"busbot/internal/batch"
	"busbot/pkg/logx"
)

type Config struct {
	Enabled           bool
	Token             string
	ChatID            int64
	MessagesPerMinute float64
}

const (
	defaultPerMinute = 20.0
	queueSize        = 32
	sendTimeout      = 15 * time.Second
)

type Service struct {
	cfg     Config
	log     logx.Logger
	bot     *tb.Bot
	limiter *rate.Limiter

	queue  chan string
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// New builds the service. A disabled config yields an inert service whose
// Publish is a no-op, so callers never need nil checks.
func New(cfg Config, log logx.Logger) (*Service, error) {
	s := &Service{cfg: cfg, log: log}
	if !cfg.Enabled {
		return s, nil
	}

	bot, err := tb.NewBot(tb.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: sendTimeout},
	})
	if err != nil {
		return nil, err
	}
	perMin := cfg.MessagesPerMinute
	if perMin <= 0 {
		perMin = defaultPerMinute
	}
	s.bot = bot
	s.limiter = rate.NewLimiter(rate.Limit(perMin/60.0), 1)
	s.queue = make(chan string, queueSize)
	return s, nil
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bot == nil || s.started {
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.worker(ctx)
	}()
	s.log.Info("notifier started", logx.Int64("chat", s.cfg.ChatID))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Publish enqueues a batch report. Drops (with a warn) when the queue is
// full or the service is inert.
func (s *Service) Publish(r batch.Report) {
	if s.bot == nil {
		return
	}
	text := FormatReport(r)
	select {
	case s.queue <- text:
	default:
		s.log.Warn("notify queue full; dropping report", logx.String("run", r.RunID))
	}
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case text := <-s.queue:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			if _, err := s.bot.Send(tb.ChatID(s.cfg.ChatID), text); err != nil {
				s.log.Warn("telegram send failed", logx.Err(err))
			}
		}
	}
}
