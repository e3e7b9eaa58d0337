// Package trigger is the weekly dispatch surface: a cron service that
// wakes registered jobs (batch wake-ups, session pruning) in the
// operator's timezone. Sub-second precision is not its job; batch jobs
// are woken early and park on their own countdown.
package trigger

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"busbot/pkg/logx"
)

type Config struct {
	Enabled     bool
	Timezone    string // IANA name; empty means local
	Workers     int
	QueueSize   int
	HistorySize int
}

type JobFunc func(ctx context.Context) error

// HistoryItem records one job execution for diagnostics.
type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type runState struct {
	mu      sync.Mutex
	running bool
}

type def struct {
	name    string
	spec    string
	timeout time.Duration
	run     JobFunc
	state   *runState
}

type task struct {
	name    string
	timeout time.Duration
	run     JobFunc
	state   *runState
}

type Service struct {
	cfg    Config
	log    logx.Logger
	parser cron.Parser

	mu     sync.Mutex
	c      *cron.Cron
	loc    *time.Location
	defs   []def
	queue  chan task
	stopCh chan struct{}
	wg     sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger) *Service {
	return &Service{
		cfg: cfg,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Location resolves the configured timezone (local on empty).
func (s *Service) Location() (*time.Location, error) {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

// AddWeekly registers a job at the given weekday and clock time, every
// week. Safe before or after Start.
func (s *Service) AddWeekly(name string, wd time.Weekday, h, m, sec int, timeout time.Duration, job JobFunc) error {
	spec := fmt.Sprintf("%d %d %d * * %d", sec, m, h, int(wd))
	return s.add(name, spec, timeout, job)
}

// AddDaily registers a job at the given clock time, every day.
func (s *Service) AddDaily(name string, h, m int, timeout time.Duration, job JobFunc) error {
	spec := fmt.Sprintf("0 %d %d * * *", m, h)
	return s.add(name, spec, timeout, job)
}

func (s *Service) add(name, spec string, timeout time.Duration, job JobFunc) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	d := def{name: name, spec: spec, timeout: timeout, run: job, state: &runState{}}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs = append(s.defs, d)
	if s.c != nil {
		return s.scheduleLocked(&s.defs[len(s.defs)-1])
	}
	return nil
}

func (s *Service) scheduleLocked(d *def) error {
	t := task{name: d.name, timeout: d.timeout, run: d.run, state: d.state}
	_, err := s.c.AddFunc(d.spec, func() { s.enqueue(t) })
	return err
}

func (s *Service) enqueue(t task) {
	// Overlap guard: a still-running invocation suppresses the next one.
	t.state.mu.Lock()
	busy := t.state.running
	t.state.mu.Unlock()
	if busy {
		s.log.Warn("job still running; skipping this fire", logx.String("job", t.name))
		return
	}

	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		s.log.Debug("trigger not running; dropping job", logx.String("job", t.name))
		return
	}
	select {
	case q <- t:
	default:
		s.log.Warn("trigger queue full; dropping job",
			logx.String("job", t.name),
			logx.Int("queue_len", len(q)),
			logx.Int("queue_cap", cap(q)),
		)
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	if !s.cfg.Enabled {
		s.log.Info("trigger disabled")
		return nil
	}

	loc, err := s.Location()
	if err != nil {
		return fmt.Errorf("trigger timezone: %w", err)
	}
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		if err := s.scheduleLocked(&s.defs[i]); err != nil {
			s.c = nil
			return err
		}
	}

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	queueSize := s.cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 16
	}
	s.queue = make(chan task, queueSize)
	s.stopCh = make(chan struct{})

	queue := s.queue
	stopCh := s.stopCh
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in trigger worker",
						logx.Int("worker", idx),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
				}
			}()
			s.worker(ctx, stopCh, queue)
		}()
	}

	s.c.Start()
	s.log.Info("trigger started",
		logx.Int("jobs", len(s.defs)),
		logx.Int("workers", workers),
		logx.String("tz", loc.String()),
	)
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	stopCh := s.stopCh
	s.c = nil
	s.queue = nil
	s.stopCh = nil
	s.mu.Unlock()

	if c != nil {
		stopped := c.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}
	if stopCh != nil {
		close(stopCh)
	}
	s.wg.Wait()
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.execOne(ctx, t)
		}
	}
}

func (s *Service) execOne(ctx context.Context, t task) {
	t.state.mu.Lock()
	t.state.running = true
	t.state.mu.Unlock()
	defer func() {
		t.state.mu.Lock()
		t.state.running = false
		t.state.mu.Unlock()
	}()

	runCtx := ctx
	var cancel context.CancelFunc
	if t.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
	}
	start := time.Now()
	err := t.run(runCtx)
	if cancel != nil {
		cancel()
	}
	dur := time.Since(start)

	item := HistoryItem{Name: t.name, Started: start, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("job failed", logx.String("job", t.name), logx.Err(err), logx.Duration("dur", dur))
	} else {
		s.log.Info("job completed", logx.String("job", t.name), logx.Duration("dur", dur))
	}

	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	size := s.cfg.HistorySize
	if size <= 0 {
		size = 100
	}
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
}

// History returns a copy of the recent job runs, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]HistoryItem, len(s.history))
	copy(out, s.history)
	return out
}
