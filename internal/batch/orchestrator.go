// Package batch runs many account pipelines against one opening window:
// warm every session before the window, park on the countdown, then fire
// all pipelines concurrently and fold their outcomes into a report.
package batch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"busbot/internal/auth"
	"busbot/internal/countdown"
	"busbot/internal/discovery"
	"busbot/internal/fault"
	"busbot/internal/reserve"
	"busbot/internal/seat"
	"busbot/pkg/logx"
)

type Config struct {
	// PipelineTimeout bounds one account's post-fire pipeline.
	PipelineTimeout time.Duration
}

const defaultPipelineTimeout = 30 * time.Second

// Recorder receives terminal outcomes as they happen (before the report
// is assembled), so results survive a crash mid-run.
type Recorder interface {
	RecordOutcome(ctx context.Context, runID string, o Outcome)
}

type Orchestrator struct {
	cfg      Config
	sessions *auth.Manager
	clk      countdown.Clock
	recorder Recorder // nil disables
	log      logx.Logger
}

func New(cfg Config, sessions *auth.Manager, clk countdown.Clock, recorder Recorder, log logx.Logger) *Orchestrator {
	if cfg.PipelineTimeout <= 0 {
		cfg.PipelineTimeout = defaultPipelineTimeout
	}
	if clk == nil {
		clk = countdown.SystemClock()
	}
	return &Orchestrator{cfg: cfg, sessions: sessions, clk: clk, recorder: recorder, log: log}
}

// Preauthenticate warms sessions for all requests' accounts in parallel.
// Failures are logged, not returned: a pipeline whose warm-up failed
// still gets a fresh login attempt at fire time.
func (o *Orchestrator) Preauthenticate(ctx context.Context, reqs []Request) {
	var wg sync.WaitGroup
	seen := map[string]bool{}
	for _, req := range reqs {
		if seen[req.Account.ID] {
			continue
		}
		seen[req.Account.ID] = true
		wg.Add(1)
		go func(acct auth.Account) {
			defer wg.Done()
			if _, err := o.sessions.Session(ctx, acct); err != nil {
				o.log.Warn("session warm-up failed",
					logx.String("account", acct.ID), logx.Err(err))
			}
		}(req.Account)
	}
	wg.Wait()
}

// Run executes a full batch: warm-up, countdown to fireAt (a zero fireAt
// fires immediately), concurrent pipelines, report. Only context
// cancellation aborts the run; individual pipeline failures never do.
func (o *Orchestrator) Run(ctx context.Context, fireAt time.Time, reqs []Request) (Report, error) {
	report := Report{
		RunID:     uuid.NewString(),
		FireAt:    fireAt,
		StartedAt: o.clk.Now(),
	}
	log := o.log.With(logx.String("run", report.RunID))

	for i := range reqs {
		if reqs[i].ID == "" {
			reqs[i].ID = uuid.NewString()
		}
	}

	log.Info("batch starting",
		logx.Int("requests", len(reqs)),
		logx.Time("fireAt", fireAt),
	)

	o.Preauthenticate(ctx, reqs)

	if !fireAt.IsZero() {
		if err := countdown.Wait(ctx, o.clk, fireAt); err != nil {
			return report, err
		}
	}

	outcomes := make([]Outcome, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			out := o.pipeline(ctx, req, log)
			outcomes[i] = out
			if o.recorder != nil {
				o.recorder.RecordOutcome(ctx, report.RunID, out)
			}
		}(i, req)
	}
	wg.Wait()

	report.Outcomes = outcomes
	report.FinishedAt = o.clk.Now()

	sort.SliceStable(report.Outcomes, func(a, b int) bool {
		return report.Outcomes[a].AccountID < report.Outcomes[b].AccountID
	})

	log.Info("batch finished",
		logx.Int("total", report.Total()),
		logx.Int("succeeded", report.Succeeded()),
		logx.Int("failed", report.Failed()),
		logx.Float64("successRate", report.SuccessRate()),
		logx.Duration("avgExec", report.AvgExecTook()),
	)
	return report, nil
}

// pipeline is one account's path to a seat. It never panics the run: any
// error terminates this pipeline only.
func (o *Orchestrator) pipeline(parent context.Context, req Request, log logx.Logger) Outcome {
	ctx, cancel := context.WithTimeout(parent, o.cfg.PipelineTimeout)
	defer cancel()

	start := o.clk.Now()
	out := Outcome{RequestID: req.ID, AccountID: req.Account.ID, State: StatePending}
	log = log.With(
		logx.String("account", req.Account.ID),
		logx.String("request", req.ID),
	)

	fail := func(err error) Outcome {
		if ctx.Err() != nil && parent.Err() == nil {
			err = fault.Wrap(fault.Timeout, "pipeline deadline", ctx.Err())
		}
		out.State = StateFailed
		out.FailKind = fault.KindOf(err)
		out.Message = fault.MessageOf(err)
		out.Took = o.clk.Now().Sub(start)
		log.Warn("pipeline failed",
			logx.String("kind", string(out.FailKind)),
			logx.String("reason", out.Message),
			logx.Duration("took", out.Took),
		)
		return out
	}

	sess, err := o.sessions.Session(ctx, req.Account)
	if err != nil {
		return fail(err)
	}
	out.State = StateAuthenticated

	disc, err := discovery.Run(ctx, sess, req.Query, log)
	if err != nil {
		return fail(err)
	}
	out.State = StateDiscovered
	out.Route = disc.Route.Name
	out.Departure = disc.Trip.OperateTime

	seatNo, err := seat.Allocate(disc.SeatMap, req.SeatPreferences)
	if err != nil {
		return fail(err)
	}
	out.State = StateAllocated
	out.SeatNo = seatNo

	ticket, err := reserve.Execute(ctx, sess, disc, seatNo, log)
	if err != nil {
		return fail(err)
	}

	out.State = StateSucceeded
	out.Confirmation = ticket.Confirmation.ID
	out.ExecTook = ticket.Took
	out.Took = o.clk.Now().Sub(start)
	return out
}
