// Package agent is the solver bot: it picks eligible orders, solves them and
// drives each through accept, commit and reveal.
package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"OminisNode/internal/chain"
	"OminisNode/internal/commitreveal"
	"OminisNode/internal/llm"
	"OminisNode/internal/logger"
	"OminisNode/internal/metrics"
	"OminisNode/internal/models"
	"OminisNode/internal/registry"
	"OminisNode/internal/retry"
)

const (
	DefaultInterval         = 10 * time.Second
	DefaultMaxConcurrent    = 3
	DefaultMinTimeRemaining = 60 * time.Second
	DefaultWarnTimeLeft     = 30 * time.Second
	DefaultSequenceTimeout  = 5 * time.Minute
	DefaultBatchSize        = 20
)

type Solver interface {
	Solve(ctx context.Context, pt models.ProblemType, problem string) (llm.Solution, error)
}

type ProblemSource interface {
	Text(ctx context.Context, hash string) (string, error)
}

// Agent runs two intake paths: polling the open order list and, when a
// watcher is set, orders assigned to this bot. Both share InFlight.
type Agent struct {
	Ledger      chain.Ledger
	Watcher     *chain.Watcher
	Problems    ProblemSource
	Solver      Solver
	Coordinator *commitreveal.Coordinator
	InFlight    *registry.InFlight[uint64]

	// Types limits the problem types taken; empty accepts all.
	Types            map[models.ProblemType]bool
	MaxConcurrent    int
	MinTimeRemaining time.Duration
	WarnTimeLeft     time.Duration
	AutoAccept       bool
	Interval         time.Duration
	BatchSize        uint64
	SequenceTimeout  time.Duration
	Clock            func() time.Time
	Log              *logger.Logger

	once  sync.Once
	slots chan struct{}
	wg    sync.WaitGroup
}

func New(l chain.Ledger, s Solver, p ProblemSource, c *commitreveal.Coordinator, log *logger.Logger) *Agent {
	return &Agent{
		Ledger:           l,
		Problems:         p,
		Solver:           s,
		Coordinator:      c,
		InFlight:         registry.NewInFlight[uint64](),
		MaxConcurrent:    DefaultMaxConcurrent,
		MinTimeRemaining: DefaultMinTimeRemaining,
		WarnTimeLeft:     DefaultWarnTimeLeft,
		AutoAccept:       true,
		Interval:         DefaultInterval,
		BatchSize:        DefaultBatchSize,
		SequenceTimeout:  DefaultSequenceTimeout,
		Clock:            time.Now,
		Log:              log,
	}
}

func (a *Agent) init() {
	a.once.Do(func() {
		n := a.MaxConcurrent
		if n <= 0 {
			n = DefaultMaxConcurrent
		}
		a.slots = make(chan struct{}, n)
		if a.InFlight == nil {
			a.InFlight = registry.NewInFlight[uint64]()
		}
	})
}

func (a *Agent) now() time.Time {
	if a.Clock == nil {
		return time.Now()
	}
	return a.Clock()
}

func (a *Agent) identity() string {
	return a.Ledger.Identity()
}

// Run polls until ctx is cancelled and then waits for running sequences to
// finish; a stop never interrupts a sequence.
func (a *Agent) Run(ctx context.Context) {
	a.init()
	var watch sync.WaitGroup
	if a.Watcher != nil {
		watch.Add(1)
		go func() {
			defer watch.Done()
			a.Watcher.Run(ctx, a.HandleEvent)
		}()
	}

	a.Log.Info("solver agent started", "identity", a.identity(), "max_concurrent", cap(a.slots))
	for {
		a.Poll(ctx)
		if err := retry.Sleep(ctx, a.Interval); err != nil {
			break
		}
	}
	watch.Wait()
	a.Log.Info("waiting for running sequences")
	a.Wait()
	a.Log.Info("solver agent stopped")
}

// Wait blocks until every started sequence has finished.
func (a *Agent) Wait() {
	a.wg.Wait()
}

// Poll scans the open order list once and starts a sequence for each
// eligible order while slots are free. It returns how many were started.
func (a *Agent) Poll(ctx context.Context) int {
	a.init()
	var orders []chain.OrderRecord
	err := a.Coordinator.Transient.Do(ctx, a.Log, "openOrders", func(ctx context.Context) (err error) {
		orders, err = a.Ledger.OpenOrders(ctx, 0, a.BatchSize)
		return err
	})
	if err != nil {
		a.Log.Error("fetch open orders failed", "err", err)
		return 0
	}
	a.Log.Debug("open orders", "count", len(orders))

	started := 0
	for i := range orders {
		if ctx.Err() != nil {
			break
		}
		rec := orders[i]
		if reason := a.skipReason(&rec, a.MinTimeRemaining); reason != "" {
			a.Log.Debug("order skipped", "order_id", rec.ID, "reason", reason)
			continue
		}
		if a.Handle(ctx, rec.ID) {
			started++
		}
	}
	return started
}

// HandleEvent is the assigned-to-bot path.
func (a *Agent) HandleEvent(ctx context.Context, ev chain.Event) {
	if ev.Kind != chain.EventOrderAssignedToBot || !strings.EqualFold(ev.Account, a.identity()) {
		return
	}
	a.init()
	rec, err := a.Ledger.GetOrder(ctx, ev.OrderID)
	if err != nil {
		a.Log.Error("assigned order lookup failed", "order_id", ev.OrderID, "err", err)
		return
	}
	if reason := a.skipReason(rec, a.WarnTimeLeft); reason != "" {
		a.Log.Info("assigned order skipped", "order_id", rec.ID, "reason", reason)
		return
	}
	a.Handle(ctx, rec.ID)
}

func (a *Agent) skipReason(rec *chain.OrderRecord, minLeft time.Duration) string {
	status := models.OrderStatus(rec.Status)
	switch {
	case a.InFlight.Has(rec.ID):
		return "already processing"
	case strings.EqualFold(rec.Issuer, a.identity()):
		return "own order"
	case status != models.StatusOpen && status != models.StatusAccepted:
		return "status " + status.String()
	case status == models.StatusAccepted && !strings.EqualFold(rec.Solver, a.identity()):
		return "accepted by another solver"
	case len(a.Types) > 0 && !a.Types[models.ProblemType(rec.ProblemType)]:
		return "type " + models.ProblemType(rec.ProblemType).String() + " not accepted"
	case rec.Order().TimeRemaining(a.now()) < minLeft:
		return "not enough time remaining"
	}
	return ""
}

// Handle claims the order and starts its sequence in the background. It
// returns false when the order is already claimed or every slot is busy.
func (a *Agent) Handle(ctx context.Context, id uint64) bool {
	a.init()
	select {
	case a.slots <- struct{}{}:
	default:
		a.Log.Debug("concurrency limit reached", "order_id", id)
		return false
	}
	if !a.InFlight.TryClaim(id) {
		<-a.slots
		return false
	}
	metrics.InFlight.WithLabelValues("solver").Set(float64(a.InFlight.Len()))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			a.InFlight.Release(id)
			metrics.InFlight.WithLabelValues("solver").Set(float64(a.InFlight.Len()))
			<-a.slots
		}()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.sequenceTimeout())
		defer cancel()
		result := a.sequence(sctx, id)
		metrics.Sequences.WithLabelValues(result).Inc()
	}()
	return true
}

func (a *Agent) sequenceTimeout() time.Duration {
	if a.SequenceTimeout <= 0 {
		return DefaultSequenceTimeout
	}
	return a.SequenceTimeout
}

// sequence runs accept, solve, commit and reveal and returns a result label.
func (a *Agent) sequence(ctx context.Context, id uint64) string {
	log := a.Log.With("order_id", id)

	rec, err := a.Ledger.GetOrder(ctx, id)
	if err != nil {
		log.Error("order lookup failed", "err", err)
		return "failed"
	}
	problem := ""
	if a.Problems != nil {
		if problem, err = a.Problems.Text(ctx, rec.ProblemHash); err != nil {
			log.Warn("problem text unavailable, skipping", "problem_hash", rec.ProblemHash, "err", err)
			return "skipped"
		}
	}

	if models.OrderStatus(rec.Status) == models.StatusOpen {
		if !a.AutoAccept {
			log.Info("auto accept disabled, skipping open order")
			return "skipped"
		}
		if err := a.accept(ctx, id, log); err != nil {
			log.Error("accept failed", "err", err)
			return "failed"
		}
	}

	pt := models.ProblemType(rec.ProblemType)
	sol, err := a.Solver.Solve(ctx, pt, problem)
	if err != nil {
		log.Error("solve failed", "type", pt.String(), "err", err)
		return "failed"
	}
	log.Info("solved", "type", pt.String(), "steps", len(sol.Steps))

	fresh, err := a.Ledger.GetOrder(ctx, id)
	if err != nil {
		log.Error("order refresh failed", "err", err)
		return "failed"
	}
	if left := fresh.Order().TimeRemaining(a.now()); left < a.WarnTimeLeft {
		log.Warn("little time left before deadline", "remaining", left.Round(time.Second))
	}
	if !strings.EqualFold(fresh.Solver, a.identity()) {
		log.Warn("order taken by another solver", "solver", fresh.Solver)
		return "skipped"
	}

	switch models.OrderStatus(fresh.Status) {
	case models.StatusAccepted:
		res, err := a.Coordinator.Submit(ctx, id, sol.Answer)
		if err != nil {
			log.Error("submission failed", "err", err)
			return "failed"
		}
		log.Info("order solved", "commit_tx", res.Commit.TxHash, "reveal_tx", res.Reveal.TxHash)
		return "solved"
	case models.StatusCommitted:
		// a commit from an earlier attempt of this process can still be revealed
		if _, err := a.Coordinator.Resume(ctx, id, sol.Answer); err != nil {
			if errors.Is(err, models.ErrSaltLost) {
				log.Error("order committed without a known salt, cannot reveal", "err", err)
			} else {
				log.Error("reveal failed", "err", err)
			}
			return "failed"
		}
		return "solved"
	default:
		log.Warn("order no longer solvable", "status", models.OrderStatus(fresh.Status).String())
		return "skipped"
	}
}

func (a *Agent) accept(ctx context.Context, id uint64, log *logger.Logger) error {
	var rcpt *chain.Receipt
	err := a.Coordinator.Transient.Do(ctx, log, "acceptOrder", func(ctx context.Context) (err error) {
		rcpt, err = a.Ledger.AcceptOrder(ctx, id)
		return err
	})
	if err == nil && rcpt != nil && rcpt.Success {
		metrics.Submissions.WithLabelValues("acceptOrder", "success").Inc()
		log.Info("order accepted", "tx_hash", rcpt.TxHash)
		return nil
	}
	if err != nil && !models.IsAmbiguous(err) && !models.IsTransient(err) {
		metrics.Submissions.WithLabelValues("acceptOrder", "failed").Inc()
		return err
	}
	metrics.Submissions.WithLabelValues("acceptOrder", "ambiguous").Inc()
	ok := a.Coordinator.Confirm.Poll(ctx, log, "confirmAccept", func(ctx context.Context) (bool, error) {
		r, err := a.Ledger.GetOrder(ctx, id)
		if err != nil {
			return false, err
		}
		return models.OrderStatus(r.Status) == models.StatusAccepted && strings.EqualFold(r.Solver, a.identity()), nil
	})
	if !ok {
		return models.ErrAmbiguousReceipt.Wrapf("accept of order %d not confirmed", id)
	}
	return nil
}
