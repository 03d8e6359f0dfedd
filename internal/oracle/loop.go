// Package oracle judges pending verification requests and challenges and
// submits the verdicts to the ledger.
package oracle

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"OminisNode/internal/chain"
	"OminisNode/internal/logger"
	"OminisNode/internal/metrics"
	"OminisNode/internal/models"
	"OminisNode/internal/registry"
	"OminisNode/internal/retry"
	"OminisNode/internal/verify"
)

const (
	DefaultInterval    = 10 * time.Second
	DefaultTimeout     = 300 * time.Second
	DefaultReasonLimit = 100
	submitTimeout      = 3 * time.Minute
)

type ProblemSource interface {
	Text(ctx context.Context, hash string) (string, error)
}

type SolutionJudge interface {
	Verify(ctx context.Context, problem, solution string, pt models.ProblemType) verify.Verdict
}

type DisputeJudge interface {
	Resolve(ctx context.Context, problem, solution, reason string, pt models.ProblemType) (verify.Resolution, error)
}

// WorkKind separates the two queues an order can sit in.
type WorkKind string

const (
	WorkVerification WorkKind = "verification"
	WorkChallenge    WorkKind = "challenge"
)

type Item struct {
	Kind    WorkKind
	OrderID uint64
}

type Outcome string

const (
	Submitted        Outcome = "submitted"
	AlreadyProcessed Outcome = "already_processed"
	InFlight         Outcome = "in_flight"
	Failed           Outcome = "failed"
)

// Loop is the oracle's work intake. Polling and the event watcher share the
// in-flight registry and the processed sets, so an item reaching both paths
// is judged once.
type Loop struct {
	Ledger     chain.Ledger
	Watcher    *chain.Watcher
	Problems   ProblemSource
	Engine     SolutionJudge
	Challenges DisputeJudge

	InFlight *registry.InFlight[Item]
	Verified *registry.Set[uint64]
	Resolved *registry.Set[uint64]

	Interval    time.Duration
	Timeout     time.Duration
	ReasonLimit int
	Confirm     retry.Policy
	Transient   retry.Policy
	Clock       func() time.Time
	Log         *logger.Logger
}

func New(l chain.Ledger, engine SolutionJudge, challenges DisputeJudge, log *logger.Logger) *Loop {
	return &Loop{
		Ledger:      l,
		Engine:      engine,
		Challenges:  challenges,
		InFlight:    registry.NewInFlight[Item](),
		Verified:    registry.NewSet[uint64](),
		Resolved:    registry.NewSet[uint64](),
		Interval:    DefaultInterval,
		Timeout:     DefaultTimeout,
		ReasonLimit: DefaultReasonLimit,
		Confirm:     retry.Fixed(3, 3*time.Second),
		Transient:   retry.Backoff(3, time.Second, 10*time.Second),
		Clock:       time.Now,
		Log:         log,
	}
}

func (o *Loop) now() time.Time {
	if o.Clock == nil {
		return time.Now()
	}
	return o.Clock()
}

// Run polls until ctx is cancelled, with the watcher feeding events in
// between cycles when configured.
func (o *Loop) Run(ctx context.Context) {
	var wg sync.WaitGroup
	if o.Watcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Watcher.Run(ctx, o.HandleEvent)
		}()
	}

	o.Log.Info("oracle started", "identity", o.Ledger.Identity(), "interval", o.Interval)
	for {
		o.RunCycle(ctx)
		if err := retry.Sleep(ctx, o.Interval); err != nil {
			break
		}
	}
	wg.Wait()
	o.Log.Info("oracle stopped")
}

// HandleEvent is the event-driven path.
func (o *Loop) HandleEvent(ctx context.Context, ev chain.Event) {
	var err error
	switch ev.Kind {
	case chain.EventVerificationRequested:
		_, err = o.ProcessVerification(ctx, ev.OrderID)
	case chain.EventChallengeCreated, chain.EventChallengeSubmitted:
		_, err = o.ProcessChallenge(ctx, ev.OrderID)
	default:
		return
	}
	if err != nil {
		o.Log.Error("event handling failed", "order_id", ev.OrderID, "kind", ev.Kind, "err", err)
	}
}

// RunCycle drains both pending queues once and returns how many verdicts
// were submitted. Failures of single items are logged and skipped.
func (o *Loop) RunCycle(ctx context.Context) int {
	submitted := 0

	var pending []uint64
	err := o.Transient.Do(ctx, o.Log, "pendingVerifications", func(ctx context.Context) (err error) {
		pending, err = o.Ledger.PendingVerifications(ctx)
		return err
	})
	if err != nil {
		o.Log.Error("fetch pending verifications failed", "err", err)
	}
	for _, id := range pending {
		if ctx.Err() != nil {
			return submitted
		}
		if o.Verified.Has(id) {
			continue
		}
		out, err := o.ProcessVerification(ctx, id)
		if err != nil {
			o.Log.Error("verification failed", "order_id", id, "err", err)
		}
		if out == Submitted {
			submitted++
		}
	}

	pending = nil
	err = o.Transient.Do(ctx, o.Log, "pendingChallenges", func(ctx context.Context) (err error) {
		pending, err = o.Ledger.PendingChallenges(ctx)
		return err
	})
	if err != nil {
		o.Log.Error("fetch pending challenges failed", "err", err)
	}
	for _, id := range pending {
		if ctx.Err() != nil {
			return submitted
		}
		if o.Resolved.Has(id) {
			continue
		}
		out, err := o.ProcessChallenge(ctx, id)
		if err != nil {
			o.Log.Error("challenge resolution failed", "order_id", id, "err", err)
		}
		if out == Submitted {
			submitted++
		}
	}
	return submitted
}

func (o *Loop) claim(item Item) bool {
	if !o.InFlight.TryClaim(item) {
		o.Log.Debug("already in flight", "order_id", item.OrderID, "kind", item.Kind)
		return false
	}
	metrics.InFlight.WithLabelValues("oracle").Set(float64(o.InFlight.Len()))
	return true
}

func (o *Loop) release(item Item) {
	o.InFlight.Release(item)
	metrics.InFlight.WithLabelValues("oracle").Set(float64(o.InFlight.Len()))
}

// testHookBeforeClaim runs between the done check and the claim.
var testHookBeforeClaim = func() {}

// begin claims item unless it is already done or in flight. On ok the caller
// owns the claim and must release it.
func (o *Loop) begin(item Item, done *registry.Set[uint64]) (out Outcome, ok bool) {
	if done.Has(item.OrderID) {
		return AlreadyProcessed, false
	}
	testHookBeforeClaim()
	if !o.claim(item) {
		return InFlight, false
	}
	// the other intake path may have finished the item between the check and the claim
	if done.Has(item.OrderID) {
		o.release(item)
		return AlreadyProcessed, false
	}
	return "", true
}

// ProcessVerification judges one verification request and submits the verdict.
func (o *Loop) ProcessVerification(ctx context.Context, id uint64) (Outcome, error) {
	item := Item{Kind: WorkVerification, OrderID: id}
	if out, ok := o.begin(item, o.Verified); !ok {
		return out, nil
	}
	defer o.release(item)
	log := o.Log.With("order_id", id, "kind", WorkVerification)

	req, err := o.request(ctx, id)
	if err != nil {
		return Failed, err
	}
	if req.IsProcessed {
		o.Verified.Add(id)
		log.Info("already processed on ledger")
		return AlreadyProcessed, nil
	}
	if age := o.now().Sub(req.RequestTime); age > o.Timeout {
		// the ledger decides whether a late verdict is still accepted
		log.Warn("verification window exceeded, submitting anyway", "age", age.Round(time.Second))
	}

	problem := o.problemText(ctx, id, log)
	pt := models.ProblemType(req.ProblemType)
	verdict := o.Engine.Verify(ctx, problem, req.Solution, pt)
	metrics.Verdicts.WithLabelValues(string(WorkVerification), verdict.Method.String(), outcomeLabel(verdict.IsCorrect)).Inc()
	log.Info("verdict reached",
		"is_correct", verdict.IsCorrect,
		"confidence", verdict.Confidence,
		"method", verdict.Method.String(),
	)

	reason := o.truncate(verdict.Method.String() + ": " + verdict.Reason)
	err = o.submit(ctx, log, "submitVerification",
		func(ctx context.Context) (*chain.Receipt, error) {
			return o.Ledger.SubmitVerification(ctx, id, verdict.IsCorrect, reason)
		},
		func(ctx context.Context) (bool, error) {
			r, err := o.Ledger.VerificationRequest(ctx, id)
			if err != nil {
				return false, err
			}
			return r.IsProcessed, nil
		},
	)
	if err != nil {
		return Failed, err
	}
	o.Verified.Add(id)
	return Submitted, nil
}

// ProcessChallenge resolves one open challenge and submits the outcome.
func (o *Loop) ProcessChallenge(ctx context.Context, id uint64) (Outcome, error) {
	item := Item{Kind: WorkChallenge, OrderID: id}
	if out, ok := o.begin(item, o.Resolved); !ok {
		return out, nil
	}
	defer o.release(item)
	log := o.Log.With("order_id", id, "kind", WorkChallenge)

	var ch *chain.ChallengeRecord
	err := o.Transient.Do(ctx, log, "getChallenge", func(ctx context.Context) (err error) {
		ch, err = o.Ledger.Challenge(ctx, id)
		return err
	})
	if err != nil {
		return Failed, err
	}
	if ch.Resolved {
		o.Resolved.Add(id)
		log.Info("challenge already resolved on ledger")
		return AlreadyProcessed, nil
	}

	// the revealed solution lives in the verification request
	req, err := o.request(ctx, id)
	if err != nil {
		return Failed, err
	}
	problem := o.problemText(ctx, id, log)
	res, err := o.Challenges.Resolve(ctx, problem, req.Solution, ch.Reason, models.ProblemType(req.ProblemType))
	if err != nil {
		return Failed, err
	}
	metrics.Verdicts.WithLabelValues(string(WorkChallenge), "consensus", winnerLabel(res.ChallengerWins)).Inc()
	log.Info("dispute resolved",
		"challenger_wins", res.ChallengerWins,
		"confidence", res.Confidence,
		"analysis", res.Analysis,
	)

	err = o.submit(ctx, log, "resolveChallenge",
		func(ctx context.Context) (*chain.Receipt, error) {
			return o.Ledger.ResolveChallenge(ctx, id, res.ChallengerWins)
		},
		func(ctx context.Context) (bool, error) {
			c, err := o.Ledger.Challenge(ctx, id)
			if err != nil {
				return false, err
			}
			return c.Resolved, nil
		},
	)
	if err != nil {
		return Failed, err
	}
	o.Resolved.Add(id)
	return Submitted, nil
}

func (o *Loop) request(ctx context.Context, id uint64) (*chain.VerificationRequest, error) {
	var req *chain.VerificationRequest
	err := o.Transient.Do(ctx, o.Log, "getVerificationRequest", func(ctx context.Context) (err error) {
		req, err = o.Ledger.VerificationRequest(ctx, id)
		return err
	})
	return req, err
}

// problemText is best effort: verifiers still run on the solution alone.
func (o *Loop) problemText(ctx context.Context, id uint64, log *logger.Logger) string {
	if o.Problems == nil {
		return ""
	}
	rec, err := o.Ledger.GetOrder(ctx, id)
	if err != nil {
		log.Warn("order lookup for problem text failed", "err", err)
		return ""
	}
	text, err := o.Problems.Text(ctx, rec.ProblemHash)
	if err != nil {
		log.Warn("problem text unavailable", "problem_hash", rec.ProblemHash, "err", err)
		return ""
	}
	return text
}

// submit sends a verdict. Once the verdict exists the write is detached from
// ctx so a stop signal cannot abandon a sent transaction. An unclear outcome
// is settled by re-reading the processed flag.
func (o *Loop) submit(ctx context.Context, log *logger.Logger, method string,
	send func(context.Context) (*chain.Receipt, error),
	processed func(context.Context) (bool, error),
) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), submitTimeout)
	defer cancel()

	var rcpt *chain.Receipt
	err := o.Transient.Do(wctx, log, method, func(ctx context.Context) (err error) {
		rcpt, err = send(ctx)
		return err
	})
	if err == nil && rcpt != nil && rcpt.Success {
		metrics.Submissions.WithLabelValues(method, "success").Inc()
		log.Info("verdict submitted", "tx_hash", rcpt.TxHash)
		return nil
	}
	if err != nil && models.IsPrecondition(err) {
		// another oracle may have won the race
		if done, perr := processed(wctx); perr == nil && done {
			metrics.Submissions.WithLabelValues(method, "success").Inc()
			log.Info("verdict already recorded by another submission")
			return nil
		}
		metrics.Submissions.WithLabelValues(method, "failed").Inc()
		return err
	}
	if err != nil && !models.IsAmbiguous(err) && !models.IsTransient(err) {
		metrics.Submissions.WithLabelValues(method, "failed").Inc()
		return err
	}

	metrics.Submissions.WithLabelValues(method, "ambiguous").Inc()
	log.Warn("submission outcome unclear, re-reading ledger", "err", err)
	if o.Confirm.Poll(wctx, log, method, processed) {
		log.Info("submission confirmed by ledger state")
		return nil
	}
	if err == nil {
		return models.ErrAmbiguousReceipt.Wrapf("%s not confirmed", method)
	}
	return err
}

func (o *Loop) truncate(s string) string {
	limit := o.ReasonLimit
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:limit]))
}

func outcomeLabel(correct bool) string {
	if correct {
		return "correct"
	}
	return "incorrect"
}

func winnerLabel(challengerWins bool) string {
	if challengerWins {
		return "challenger"
	}
	return "solver"
}
