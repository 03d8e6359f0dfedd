package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"OminisNode/internal/chain"
	"OminisNode/internal/logger"
	"OminisNode/internal/metrics"
	"OminisNode/internal/models"
	"OminisNode/internal/notify"
	"OminisNode/internal/pricing"
	"OminisNode/internal/retry"
	"OminisNode/internal/store"

	cerrors "cosmossdk.io/errors"
	"golang.org/x/time/rate"
)

// ChunkPolicy decides what happens to the checkpoint when a chunk keeps failing.
type ChunkPolicy string

const (
	// ChunkStall keeps the checkpoint before the failed chunk and retries it later.
	ChunkStall ChunkPolicy = "stall"
	// ChunkSkip logs the failure and moves the checkpoint past the chunk.
	ChunkSkip ChunkPolicy = "skip"
)

func ParseChunkPolicy(v string) (ChunkPolicy, error) {
	switch ChunkPolicy(v) {
	case "", ChunkStall:
		return ChunkStall, nil
	case ChunkSkip:
		return ChunkSkip, nil
	}
	return "", fmt.Errorf("unknown chunk failure policy %q", v)
}

type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeNoop     Outcome = "noop"
	OutcomeRejected Outcome = "rejected"
	OutcomeIgnored  Outcome = "ignored"
	OutcomeFailed   Outcome = "failed"
)

// OrderReader resolves orders the mirror has not seen yet.
type OrderReader interface {
	GetOrder(ctx context.Context, id uint64) (*chain.OrderRecord, error)
}

// Kinds lists every event the synchronizer consumes.
var Kinds = []chain.EventKind{
	chain.EventProblemPosted,
	chain.EventOrderAccepted,
	chain.EventSolutionCommitted,
	chain.EventSolutionRevealed,
	chain.EventSolutionVerified,
	chain.EventChallengeSubmitted,
	chain.EventChallengeCreated,
	chain.EventChallengeResolved,
	chain.EventOrderExpired,
	chain.EventOrderCancelled,
}

// Synchronizer turns ledger events into OrderStore mutations. It is strictly
// sequential: one range at a time, events applied in ledger order.
type Synchronizer struct {
	Source    chain.EventSource
	Store     store.OrderStore
	Orders    OrderReader
	Publisher notify.Publisher
	Tiers     pricing.Schedule
	Log       *logger.Logger

	Kinds          []chain.EventKind
	ChunkSize      uint64
	Interval       time.Duration
	ConfirmDepth   uint64
	StartHeight    uint64
	OnChunkFailure ChunkPolicy
	ChunkRetry     retry.Policy
	Limiter        *rate.Limiter

	checkpoint atomic.Uint64
	// anchored is false until a height is loaded or stored, so a fresh
	// start from height 0 still scans block 0.
	anchored atomic.Bool
}

func (s *Synchronizer) chunkSize() uint64 {
	if s.ChunkSize == 0 {
		return 1000
	}
	return s.ChunkSize
}

func (s *Synchronizer) interval() time.Duration {
	if s.Interval <= 0 {
		return 2 * time.Second
	}
	return s.Interval
}

func (s *Synchronizer) kinds() []chain.EventKind {
	if len(s.Kinds) == 0 {
		return Kinds
	}
	return s.Kinds
}

func (s *Synchronizer) chunkRetry() retry.Policy {
	if s.ChunkRetry.Attempts == 0 {
		return retry.Backoff(3, 2*time.Second, 30*time.Second)
	}
	return s.ChunkRetry
}

// Checkpoint is the last height whose events are fully applied.
func (s *Synchronizer) Checkpoint() uint64 {
	return s.checkpoint.Load()
}

// next is the first height not yet applied.
func (s *Synchronizer) next() uint64 {
	if !s.anchored.Load() {
		return s.StartHeight
	}
	return s.checkpoint.Load() + 1
}

// Run resumes from the stored checkpoint, catches up and then tails until ctx is done.
func (s *Synchronizer) Run(ctx context.Context) error {
	stored, err := s.Store.GetSyncHeight(ctx)
	if err != nil {
		return fmt.Errorf("load sync height: %w", err)
	}
	// a stored height of 0 is indistinguishable from none; rescanning
	// block 0 is harmless since replayed events converge
	switch {
	case stored > 0 && stored+1 > s.StartHeight:
		s.checkpoint.Store(stored)
		s.anchored.Store(true)
	case s.StartHeight > 0:
		s.checkpoint.Store(s.StartHeight - 1)
		s.anchored.Store(true)
	}
	s.Log.Info("synchronizer starting", "from", s.next(), "chunk", s.chunkSize(), "policy", s.policy())

	for {
		err := s.CatchUp(ctx, s.next())
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil
		}
		s.Log.Error("catch-up stalled", "checkpoint", s.Checkpoint(), "err", err)
		if retry.Sleep(ctx, s.interval()) != nil {
			return nil
		}
	}
	s.Tail(ctx)
	return nil
}

// CatchUp processes [from, head] in contiguous chunks.
func (s *Synchronizer) CatchUp(ctx context.Context, from uint64) error {
	head, err := s.head(ctx)
	if err != nil {
		return err
	}
	if from > head {
		return nil
	}
	s.Log.Info("catch-up", "from", from, "to", head)
	return s.syncTo(ctx, from, head)
}

// Tail follows the head, sleeping Interval between passes.
func (s *Synchronizer) Tail(ctx context.Context) {
	for {
		if err := s.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			s.Log.Warn("tail pass failed", "checkpoint", s.Checkpoint(), "err", err)
		}
		if retry.Sleep(ctx, s.interval()) != nil {
			return
		}
	}
}

// SyncOnce processes everything between the checkpoint and the head.
func (s *Synchronizer) SyncOnce(ctx context.Context) error {
	head, err := s.head(ctx)
	if err != nil {
		return err
	}
	from := s.next()
	if from > head {
		return nil
	}
	return s.syncTo(ctx, from, head)
}

func (s *Synchronizer) head(ctx context.Context) (uint64, error) {
	h, err := s.Source.CurrentHeight(ctx)
	if err != nil {
		return 0, err
	}
	if h <= s.ConfirmDepth {
		return 0, nil
	}
	return h - s.ConfirmDepth, nil
}

func (s *Synchronizer) policy() ChunkPolicy {
	if s.OnChunkFailure == ChunkSkip {
		return ChunkSkip
	}
	return ChunkStall
}

func (s *Synchronizer) syncTo(ctx context.Context, from, head uint64) error {
	size := s.chunkSize()
	for start := from; start <= head; {
		end := start + size - 1
		if end > head || end < start {
			end = head
		}
		if s.Limiter != nil {
			if err := s.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if err := s.processChunk(ctx, start, end); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.ChunkFailures.WithLabelValues(string(s.policy())).Inc()
			if s.policy() == ChunkStall {
				return fmt.Errorf("chunk %d..%d: %w", start, end, err)
			}
			s.Log.Error("chunk skipped", "from", start, "to", end, "err", err)
		}
		if err := s.advance(ctx, end); err != nil {
			return err
		}
		if end == head {
			break
		}
		start = end + 1
	}
	return nil
}

func (s *Synchronizer) processChunk(ctx context.Context, from, to uint64) error {
	p := s.chunkRetry()
	total := p.Attempts
	var err error
	for n := 1; n <= total; n++ {
		if err = s.ProcessRange(ctx, from, to); err == nil {
			return nil
		}
		s.Log.Warn("chunk failed", "from", from, "to", to, "attempt", n, "of", total, "err", err)
		if n < total {
			if werr := retry.Sleep(ctx, p.Interval(n)); werr != nil {
				return werr
			}
		}
	}
	return err
}

func (s *Synchronizer) advance(ctx context.Context, height uint64) error {
	if err := s.Store.SetSyncHeight(ctx, height); err != nil {
		return fmt.Errorf("save checkpoint %d: %w", height, err)
	}
	s.checkpoint.Store(height)
	s.anchored.Store(true)
	metrics.CheckpointHeight.Set(float64(height))
	return nil
}

// ProcessRange fetches every consumed kind in [from, to] and applies the
// events in ledger order. Rejected events are reported, not fatal; any other
// failure aborts the range so it can be retried as a whole.
func (s *Synchronizer) ProcessRange(ctx context.Context, from, to uint64) error {
	var events []chain.Event
	for _, kind := range s.kinds() {
		evs, err := s.Source.EventsInRange(ctx, kind, from, to)
		if err != nil {
			return err
		}
		events = append(events, evs...)
	}
	chain.SortEvents(events)
	for _, ev := range events {
		if _, err := s.Apply(ctx, ev); err != nil && !IsRejection(err) {
			return err
		}
	}
	return nil
}

// IsRejection reports whether err is a refused event rather than a failure.
func IsRejection(err error) bool {
	return errors.Is(err, models.ErrIllegalTransition) ||
		errors.Is(err, models.ErrChallengeNotAllowed) ||
		errors.Is(err, models.ErrUnknownOrder)
}

// Apply dispatches one event. A rejected event leaves the store untouched.
func (s *Synchronizer) Apply(ctx context.Context, ev chain.Event) (Outcome, error) {
	var (
		out Outcome
		err error
	)
	switch ev.Kind {
	case chain.EventProblemPosted:
		out, err = s.applyPosted(ctx, ev)
	case chain.EventOrderAccepted:
		out, err = s.move(ctx, ev, models.StatusAccepted, step{mutate: setSolver(ev.Account)})
	case chain.EventSolutionCommitted:
		out, err = s.move(ctx, ev, models.StatusCommitted, step{
			mutate: setSolver(ev.Account),
			side: func(ctx context.Context) error {
				return s.Store.InsertOrUpdateSolution(ctx, &models.Solution{
					OrderID:    ev.OrderID,
					Solver:     ev.Account,
					CommitHash: ev.Hash,
					CommitTime: ev.BlockTime,
					TxHash:     ev.TxHash,
				})
			},
		})
	case chain.EventSolutionRevealed:
		out, err = s.move(ctx, ev, models.StatusRevealed, step{
			side: func(ctx context.Context) error {
				text, at := ev.Text, ev.BlockTime
				return s.Store.InsertOrUpdateSolution(ctx, &models.Solution{
					OrderID:    ev.OrderID,
					Solver:     ev.Account,
					Text:       &text,
					RevealTime: &at,
					IsRevealed: true,
				})
			},
		})
	case chain.EventSolutionVerified:
		out, err = s.move(ctx, ev, models.StatusVerified, step{})
	case chain.EventChallengeSubmitted:
		out, err = s.move(ctx, ev, models.StatusChallenged, s.challengeStep(&models.Challenge{
			OrderID:       ev.OrderID,
			Challenger:    ev.Account,
			Stake:         ev.Amount,
			ChallengeTime: ev.BlockTime,
			TxHash:        ev.TxHash,
		}))
	case chain.EventChallengeCreated:
		out, err = s.move(ctx, ev, models.StatusChallenged, s.challengeStep(&models.Challenge{
			OrderID:       ev.OrderID,
			Challenger:    ev.Account,
			Reason:        ev.Text,
			ChallengeTime: ev.BlockTime,
		}))
	case chain.EventChallengeResolved:
		target := models.StatusVerified
		if ev.Flag {
			target = models.StatusRejected
		}
		out, err = s.move(ctx, ev, target, s.challengeStep(&models.Challenge{
			OrderID:       ev.OrderID,
			Resolved:      true,
			ChallengerWon: ev.Flag,
		}))
	case chain.EventOrderExpired:
		out, err = s.move(ctx, ev, models.StatusExpired, step{})
	case chain.EventOrderCancelled:
		out, err = s.move(ctx, ev, models.StatusCancelled, step{})
	default:
		out = OutcomeIgnored
	}

	metrics.EventsApplied.WithLabelValues(string(ev.Kind), string(out)).Inc()
	switch out {
	case OutcomeRejected:
		s.Log.Warn("event rejected", "kind", ev.Kind, "order_id", ev.OrderID, "height", ev.Height, "err", err)
	case OutcomeFailed:
		s.Log.Error("event failed", "kind", ev.Kind, "order_id", ev.OrderID, "height", ev.Height, "err", err)
	case OutcomeApplied:
		s.Log.Debug("event applied", "kind", ev.Kind, "order_id", ev.OrderID, "height", ev.Height)
		s.publish(ev)
	}
	return out, err
}

type step struct {
	guard  func(*models.Order) error
	side   func(context.Context) error
	mutate func(*models.Order)
}

func setSolver(account string) func(*models.Order) {
	return func(o *models.Order) {
		if account != "" && o.Solver == nil {
			solver := account
			o.Solver = &solver
		}
	}
}

func (s *Synchronizer) challengeStep(ch *models.Challenge) step {
	return step{
		guard: func(o *models.Order) error {
			if !revealedOrLater(o.Status) {
				return cerrors.Wrapf(models.ErrChallengeNotAllowed, "order %d is %s", o.ID, o.Status)
			}
			return nil
		},
		side: func(ctx context.Context) error {
			return s.Store.InsertOrUpdateChallenge(ctx, ch)
		},
	}
}

func revealedOrLater(st models.OrderStatus) bool {
	return st == models.StatusRevealed || models.Reachable(models.StatusRevealed, st)
}

// move validates the transition before any write, then records the event's
// side entity and the new order status.
func (s *Synchronizer) move(ctx context.Context, ev chain.Event, target models.OrderStatus, st step) (Outcome, error) {
	order, err := s.loadOrder(ctx, ev.OrderID)
	if err != nil {
		if IsRejection(err) {
			return OutcomeRejected, err
		}
		return OutcomeFailed, err
	}
	if st.guard != nil {
		if err := st.guard(order); err != nil {
			return OutcomeRejected, err
		}
	}
	next, changed, err := models.Transition(order.Status, target)
	if err != nil {
		return OutcomeRejected, cerrors.Wrapf(err, "order %d %s", ev.OrderID, ev.Kind)
	}
	if st.side != nil {
		if err := st.side(ctx); err != nil {
			return OutcomeFailed, err
		}
	}
	if !changed {
		return OutcomeNoop, nil
	}
	order.Status = next
	if st.mutate != nil {
		st.mutate(order)
	}
	if err := s.Store.InsertOrUpdateOrder(ctx, order); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeApplied, nil
}

// loadOrder reads the mirror, falling back to the ledger for orders whose
// posting event was never seen.
func (s *Synchronizer) loadOrder(ctx context.Context, id uint64) (*models.Order, error) {
	order, err := s.Store.GetOrder(ctx, id)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if s.Orders == nil {
		return nil, cerrors.Wrapf(models.ErrUnknownOrder, "order %d", id)
	}
	rec, err := s.Orders.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	order = rec.Order()
	if err := s.Store.InsertOrUpdateOrder(ctx, order); err != nil {
		return nil, err
	}
	s.Log.Info("order imported from ledger", "order_id", id, "status", order.Status)
	return order, nil
}

func (s *Synchronizer) applyPosted(ctx context.Context, ev chain.Event) (Outcome, error) {
	if _, err := s.Store.GetOrder(ctx, ev.OrderID); err == nil {
		return OutcomeNoop, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return OutcomeFailed, err
	}

	order := &models.Order{
		ID:          ev.OrderID,
		Issuer:      ev.Account,
		ProblemType: models.ProblemType(ev.ProblemType),
		TimeTier:    models.TimeTier(ev.TimeTier),
		Status:      models.StatusOpen,
		Reward:      ev.Amount,
		CreatedAt:   ev.BlockTime,
		Deadline:    ev.BlockTime,
		TxHash:      ev.TxHash,
		BlockNumber: ev.Height,
	}
	if d, err := s.Tiers.Deadline(order.TimeTier, ev.BlockTime); err == nil {
		order.Deadline = d
	}
	// The posting event carries no problem hash and nothing later fills it,
	// so a failed lookup fails the event and the chunk is retried.
	if s.Orders != nil {
		rec, err := s.Orders.GetOrder(ctx, ev.OrderID)
		if err != nil {
			if IsRejection(err) {
				// the node has not seen the order yet; retry rather than drop
				err = cerrors.Wrapf(models.ErrTransientLedger, "order %d not visible on ledger: %v", ev.OrderID, err)
			}
			return OutcomeFailed, fmt.Errorf("problem hash lookup: %w", err)
		}
		order.ProblemHash = rec.ProblemHash
		if !rec.CreatedAt.IsZero() {
			order.CreatedAt = rec.CreatedAt
		}
		if !rec.Deadline.IsZero() {
			order.Deadline = rec.Deadline
		}
	}
	if err := s.Store.InsertOrUpdateOrder(ctx, order); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeApplied, nil
}

func (s *Synchronizer) publish(ev chain.Event) {
	if s.Publisher == nil {
		return
	}
	ts := ev.BlockTime
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	s.Publisher.Publish(notify.Notification{
		Type:      string(ev.Kind),
		OrderID:   ev.OrderID,
		TxHash:    ev.TxHash,
		Height:    ev.Height,
		Timestamp: ts,
	})
}
