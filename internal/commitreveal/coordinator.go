// Package commitreveal drives the two-phase commit and reveal of a solution
// against the order book, including the ambiguity handling around receipts.
package commitreveal

import (
	"context"
	"strings"
	"sync"
	"time"

	"OminisNode/internal/chain"
	"OminisNode/internal/commitment"
	"OminisNode/internal/logger"
	"OminisNode/internal/metrics"
	"OminisNode/internal/models"
	"OminisNode/internal/retry"
)

const (
	DefaultSettleDelay     = 2 * time.Second
	DefaultMinRevealMargin = 30 * time.Second
)

// DefaultConfirm is the ambiguity budget: five status checks three seconds apart.
var DefaultConfirm = retry.Fixed(5, 3*time.Second)

var DefaultTransient = retry.Backoff(3, time.Second, 10*time.Second)

// SaltBook keeps salts between commit and reveal. It never leaves the process.
type SaltBook struct {
	mu    sync.Mutex
	salts map[uint64]commitment.Salt
}

func NewSaltBook() *SaltBook {
	return &SaltBook{salts: map[uint64]commitment.Salt{}}
}

func (b *SaltBook) Put(id uint64, s commitment.Salt) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.salts[id] = s
}

func (b *SaltBook) Get(id uint64) (commitment.Salt, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.salts[id]
	return s, ok
}

func (b *SaltBook) Delete(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.salts, id)
}

type Coordinator struct {
	Ledger          chain.Ledger
	Confirm         retry.Policy
	Transient       retry.Policy
	SettleDelay     time.Duration
	MinRevealMargin time.Duration
	Clock           func() time.Time
	Salts           *SaltBook
	Log             *logger.Logger
}

// New returns a coordinator with the default timing.
func New(l chain.Ledger, log *logger.Logger) *Coordinator {
	return &Coordinator{
		Ledger:          l,
		Confirm:         DefaultConfirm,
		Transient:       DefaultTransient,
		SettleDelay:     DefaultSettleDelay,
		MinRevealMargin: DefaultMinRevealMargin,
		Clock:           time.Now,
		Salts:           NewSaltBook(),
		Log:             log,
	}
}

// Result carries both receipts of a full submission.
type Result struct {
	CommitHash commitment.Hash
	Salt       commitment.Salt
	Commit     *chain.Receipt
	Reveal     *chain.Receipt
}

func (c *Coordinator) now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock()
}

func (c *Coordinator) identity() string {
	return c.Ledger.Identity()
}

// Commit publishes Digest(solution, salt) for the order. The salt is recorded
// in the salt book before the transaction is sent so that a commit which lands
// despite an unclear outcome can still be revealed.
func (c *Coordinator) Commit(ctx context.Context, id uint64, solution string, salt commitment.Salt) (*chain.Receipt, error) {
	log := c.Log.With("order_id", id)
	hash := commitment.Digest(solution, salt)
	if c.Salts != nil {
		c.Salts.Put(id, salt)
	}

	var rcpt *chain.Receipt
	err := c.Transient.Do(ctx, log, "commitSolution", func(ctx context.Context) error {
		r, err := c.Ledger.CommitSolution(ctx, id, hash)
		if err != nil {
			return err
		}
		rcpt = r
		return nil
	})
	switch {
	case err == nil && rcpt != nil && rcpt.Success:
		metrics.Submissions.WithLabelValues("commitSolution", "success").Inc()
		log.Info("solution committed", "tx_hash", rcpt.TxHash, "commit_hash", hash.Hex())
		return rcpt, nil
	case err != nil && !models.IsAmbiguous(err) && !models.IsTransient(err):
		metrics.Submissions.WithLabelValues("commitSolution", "failed").Inc()
		return rcpt, err
	}

	metrics.Submissions.WithLabelValues("commitSolution", "ambiguous").Inc()
	log.Warn("commit outcome unclear, checking order status", "err", err)
	if c.awaitStatus(ctx, id, "confirmCommit", func(s models.OrderStatus) bool { return s == models.StatusCommitted }) {
		log.Info("commit confirmed by order status")
		return confirmed(rcpt), nil
	}
	return rcpt, models.ErrCommitNotConfirmed.Wrapf("order %d", id)
}

// Reveal discloses the solution and salt. Its preconditions are checked
// against the ledger first and a violation aborts without sending anything.
func (c *Coordinator) Reveal(ctx context.Context, id uint64, solution string, salt commitment.Salt) (*chain.Receipt, error) {
	log := c.Log.With("order_id", id)
	rec, err := c.order(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.checkReveal(rec); err != nil {
		log.Warn("reveal aborted", "err", err)
		return nil, err
	}

	var rcpt *chain.Receipt
	err = c.Transient.Do(ctx, log, "revealSolution", func(ctx context.Context) error {
		r, err := c.Ledger.RevealSolution(ctx, id, solution, salt)
		if err != nil {
			return err
		}
		rcpt = r
		return nil
	})
	switch {
	case err == nil && rcpt != nil && rcpt.Success:
		metrics.Submissions.WithLabelValues("revealSolution", "success").Inc()
		c.forget(id)
		log.Info("solution revealed", "tx_hash", rcpt.TxHash)
		return rcpt, nil
	case err != nil && !models.IsAmbiguous(err) && !models.IsTransient(err):
		metrics.Submissions.WithLabelValues("revealSolution", "failed").Inc()
		return rcpt, err
	}

	metrics.Submissions.WithLabelValues("revealSolution", "ambiguous").Inc()
	log.Warn("reveal outcome unclear, checking order status", "err", err)
	if c.awaitStatus(ctx, id, "confirmReveal", revealedOrLater) {
		c.forget(id)
		log.Info("reveal confirmed by order status")
		return confirmed(rcpt), nil
	}
	return rcpt, models.ErrRevealNotConfirmed.Wrapf("order %d", id)
}

// Submit runs a full sequence with a fresh salt: commit, settle, reveal.
// A commit that cannot be confirmed is never followed by a reveal.
func (c *Coordinator) Submit(ctx context.Context, id uint64, solution string) (*Result, error) {
	salt, err := commitment.NewSalt()
	if err != nil {
		return nil, err
	}
	res := &Result{CommitHash: commitment.Digest(solution, salt), Salt: salt}
	res.Commit, err = c.Commit(ctx, id, solution, salt)
	if err != nil {
		return res, err
	}
	if err := retry.Sleep(ctx, c.SettleDelay); err != nil {
		return res, err
	}
	res.Reveal, err = c.Reveal(ctx, id, solution, salt)
	return res, err
}

// Resume reveals an order this process already committed, using the salt
// from the salt book.
func (c *Coordinator) Resume(ctx context.Context, id uint64, solution string) (*chain.Receipt, error) {
	var (
		salt commitment.Salt
		ok   bool
	)
	if c.Salts != nil {
		salt, ok = c.Salts.Get(id)
	}
	if !ok {
		return nil, models.ErrSaltLost.Wrapf("order %d", id)
	}
	return c.Reveal(ctx, id, solution, salt)
}

func (c *Coordinator) checkReveal(rec *chain.OrderRecord) error {
	status := models.OrderStatus(rec.Status)
	if status != models.StatusCommitted {
		return models.ErrInvalidStatus.Wrapf("order %d is %s, want %s", rec.ID, status, models.StatusCommitted)
	}
	if !strings.EqualFold(rec.Solver, c.identity()) {
		return models.ErrNotAssignedSolver.Wrapf("order %d solver is %s", rec.ID, rec.Solver)
	}
	remaining := rec.Order().TimeRemaining(c.now())
	if remaining <= c.MinRevealMargin {
		return models.ErrInsufficientTime.Wrapf("order %d has %s left, need more than %s", rec.ID, remaining, c.MinRevealMargin)
	}
	return nil
}

func (c *Coordinator) order(ctx context.Context, id uint64) (*chain.OrderRecord, error) {
	var rec *chain.OrderRecord
	err := c.Transient.Do(ctx, c.Log, "getOrder", func(ctx context.Context) error {
		r, err := c.Ledger.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	return rec, err
}

func (c *Coordinator) awaitStatus(ctx context.Context, id uint64, op string, accept func(models.OrderStatus) bool) bool {
	return c.Confirm.Poll(ctx, c.Log.With("order_id", id), op, func(ctx context.Context) (bool, error) {
		rec, err := c.Ledger.GetOrder(ctx, id)
		if err != nil {
			return false, err
		}
		return accept(models.OrderStatus(rec.Status)), nil
	})
}

func (c *Coordinator) forget(id uint64) {
	if c.Salts != nil {
		c.Salts.Delete(id)
	}
}

// confirmed turns the receipt of a write proven by ledger state into a success.
func confirmed(r *chain.Receipt) *chain.Receipt {
	out := chain.Receipt{Success: true}
	if r != nil {
		out.TxHash = r.TxHash
		out.BlockNumber = r.BlockNumber
	}
	return &out
}

func revealedOrLater(s models.OrderStatus) bool {
	switch s {
	case models.StatusRevealed, models.StatusVerified, models.StatusChallenged, models.StatusRejected:
		return true
	}
	return false
}
