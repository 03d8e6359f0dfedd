// Package chaintest provides an in-memory order book for tests of the
// components that sit on top of chain.Ledger.
package chaintest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"OminisNode/internal/chain"
	"OminisNode/internal/commitment"
	"OminisNode/internal/models"
)

// Outcome overrides how the next write of a method behaves.
type Outcome int

const (
	// Apply executes the write and returns a successful receipt.
	Apply Outcome = iota
	// Lands executes the write but reports an unsuccessful receipt.
	Lands
	// Lost reports an unsuccessful receipt and drops the write.
	Lost
	// Timeout executes the write and returns ErrAmbiguousReceipt.
	Timeout
	// Transient drops the write and returns ErrTransientLedger.
	Transient
)

type Verification struct {
	IsCorrect bool
	Reason    string
}

// Ledger is a minimal order book honouring the lifecycle and the commit-reveal
// preconditions. All methods are safe for concurrent use.
type Ledger struct {
	mu sync.Mutex

	ID    string
	Now   func() time.Time
	Calls map[string]int

	orders        map[uint64]*chain.OrderRecord
	commits       map[uint64][32]byte
	solutions     map[uint64]string
	requests      map[uint64]*chain.VerificationRequest
	challenges    map[uint64]*chain.ChallengeRecord
	bots          map[uint64]string
	outcomes      map[string][]Outcome
	Verifications map[uint64]Verification
	Resolutions   map[uint64]bool
}

func NewLedger(identity string) *Ledger {
	return &Ledger{
		ID:            identity,
		Now:           time.Now,
		Calls:         map[string]int{},
		orders:        map[uint64]*chain.OrderRecord{},
		commits:       map[uint64][32]byte{},
		solutions:     map[uint64]string{},
		requests:      map[uint64]*chain.VerificationRequest{},
		challenges:    map[uint64]*chain.ChallengeRecord{},
		bots:          map[uint64]string{},
		outcomes:      map[string][]Outcome{},
		Verifications: map[uint64]Verification{},
		Resolutions:   map[uint64]bool{},
	}
}

// Script queues outcomes for the next writes of method.
func (l *Ledger) Script(method string, outcomes ...Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes[method] = append(l.outcomes[method], outcomes...)
}

func (l *Ledger) PutOrder(rec chain.OrderRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := rec
	l.orders[rec.ID] = &cp
}

func (l *Ledger) PutRequest(req chain.VerificationRequest) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := req
	l.requests[req.OrderID] = &cp
}

func (l *Ledger) PutChallenge(ch chain.ChallengeRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := ch
	l.challenges[ch.OrderID] = &cp
}

func (l *Ledger) AssignBot(id uint64, bot string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bots[id] = bot
}

func (l *Ledger) Status(id uint64) models.OrderStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o, ok := l.orders[id]; ok {
		return models.OrderStatus(o.Status)
	}
	return 0
}

func (l *Ledger) Commitment(id uint64) ([32]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.commits[id]
	return h, ok
}

func (l *Ledger) Revealed(id uint64) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.solutions[id]
	return s, ok
}

func (l *Ledger) CallCount(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Calls[method]
}

func (l *Ledger) Identity() string { return l.ID }

func (l *Ledger) GetOrder(_ context.Context, id uint64) (*chain.OrderRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Calls["getOrder"]++
	o, ok := l.orders[id]
	if !ok {
		return nil, models.ErrUnknownOrder.Wrapf("order %d", id)
	}
	cp := *o
	return &cp, nil
}

func (l *Ledger) OpenOrders(_ context.Context, offset, limit uint64) ([]chain.OrderRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []chain.OrderRecord
	for _, id := range l.sortedIDs() {
		if o := l.orders[id]; models.OrderStatus(o.Status) == models.StatusOpen {
			out = append(out, *o)
		}
	}
	if offset >= uint64(len(out)) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && uint64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *Ledger) OrderBot(_ context.Context, id uint64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bots[id], nil
}

func (l *Ledger) PendingVerifications(context.Context) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []uint64
	for id, r := range l.requests {
		if !r.IsProcessed {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (l *Ledger) VerificationRequest(_ context.Context, id uint64) (*chain.VerificationRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.requests[id]
	if !ok {
		return nil, models.ErrUnknownOrder.Wrapf("verification request %d", id)
	}
	cp := *r
	return &cp, nil
}

func (l *Ledger) PendingChallenges(context.Context) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []uint64
	for id, c := range l.challenges {
		if !c.Resolved {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (l *Ledger) Challenge(_ context.Context, id uint64) (*chain.ChallengeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.challenges[id]
	if !ok {
		return nil, models.ErrUnknownOrder.Wrapf("challenge %d", id)
	}
	cp := *c
	return &cp, nil
}

func (l *Ledger) AcceptOrder(_ context.Context, id uint64) (*chain.Receipt, error) {
	return l.write("acceptOrder", func() error {
		o, err := l.expect(id, models.StatusOpen)
		if err != nil {
			return err
		}
		o.Status = uint8(models.StatusAccepted)
		o.Solver = l.ID
		return nil
	})
}

func (l *Ledger) CommitSolution(_ context.Context, id uint64, hash [32]byte) (*chain.Receipt, error) {
	return l.write("commitSolution", func() error {
		o, err := l.expect(id, models.StatusAccepted)
		if err != nil {
			return err
		}
		if !strings.EqualFold(o.Solver, l.ID) {
			return models.ErrPrecondition.Wrap("not the solver")
		}
		o.Status = uint8(models.StatusCommitted)
		l.commits[id] = hash
		return nil
	})
}

func (l *Ledger) RevealSolution(_ context.Context, id uint64, solution string, salt [32]byte) (*chain.Receipt, error) {
	return l.write("revealSolution", func() error {
		o, err := l.expect(id, models.StatusCommitted)
		if err != nil {
			return err
		}
		if !l.Now().Before(o.Deadline) {
			return models.ErrPrecondition.Wrap("deadline passed")
		}
		if commitment.Digest(solution, salt) != commitment.Hash(l.commits[id]) {
			return models.ErrPrecondition.Wrap("commitment mismatch")
		}
		o.Status = uint8(models.StatusRevealed)
		l.solutions[id] = solution
		return nil
	})
}

func (l *Ledger) SubmitVerification(_ context.Context, id uint64, isCorrect bool, reason string) (*chain.Receipt, error) {
	return l.write("submitVerification", func() error {
		r, ok := l.requests[id]
		if !ok || r.IsProcessed {
			return models.ErrPrecondition.Wrapf("no pending verification for %d", id)
		}
		r.IsProcessed = true
		r.IsCorrect = isCorrect
		r.Reason = reason
		l.Verifications[id] = Verification{IsCorrect: isCorrect, Reason: reason}
		if o, ok := l.orders[id]; ok && isCorrect {
			o.Status = uint8(models.StatusVerified)
		}
		return nil
	})
}

func (l *Ledger) ResolveChallenge(_ context.Context, id uint64, challengerWon bool) (*chain.Receipt, error) {
	return l.write("resolveChallenge", func() error {
		c, ok := l.challenges[id]
		if !ok || c.Resolved {
			return models.ErrPrecondition.Wrapf("no open challenge for %d", id)
		}
		c.Resolved = true
		c.ChallengerWon = challengerWon
		l.Resolutions[id] = challengerWon
		if o, ok := l.orders[id]; ok {
			if challengerWon {
				o.Status = uint8(models.StatusRejected)
			} else {
				o.Status = uint8(models.StatusVerified)
			}
		}
		return nil
	})
}

func (l *Ledger) write(method string, apply func() error) (*chain.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Calls[method]++
	outcome := Apply
	if q := l.outcomes[method]; len(q) > 0 {
		outcome, l.outcomes[method] = q[0], q[1:]
	}
	tx := fmt.Sprintf("0x%s-%d", method, l.Calls[method])

	switch outcome {
	case Transient:
		return nil, models.ErrTransientLedger.Wrapf("%s: connection reset", method)
	case Lost:
		return &chain.Receipt{TxHash: tx}, nil
	}
	if err := apply(); err != nil {
		return nil, err
	}
	switch outcome {
	case Lands:
		return &chain.Receipt{TxHash: tx}, nil
	case Timeout:
		return nil, models.ErrAmbiguousReceipt.Wrapf("%s: receipt wait timed out", method)
	}
	return &chain.Receipt{TxHash: tx, Success: true, BlockNumber: uint64(l.Calls[method])}, nil
}

func (l *Ledger) expect(id uint64, status models.OrderStatus) (*chain.OrderRecord, error) {
	o, ok := l.orders[id]
	if !ok {
		return nil, models.ErrPrecondition.Wrapf("order %d does not exist", id)
	}
	if models.OrderStatus(o.Status) != status {
		return nil, models.ErrPrecondition.Wrapf("order %d is %s", id, models.OrderStatus(o.Status))
	}
	return o, nil
}

func (l *Ledger) sortedIDs() []uint64 {
	ids := make([]uint64, 0, len(l.orders))
	for id := range l.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
