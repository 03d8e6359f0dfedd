package chain

import (
	"context"
	"sort"
	"time"

	"OminisNode/internal/models"

	"cosmossdk.io/math"
)

type EventKind string

const (
	EventProblemPosted         EventKind = "ProblemPosted"
	EventOrderAccepted         EventKind = "OrderAccepted"
	EventOrderAssignedToBot    EventKind = "OrderAssignedToBot"
	EventSolutionCommitted     EventKind = "SolutionCommitted"
	EventSolutionRevealed      EventKind = "SolutionRevealed"
	EventSolutionVerified      EventKind = "SolutionVerified"
	EventVerificationRequested EventKind = "VerificationRequested"
	EventChallengeSubmitted    EventKind = "ChallengeSubmitted"
	EventChallengeCreated      EventKind = "ChallengeCreated"
	EventChallengeResolved     EventKind = "ChallengeResolved"
	EventOrderExpired          EventKind = "OrderExpired"
	EventOrderCancelled        EventKind = "OrderCancelled"
)

// Event is a decoded ledger log. Which payload fields are set depends on Kind:
// Account is the issuer, solver, bot, challenger or winner; Amount the reward
// or stake; Hash the commit or problem hash; Text the solution or challenge
// reason; Flag the challenge outcome.
type Event struct {
	Kind        EventKind
	OrderID     uint64
	Account     string
	Amount      math.Int
	Hash        string
	Text        string
	Flag        bool
	ProblemType uint8
	TimeTier    uint8
	Height      uint64
	LogIndex    uint
	TxHash      string
	BlockTime   time.Time
}

// SortEvents orders events by (height, log index), the order the ledger applied them.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Height != events[j].Height {
			return events[i].Height < events[j].Height
		}
		return events[i].LogIndex < events[j].LogIndex
	})
}

type Receipt struct {
	TxHash      string
	Success     bool
	BlockNumber uint64
}

// OrderRecord is the ledger's authoritative view of an order.
type OrderRecord struct {
	ID          uint64
	Issuer      string
	ProblemHash string
	ProblemType uint8
	TimeTier    uint8
	Status      uint8
	Reward      math.Int
	CreatedAt   time.Time
	Deadline    time.Time
	Solver      string
}

// Order converts the record into the mirror's entity.
func (r OrderRecord) Order() *models.Order {
	o := &models.Order{
		ID:          r.ID,
		Issuer:      r.Issuer,
		ProblemHash: r.ProblemHash,
		ProblemType: models.ProblemType(r.ProblemType),
		TimeTier:    models.TimeTier(r.TimeTier),
		Status:      models.OrderStatus(r.Status),
		Reward:      r.Reward,
		CreatedAt:   r.CreatedAt,
		Deadline:    r.Deadline,
	}
	if o.Reward.IsNil() {
		o.Reward = math.ZeroInt()
	}
	if r.Solver != "" {
		solver := r.Solver
		o.Solver = &solver
	}
	return o
}

type VerificationRequest struct {
	OrderID     uint64
	Solution    string
	ProblemType uint8
	RequestTime time.Time
	IsProcessed bool
	IsCorrect   bool
	Reason      string
}

type ChallengeRecord struct {
	OrderID       uint64
	Challenger    string
	Stake         math.Int
	Reason        string
	ChallengeTime time.Time
	Resolved      bool
	ChallengerWon bool
}

// EventSource is the height-ordered, at-least-once event stream of the ledger.
type EventSource interface {
	CurrentHeight(ctx context.Context) (uint64, error)
	EventsInRange(ctx context.Context, kind EventKind, from, to uint64) ([]Event, error)
}

// Client submits state-changing calls and evaluates view functions.
// A nil error with Success=false means the transaction was mined and reverted
// or its status is unknown; callers treat it as ambiguous.
type Client interface {
	Identity() string
	Call(ctx context.Context, method string, args ...interface{}) (*Receipt, error)
	Read(ctx context.Context, method string, args ...interface{}) ([]interface{}, error)
}

// Ledger is the typed contract surface used by the solver agent and the oracle.
type Ledger interface {
	Identity() string

	GetOrder(ctx context.Context, id uint64) (*OrderRecord, error)
	OpenOrders(ctx context.Context, offset, limit uint64) ([]OrderRecord, error)
	OrderBot(ctx context.Context, id uint64) (string, error)
	PendingVerifications(ctx context.Context) ([]uint64, error)
	VerificationRequest(ctx context.Context, id uint64) (*VerificationRequest, error)
	PendingChallenges(ctx context.Context) ([]uint64, error)
	Challenge(ctx context.Context, id uint64) (*ChallengeRecord, error)

	AcceptOrder(ctx context.Context, id uint64) (*Receipt, error)
	CommitSolution(ctx context.Context, id uint64, commitHash [32]byte) (*Receipt, error)
	RevealSolution(ctx context.Context, id uint64, solution string, salt [32]byte) (*Receipt, error)
	SubmitVerification(ctx context.Context, id uint64, isCorrect bool, reason string) (*Receipt, error)
	ResolveChallenge(ctx context.Context, id uint64, challengerWon bool) (*Receipt, error)
}
