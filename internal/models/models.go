package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cosmossdk.io/math"
)

// OrderStatus mirrors the on-chain order status numbering.
type OrderStatus uint8

const (
	StatusOpen OrderStatus = iota
	StatusAccepted
	StatusCommitted
	StatusRevealed
	StatusVerified
	StatusChallenged
	StatusExpired
	StatusCancelled
	StatusRejected
)

var statusNames = [...]string{
	StatusOpen:       "OPEN",
	StatusAccepted:   "ACCEPTED",
	StatusCommitted:  "COMMITTED",
	StatusRevealed:   "REVEALED",
	StatusVerified:   "VERIFIED",
	StatusChallenged: "CHALLENGED",
	StatusExpired:    "EXPIRED",
	StatusCancelled:  "CANCELLED",
	StatusRejected:   "REJECTED",
}

func (s OrderStatus) Valid() bool {
	return int(s) < len(statusNames)
}

func (s OrderStatus) String() string {
	if !s.Valid() {
		return "UNKNOWN(" + strconv.Itoa(int(s)) + ")"
	}
	return statusNames[s]
}

// Terminal reports whether no further transition can leave s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusVerified, StatusRejected, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// ParseOrderStatus accepts either the name ("revealed") or the numeric code ("3").
func ParseOrderStatus(v string) (OrderStatus, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		s := OrderStatus(n)
		if n < 0 || !s.Valid() {
			return 0, fmt.Errorf("unknown order status %q", v)
		}
		return s, nil
	}
	for i, name := range statusNames {
		if strings.EqualFold(name, v) {
			return OrderStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown order status %q", v)
}

type ProblemType uint8

const (
	ProblemDerivative ProblemType = iota
	ProblemIntegral
	ProblemLimit
	ProblemDifferentialEq
	ProblemSeries
)

var problemTypeNames = [...]string{
	ProblemDerivative:     "DERIVATIVE",
	ProblemIntegral:       "INTEGRAL",
	ProblemLimit:          "LIMIT",
	ProblemDifferentialEq: "DIFFERENTIAL_EQ",
	ProblemSeries:         "SERIES",
}

func (p ProblemType) Valid() bool {
	return int(p) < len(problemTypeNames)
}

func (p ProblemType) String() string {
	if !p.Valid() {
		return "UNKNOWN(" + strconv.Itoa(int(p)) + ")"
	}
	return problemTypeNames[p]
}

func ParseProblemType(v string) (ProblemType, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		p := ProblemType(n)
		if n < 0 || !p.Valid() {
			return 0, fmt.Errorf("unknown problem type %q", v)
		}
		return p, nil
	}
	for i, name := range problemTypeNames {
		if strings.EqualFold(name, v) {
			return ProblemType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown problem type %q", v)
}

// TimeTier selects the response-time budget of an order.
type TimeTier uint8

const (
	Tier2Min TimeTier = iota
	Tier5Min
	Tier15Min
	Tier1Hour
)

var tierNames = [...]string{
	Tier2Min:  "2min",
	Tier5Min:  "5min",
	Tier15Min: "15min",
	Tier1Hour: "1hour",
}

func (t TimeTier) Valid() bool {
	return int(t) < len(tierNames)
}

func (t TimeTier) String() string {
	if !t.Valid() {
		return "UNKNOWN(" + strconv.Itoa(int(t)) + ")"
	}
	return tierNames[t]
}

type Order struct {
	ID          uint64
	Issuer      string
	ProblemHash string
	ProblemType ProblemType
	TimeTier    TimeTier
	Status      OrderStatus
	Reward      math.Int
	CreatedAt   time.Time
	Deadline    time.Time
	Solver      *string
	TxHash      string
	BlockNumber uint64
	UpdatedAt   time.Time
}

// TimeRemaining is the time left until the deadline, never negative.
func (o *Order) TimeRemaining(now time.Time) time.Duration {
	d := o.Deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

type Solution struct {
	OrderID    uint64
	Solver     string
	CommitHash string
	Text       *string
	CommitTime time.Time
	RevealTime *time.Time
	IsRevealed bool
	TxHash     string
}

type Challenge struct {
	OrderID       uint64
	Challenger    string
	Stake         math.Int
	Reason        string
	ChallengeTime time.Time
	Resolved      bool
	ChallengerWon bool
	TxHash        string
}

type Stats struct {
	TotalOrders     int64
	OpenOrders      int64
	CompletedOrders int64
	RejectedOrders  int64
	TotalChallenges int64
	SuccessRate     float64
}
