// Package verify merges the judgments of fallible verifiers into one verdict
// for solution checks and for challenge disputes.
package verify

import (
	"context"
	"math"

	"OminisNode/internal/models"
)

// Judgment is one verifier's opinion of a solution.
type Judgment struct {
	IsCorrect        bool    `json:"is_correct"`
	Confidence       float64 `json:"confidence"`
	ExpectedSolution string  `json:"expected_solution,omitempty"`
	Reason           string  `json:"reason,omitempty"`
}

// Usable reports whether the judgment carries any confidence at all.
func (j Judgment) Usable() bool {
	return j.Confidence > 0
}

// ChallengeEvaluation is a verifier's opinion of the challenger's argument.
type ChallengeEvaluation struct {
	IsValid    bool   `json:"is_valid"`
	Assessment string `json:"assessment"`
}

// Verifier judges a solution. A returned error is treated as a judgment with
// zero confidence, never as an abort.
type Verifier interface {
	Verify(ctx context.Context, problem, solution string, pt models.ProblemType) (Judgment, error)
}

type ChallengeEvaluator interface {
	EvaluateChallenge(ctx context.Context, problem, solution, reason string, pt models.ProblemType) (ChallengeEvaluation, error)
}

// Method records which path of the merge produced a verdict.
type Method int

const (
	MethodInconclusive Method = iota
	MethodAnalytic
	MethodHeuristic
	MethodCombined
	MethodAnalyticDisputed
	MethodHeuristicDisputed
)

var methodNames = [...]string{
	MethodInconclusive:      "inconclusive",
	MethodAnalytic:          "analytic",
	MethodHeuristic:         "heuristic",
	MethodCombined:          "analytic+heuristic",
	MethodAnalyticDisputed:  "analytic (disputed)",
	MethodHeuristicDisputed: "heuristic (disputed)",
}

func (m Method) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return "unknown"
	}
	return methodNames[m]
}

func (m Method) Disputed() bool {
	return m == MethodAnalyticDisputed || m == MethodHeuristicDisputed
}

func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

type Verdict struct {
	Judgment
	Method Method `json:"method"`
}

// Clamp bounds a confidence to [0, 1]. NaN becomes 0.
func Clamp(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

func clamped(j Judgment) Judgment {
	j.Confidence = Clamp(j.Confidence)
	return j
}

// judge runs v and folds a failure into a zero-confidence judgment.
func judge(ctx context.Context, v Verifier, problem, solution string, pt models.ProblemType) (Judgment, error) {
	if v == nil {
		return Judgment{Reason: "verifier not configured"}, nil
	}
	j, err := v.Verify(ctx, problem, solution, pt)
	if err != nil {
		return Judgment{Reason: err.Error()}, err
	}
	return clamped(j), nil
}

func verdictOf(j Judgment) string {
	if j.IsCorrect {
		return "correct"
	}
	return "incorrect"
}
