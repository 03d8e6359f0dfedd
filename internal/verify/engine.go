package verify

import (
	"context"
	"fmt"

	"OminisNode/internal/logger"
	"OminisNode/internal/models"
)

// AnalyticThreshold is the analytic confidence that ends the merge early.
const AnalyticThreshold = 0.9

// InconclusivePolicy decides the verdict when no verifier is usable.
type InconclusivePolicy int

const (
	// AssumeCorrect settles in the solver's favour; the ledger's challenge
	// window remains the safeguard.
	AssumeCorrect InconclusivePolicy = iota
	AssumeIncorrect
)

func ParseInconclusivePolicy(v string) (InconclusivePolicy, error) {
	switch v {
	case "", "assume_correct":
		return AssumeCorrect, nil
	case "assume_incorrect":
		return AssumeIncorrect, nil
	}
	return AssumeCorrect, fmt.Errorf("unknown inconclusive policy %q", v)
}

// Engine merges an analytic and a heuristic judgment of a solution.
type Engine struct {
	Analytic     Verifier
	Heuristic    Verifier
	Inconclusive InconclusivePolicy
	Log          *logger.Logger
}

// Verify never fails: verifier errors only lower the confidence. The
// heuristic verifier is consulted only when the analytic one is not decisive.
func (e *Engine) Verify(ctx context.Context, problem, solution string, pt models.ProblemType) Verdict {
	a, err := judge(ctx, e.Analytic, problem, solution, pt)
	if err != nil {
		e.Log.Warn("analytic verifier failed", "err", err)
	}
	if a.Confidence >= AnalyticThreshold {
		return Verdict{Judgment: a, Method: MethodAnalytic}
	}

	h, err := judge(ctx, e.Heuristic, problem, solution, pt)
	if err != nil {
		e.Log.Warn("heuristic verifier failed", "err", err)
	}
	return e.merge(a, h)
}

func (e *Engine) merge(a, h Judgment) Verdict {
	switch {
	case a.Usable() && h.Usable() && a.IsCorrect == h.IsCorrect:
		expected := a.ExpectedSolution
		if expected == "" {
			expected = h.ExpectedSolution
		}
		return Verdict{
			Judgment: Judgment{
				IsCorrect:        a.IsCorrect,
				Confidence:       Clamp((a.Confidence + h.Confidence) / 1.5),
				ExpectedSolution: expected,
				Reason:           "both methods agree: " + h.Reason,
			},
			Method: MethodCombined,
		}
	case a.Usable() && h.Usable():
		// equal confidence goes to the heuristic side
		if a.Confidence > h.Confidence {
			a.Confidence = Clamp(a.Confidence * 0.8)
			a.Reason = "analytic result, heuristic disagrees"
			return Verdict{Judgment: a, Method: MethodAnalyticDisputed}
		}
		h.Confidence = Clamp(h.Confidence * 0.8)
		h.Reason = "heuristic result, analytic disagrees"
		return Verdict{Judgment: h, Method: MethodHeuristicDisputed}
	case h.Usable():
		return Verdict{Judgment: h, Method: MethodHeuristic}
	case a.Usable():
		return Verdict{Judgment: a, Method: MethodAnalytic}
	}
	return Verdict{
		Judgment: Judgment{
			IsCorrect: e.Inconclusive == AssumeCorrect,
			Reason:    "no verifier produced a usable judgment",
		},
		Method: MethodInconclusive,
	}
}
