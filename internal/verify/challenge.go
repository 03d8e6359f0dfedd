package verify

import (
	"context"
	"fmt"
	"strings"

	"OminisNode/internal/logger"
	"OminisNode/internal/models"

	"golang.org/x/sync/errgroup"
)

// BenefitOfDoubt names the side that wins a dispute nobody can settle.
type BenefitOfDoubt int

const (
	FavorSolver BenefitOfDoubt = iota
	FavorChallenger
)

func ParseBenefitOfDoubt(v string) (BenefitOfDoubt, error) {
	switch v {
	case "", "solver":
		return FavorSolver, nil
	case "challenger":
		return FavorChallenger, nil
	}
	return FavorSolver, fmt.Errorf("unknown benefit of doubt %q", v)
}

// Resolution is the outcome of a dispute.
type Resolution struct {
	ChallengerWins  bool    `json:"challenger_wins"`
	Confidence      float64 `json:"confidence"`
	CorrectSolution string  `json:"correct_solution,omitempty"`
	Analysis        string  `json:"analysis"`
}

// ChallengeEngine resolves disputes. Both verifiers and the evaluator are
// always consulted, concurrently.
type ChallengeEngine struct {
	Analytic  Verifier
	Heuristic Verifier
	Evaluator ChallengeEvaluator
	Doubt     BenefitOfDoubt
	Log       *logger.Logger
}

// Resolve fails only when ctx ends before all three judgments are in, so a
// stop never turns into a benefit-of-doubt verdict. Verifier errors are
// folded into zero-confidence judgments instead.
func (e *ChallengeEngine) Resolve(ctx context.Context, problem, solution, reason string, pt models.ProblemType) (Resolution, error) {
	var (
		a, h Judgment
		ev   ChallengeEvaluation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if a, err = judge(gctx, e.Analytic, problem, solution, pt); err != nil {
			e.Log.Warn("analytic verifier failed", "err", err)
		}
		return gctx.Err()
	})
	g.Go(func() error {
		var err error
		if h, err = judge(gctx, e.Heuristic, problem, solution, pt); err != nil {
			e.Log.Warn("heuristic verifier failed", "err", err)
		}
		return gctx.Err()
	})
	g.Go(func() error {
		ev = e.evaluate(gctx, problem, solution, reason, pt)
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return Resolution{}, fmt.Errorf("challenge resolution interrupted: %w", err)
	}
	return e.decide(a, h, ev), nil
}

func (e *ChallengeEngine) evaluate(ctx context.Context, problem, solution, reason string, pt models.ProblemType) ChallengeEvaluation {
	if e.Evaluator == nil {
		return ChallengeEvaluation{Assessment: "evaluator not configured"}
	}
	ev, err := e.Evaluator.EvaluateChallenge(ctx, problem, solution, reason, pt)
	if err != nil {
		e.Log.Warn("challenge evaluator failed", "err", err)
		return ChallengeEvaluation{Assessment: "could not evaluate: " + err.Error()}
	}
	return ev
}

func (e *ChallengeEngine) decide(a, h Judgment, ev ChallengeEvaluation) Resolution {
	a, h = clamped(a), clamped(h)

	var parts []string
	if a.Confidence > 0.5 {
		parts = append(parts, fmt.Sprintf("analytic says: %s (confidence: %.2f)", verdictOf(a), a.Confidence))
	}
	if h.Confidence > 0.5 {
		parts = append(parts, fmt.Sprintf("heuristic says: %s (confidence: %.2f)", verdictOf(h), h.Confidence))
	}
	parts = append(parts, "challenger's argument: "+ev.Assessment)

	res := Resolution{CorrectSolution: a.ExpectedSolution}
	if res.CorrectSolution == "" {
		res.CorrectSolution = h.ExpectedSolution
	}

	switch {
	case a.Confidence > 0.8 && h.Confidence > 0.8 && !a.IsCorrect && !h.IsCorrect:
		res.ChallengerWins, res.Confidence = true, 0.95
	case a.Confidence > 0.8 && h.Confidence > 0.8 && a.IsCorrect && h.IsCorrect:
		res.ChallengerWins, res.Confidence = false, 0.95
	case a.Confidence > 0.9:
		res.ChallengerWins, res.Confidence = !a.IsCorrect, a.Confidence*0.9
	case h.Confidence > 0.9:
		res.ChallengerWins, res.Confidence = !h.IsCorrect, h.Confidence*0.85
	case ev.IsValid:
		res.ChallengerWins, res.Confidence = true, 0.7
		parts = append(parts, "challenger's argument appears valid")
	default:
		res.ChallengerWins, res.Confidence = e.Doubt == FavorChallenger, 0.6
		parts = append(parts, "insufficient evidence to settle the dispute")
	}
	res.Confidence = Clamp(res.Confidence)
	res.Analysis = strings.Join(parts, " | ")
	return res
}
