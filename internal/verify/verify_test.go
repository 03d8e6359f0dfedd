package verify

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"testing"

	"OminisNode/internal/logger"
	"OminisNode/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type stubVerifier struct {
	j     Judgment
	err   error
	calls atomic.Int32
}

func (s *stubVerifier) Verify(context.Context, string, string, models.ProblemType) (Judgment, error) {
	s.calls.Add(1)
	return s.j, s.err
}

type stubEvaluator struct {
	ev  ChallengeEvaluation
	err error
}

func (s stubEvaluator) EvaluateChallenge(context.Context, string, string, string, models.ProblemType) (ChallengeEvaluation, error) {
	return s.ev, s.err
}

func judgment(correct bool, conf float64) *stubVerifier {
	return &stubVerifier{j: Judgment{IsCorrect: correct, Confidence: conf, Reason: "r"}}
}

func failing() *stubVerifier {
	return &stubVerifier{err: errors.New("service unavailable")}
}

func engine(a, h Verifier) *Engine {
	return &Engine{Analytic: a, Heuristic: h, Log: logger.Nop()}
}

func TestVerifyAnalyticDecisive(t *testing.T) {
	h := judgment(true, 0.3)
	v := engine(judgment(true, 0.95), h).Verify(context.Background(), "d/dx x^2", "2x", models.ProblemDerivative)

	assert.True(t, v.IsCorrect)
	assert.InDelta(t, 0.95, v.Confidence, 1e-9)
	assert.Equal(t, MethodAnalytic, v.Method)
	assert.Equal(t, "analytic", v.Method.String())
	assert.Zero(t, h.calls.Load(), "heuristic skipped when analytic is decisive")
}

func TestVerifyAgreementCombines(t *testing.T) {
	v := engine(judgment(false, 0.6), judgment(false, 0.7)).Verify(context.Background(), "p", "s", models.ProblemIntegral)

	assert.False(t, v.IsCorrect)
	assert.InDelta(t, 1.3/1.5, v.Confidence, 1e-9)
	assert.Equal(t, "analytic+heuristic", v.Method.String())

	v = engine(judgment(true, 0.85), judgment(true, 0.9)).Verify(context.Background(), "p", "s", models.ProblemIntegral)
	assert.Equal(t, 1.0, v.Confidence, "combined confidence is capped")
}

func TestVerifyDisagreement(t *testing.T) {
	v := engine(judgment(true, 0.8), judgment(false, 0.5)).Verify(context.Background(), "p", "s", models.ProblemLimit)
	assert.True(t, v.IsCorrect)
	assert.InDelta(t, 0.64, v.Confidence, 1e-9)
	assert.Equal(t, "analytic (disputed)", v.Method.String())
	assert.True(t, v.Method.Disputed())

	v = engine(judgment(true, 0.4), judgment(false, 0.7)).Verify(context.Background(), "p", "s", models.ProblemLimit)
	assert.False(t, v.IsCorrect)
	assert.InDelta(t, 0.56, v.Confidence, 1e-9)
	assert.Equal(t, MethodHeuristicDisputed, v.Method)

	// ties go to the heuristic
	v = engine(judgment(true, 0.6), judgment(false, 0.6)).Verify(context.Background(), "p", "s", models.ProblemLimit)
	assert.Equal(t, MethodHeuristicDisputed, v.Method)
	assert.False(t, v.IsCorrect)
}

func TestVerifySingleUsable(t *testing.T) {
	v := engine(failing(), judgment(false, 0.7)).Verify(context.Background(), "p", "s", models.ProblemSeries)
	assert.Equal(t, MethodHeuristic, v.Method)
	assert.False(t, v.IsCorrect)
	assert.InDelta(t, 0.7, v.Confidence, 1e-9)

	v = engine(judgment(false, 0.5), failing()).Verify(context.Background(), "p", "s", models.ProblemSeries)
	assert.Equal(t, MethodAnalytic, v.Method)
	assert.False(t, v.IsCorrect)
}

func TestVerifyInconclusivePolicy(t *testing.T) {
	e := engine(failing(), nil)
	v := e.Verify(context.Background(), "p", "s", models.ProblemSeries)
	assert.Equal(t, MethodInconclusive, v.Method)
	assert.True(t, v.IsCorrect)
	assert.Zero(t, v.Confidence)

	e.Inconclusive = AssumeIncorrect
	v = e.Verify(context.Background(), "p", "s", models.ProblemSeries)
	assert.False(t, v.IsCorrect)
}

func TestVerifyClampsVerifierOutput(t *testing.T) {
	v := engine(judgment(true, 7), nil).Verify(context.Background(), "p", "s", models.ProblemDerivative)
	assert.Equal(t, 1.0, v.Confidence)
	assert.Equal(t, MethodAnalytic, v.Method)

	v = engine(judgment(true, -2), judgment(false, math.NaN())).Verify(context.Background(), "p", "s", models.ProblemDerivative)
	assert.Equal(t, MethodInconclusive, v.Method)
}

func challengeEngine(a, h Verifier, valid bool) *ChallengeEngine {
	return &ChallengeEngine{
		Analytic:  a,
		Heuristic: h,
		Evaluator: stubEvaluator{ev: ChallengeEvaluation{IsValid: valid, Assessment: "looked at it"}},
		Log:       logger.Nop(),
	}
}

func (e *ChallengeEngine) mustResolve(t require.TestingT, reason string) Resolution {
	r, err := e.Resolve(context.Background(), "p", "s", reason, models.ProblemDerivative)
	require.NoError(t, err)
	return r
}

func TestChallengeBothConfidentCorrect(t *testing.T) {
	r := challengeEngine(judgment(true, 0.95), judgment(true, 0.9), false).mustResolve(t, "wrong sign")
	assert.False(t, r.ChallengerWins)
	assert.InDelta(t, 0.95, r.Confidence, 1e-9)
	assert.Contains(t, r.Analysis, "analytic says: correct (confidence: 0.95)")
	assert.Contains(t, r.Analysis, "heuristic says: correct (confidence: 0.90)")
	assert.Contains(t, r.Analysis, "challenger's argument: looked at it")
}

func TestChallengeBothConfidentIncorrect(t *testing.T) {
	r := challengeEngine(judgment(false, 0.85), judgment(false, 0.85), false).mustResolve(t, "r")
	assert.True(t, r.ChallengerWins)
	assert.InDelta(t, 0.95, r.Confidence, 1e-9)
}

func TestChallengeSingleConfident(t *testing.T) {
	r := challengeEngine(judgment(false, 0.95), judgment(true, 0.85), false).mustResolve(t, "r")
	assert.True(t, r.ChallengerWins)
	assert.InDelta(t, 0.855, r.Confidence, 1e-9)

	r = challengeEngine(judgment(true, 0.2), judgment(false, 0.92), false).mustResolve(t, "r")
	assert.True(t, r.ChallengerWins)
	assert.InDelta(t, 0.92*0.85, r.Confidence, 1e-9)
	assert.NotContains(t, r.Analysis, "analytic says")
}

func TestChallengeInconclusiveValidArgument(t *testing.T) {
	r := challengeEngine(failing(), failing(), true).mustResolve(t, "r")
	assert.True(t, r.ChallengerWins)
	assert.InDelta(t, 0.70, r.Confidence, 1e-9)
	assert.True(t, strings.HasSuffix(r.Analysis, "challenger's argument appears valid"))
}

func TestChallengeInconclusiveBenefitOfDoubt(t *testing.T) {
	e := challengeEngine(failing(), failing(), false)
	r := e.mustResolve(t, "r")
	assert.False(t, r.ChallengerWins)
	assert.InDelta(t, 0.60, r.Confidence, 1e-9)

	e.Doubt = FavorChallenger
	r = e.mustResolve(t, "r")
	assert.True(t, r.ChallengerWins)
	assert.InDelta(t, 0.60, r.Confidence, 1e-9)
}

func TestChallengeEvaluatorFailureIsInvalid(t *testing.T) {
	e := challengeEngine(failing(), failing(), true)
	e.Evaluator = stubEvaluator{err: errors.New("timeout")}
	r := e.mustResolve(t, "r")
	assert.False(t, r.ChallengerWins)
	assert.Contains(t, r.Analysis, "could not evaluate: timeout")
}

func TestChallengeCorrectSolutionPrefersAnalytic(t *testing.T) {
	a := &stubVerifier{j: Judgment{Confidence: 0.95, ExpectedSolution: "2x"}}
	h := &stubVerifier{j: Judgment{Confidence: 0.95, ExpectedSolution: "2*x"}}
	r := challengeEngine(a, h, false).mustResolve(t, "r")
	assert.Equal(t, "2x", r.CorrectSolution)
	assert.True(t, r.ChallengerWins)
}

type blockingVerifier struct{}

func (blockingVerifier) Verify(ctx context.Context, _, _ string, _ models.ProblemType) (Judgment, error) {
	<-ctx.Done()
	return Judgment{}, ctx.Err()
}

func TestChallengeCancelledReturnsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := challengeEngine(judgment(true, 0.95), blockingVerifier{}, true)

	done := make(chan error, 1)
	go func() {
		_, err := e.Resolve(ctx, "p", "s", "r", models.ProblemDerivative)
		done <- err
	}()
	cancel()
	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParsePolicies(t *testing.T) {
	p, err := ParseInconclusivePolicy("assume_incorrect")
	require.NoError(t, err)
	assert.Equal(t, AssumeIncorrect, p)
	_, err = ParseInconclusivePolicy("maybe")
	assert.Error(t, err)

	d, err := ParseBenefitOfDoubt("")
	require.NoError(t, err)
	assert.Equal(t, FavorSolver, d)
	_, err = ParseBenefitOfDoubt("issuer")
	assert.Error(t, err)
}

func TestConfidenceAlwaysInRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		conf := rapid.SampledFrom([]float64{math.NaN(), math.Inf(1), math.Inf(-1), -1, 0, 2}).Draw(t, "edge")
		ca := rapid.OneOf(rapid.Float64Range(-5, 5), rapid.Just(conf)).Draw(t, "a")
		ch := rapid.OneOf(rapid.Float64Range(-5, 5), rapid.Just(conf)).Draw(t, "h")
		okA := rapid.Bool().Draw(t, "okA")
		okH := rapid.Bool().Draw(t, "okH")
		valid := rapid.Bool().Draw(t, "valid")

		a := &stubVerifier{j: Judgment{IsCorrect: okA, Confidence: ca}}
		h := &stubVerifier{j: Judgment{IsCorrect: okH, Confidence: ch}}

		v := engine(a, h).Verify(context.Background(), "p", "s", models.ProblemDerivative)
		if v.Confidence < 0 || v.Confidence > 1 || math.IsNaN(v.Confidence) {
			t.Fatalf("verdict confidence %v out of range", v.Confidence)
		}
		r := challengeEngine(a, h, valid).mustResolve(t, "r")
		if r.Confidence < 0 || r.Confidence > 1 || math.IsNaN(r.Confidence) {
			t.Fatalf("resolution confidence %v out of range", r.Confidence)
		}
	})
}
