package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"OminisNode/internal/logger"
	"OminisNode/internal/models"
	"OminisNode/internal/verify"
)

var typeNames = map[models.ProblemType]string{
	models.ProblemDerivative:     "derivative",
	models.ProblemIntegral:       "integral",
	models.ProblemLimit:          "limit",
	models.ProblemDifferentialEq: "differential equation",
	models.ProblemSeries:         "series/summation",
}

func typeName(pt models.ProblemType) string {
	if n, ok := typeNames[pt]; ok {
		return n
	}
	return "calculus"
}

const (
	verifySystem = "You are an expert calculus mathematician. Be precise and accurate."
	solveSystem  = "You are a calculus solver that shows clear step-by-step work. Always use the exact format requested with STEPS: and ANSWER: markers."
)

// Model serves as the heuristic verifier, the challenge evaluator and the
// solve capability on top of a chat client.
type Model struct {
	Client      Client
	Guard       *Guard
	Temperature float32
	MaxTokens   int
	Log         *logger.Logger
}

func NewModel(c Client, g *Guard, log *logger.Logger) *Model {
	return &Model{Client: c, Guard: g, Temperature: 0.1, MaxTokens: 500, Log: log}
}

var (
	_ verify.Verifier           = (*Model)(nil)
	_ verify.ChallengeEvaluator = (*Model)(nil)
)

func (m *Model) chat(ctx context.Context, system, prompt string, jsonMode bool) (string, error) {
	if !m.Guard.Allow() {
		return "", models.ErrVerifierUnavailable.Wrapf("llm disabled until %s", m.Guard.DisabledUntil().Format("15:04:05"))
	}
	req := ChatRequest{
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Temperature: m.Temperature,
		MaxTokens:   m.MaxTokens,
	}
	if jsonMode {
		req.ResponseFormat = map[string]string{"type": "json_object"}
	}
	resp, err := m.Client.Chat(ctx, req)
	if err != nil {
		m.Guard.RecordFailure()
		return "", err
	}
	m.Guard.RecordSuccess()
	return resp.Content, nil
}

type judgmentReply struct {
	IsCorrect        *bool    `json:"is_correct"`
	Confidence       *float64 `json:"confidence"`
	ExpectedSolution string   `json:"expected_solution"`
	Reason           string   `json:"reason"`
}

// Verify asks the model to solve the problem itself and compare. A reply that
// is not the requested JSON is an error, which the engine scores as zero
// confidence.
func (m *Model) Verify(ctx context.Context, problem, solution string, pt models.ProblemType) (verify.Judgment, error) {
	prompt := fmt.Sprintf(`Verify if the given solution to a %s problem is correct.

Problem: %s
Submitted Solution: %s

Analyze the problem, solve it yourself, and compare with the submitted solution.

Respond in JSON format:
{
    "is_correct": true/false,
    "confidence": 0.0-1.0,
    "expected_solution": "your computed solution",
    "reason": "brief explanation"
}

Be precise. Consider equivalent forms (e.g., x^2/2 = 0.5x^2). For integrals, allow for constant differences.`,
		typeName(pt), problem, solution)

	content, err := m.chat(ctx, verifySystem, prompt, true)
	if err != nil {
		return verify.Judgment{}, err
	}
	var r judgmentReply
	if err := decodeJSON(content, &r); err != nil {
		return verify.Judgment{}, err
	}
	if r.IsCorrect == nil || r.Confidence == nil {
		return verify.Judgment{}, fmt.Errorf("llm reply missing is_correct or confidence")
	}
	return verify.Judgment{
		IsCorrect:        *r.IsCorrect,
		Confidence:       verify.Clamp(*r.Confidence),
		ExpectedSolution: r.ExpectedSolution,
		Reason:           r.Reason,
	}, nil
}

type challengeReply struct {
	ChallengerIsCorrect *bool  `json:"challenger_is_correct"`
	Assessment          string `json:"assessment"`
}

func (m *Model) EvaluateChallenge(ctx context.Context, problem, solution, reason string, pt models.ProblemType) (verify.ChallengeEvaluation, error) {
	prompt := fmt.Sprintf(`You are evaluating a dispute.

Problem (%s): %s
Submitted Solution: %s
Challenger's Claim: %s

Evaluate:
1. Is the challenger's mathematical reasoning valid?
2. Is the submitted solution actually incorrect?

Respond in JSON format:
{
    "challenger_is_correct": true/false,
    "assessment": "brief explanation of your analysis"
}`,
		typeName(pt), problem, solution, reason)

	content, err := m.chat(ctx, verifySystem, prompt, true)
	if err != nil {
		return verify.ChallengeEvaluation{}, err
	}
	var r challengeReply
	if err := decodeJSON(content, &r); err != nil {
		return verify.ChallengeEvaluation{}, err
	}
	if r.ChallengerIsCorrect == nil {
		return verify.ChallengeEvaluation{}, fmt.Errorf("llm reply missing challenger_is_correct")
	}
	return verify.ChallengeEvaluation{IsValid: *r.ChallengerIsCorrect, Assessment: r.Assessment}, nil
}

// decodeJSON tolerates a markdown code fence around the object.
func decodeJSON(content string, out any) error {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return fmt.Errorf("parse llm reply: %w", err)
	}
	return nil
}
