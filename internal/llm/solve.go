package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"OminisNode/internal/models"
)

type Step struct {
	N       int    `json:"step"`
	Content string `json:"content"`
	Result  string `json:"result"`
}

type Solution struct {
	Answer string `json:"answer"`
	Steps  []Step `json:"steps"`
}

var (
	answerRe   = regexp.MustCompile(`(?i)ANSWER:\s*([\s\S]*)`)
	stepsRe    = regexp.MustCompile(`(?i)STEPS:\s*\n([\s\S]*?)(?:ANSWER:|$)`)
	stepLineRe = regexp.MustCompile(`(?m)^\d+\.\s*(.+)`)
)

// ParseSolution splits a STEPS/ANSWER reply. Without an ANSWER marker the
// last non-empty line is the answer. The answer runs to the end of the reply
// so multi-line and LaTeX answers survive.
func ParseSolution(content string) Solution {
	var out Solution
	if m := answerRe.FindStringSubmatch(content); m != nil {
		out.Answer = strings.TrimSpace(m[1])
	} else {
		var last string
		for _, l := range strings.Split(content, "\n") {
			if l = strings.TrimSpace(l); l != "" {
				last = l
			}
		}
		out.Answer = last
	}

	m := stepsRe.FindStringSubmatch(content)
	if m == nil {
		return out
	}
	for i, line := range stepLineRe.FindAllStringSubmatch(strings.TrimSpace(m[1]), -1) {
		step := Step{N: i + 1, Content: strings.TrimSpace(line[1])}
		if desc, result, ok := strings.Cut(line[1], "=>"); ok {
			step.Content = strings.TrimSpace(desc)
			step.Result = strings.TrimSpace(result)
		}
		out.Steps = append(out.Steps, step)
	}
	return out
}

// Solve asks the model for a worked solution. An empty answer is an error.
func (m *Model) Solve(ctx context.Context, pt models.ProblemType, problem string) (Solution, error) {
	prompt := fmt.Sprintf(`Solve this %s problem step by step:

%s

Format your response EXACTLY like this (use these exact markers):
STEPS:
1. [First step description] => [Result of this step]
2. [Second step description] => [Result of this step]
3. [Continue as needed] => [Result]

ANSWER: [final answer only, e.g., f'(x) = 2x + 3]`, typeName(pt), problem)

	content, err := m.chat(ctx, solveSystem, prompt, false)
	if err != nil {
		return Solution{}, err
	}
	sol := ParseSolution(strings.TrimSpace(content))
	if sol.Answer == "" {
		return Solution{}, fmt.Errorf("llm reply has no answer")
	}
	m.Log.Debug("solved", "type", pt.String(), "steps", len(sol.Steps))
	return sol, nil
}
