// Package analytic is the client of the symbolic verification service.
package analytic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"OminisNode/internal/models"
	"OminisNode/internal/verify"
)

const verifyPath = "/api/verify/sympy"

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

var _ verify.Verifier = (*Client)(nil)

type request struct {
	OrderID     uint64 `json:"order_id"`
	Problem     string `json:"problem"`
	Solution    string `json:"solution"`
	ProblemType uint8  `json:"problem_type"`
}

type response struct {
	IsCorrect        bool    `json:"is_correct"`
	Confidence       float64 `json:"confidence"`
	Method           string  `json:"method"`
	ExpectedSolution *string `json:"expected_solution"`
	Reason           *string `json:"reason"`
}

// Verify posts the problem to the service. Any transport or decoding failure
// is returned as an error and scores as zero confidence upstream.
func (c *Client) Verify(ctx context.Context, problem, solution string, pt models.ProblemType) (verify.Judgment, error) {
	body, err := json.Marshal(request{Problem: problem, Solution: solution, ProblemType: uint8(pt)})
	if err != nil {
		return verify.Judgment{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+verifyPath, bytes.NewReader(body))
	if err != nil {
		return verify.Judgment{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return verify.Judgment{}, fmt.Errorf("analytic verifier: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return verify.Judgment{}, fmt.Errorf("analytic verifier: status %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return verify.Judgment{}, fmt.Errorf("analytic verifier: decode: %w", err)
	}
	j := verify.Judgment{IsCorrect: r.IsCorrect, Confidence: verify.Clamp(r.Confidence)}
	if r.ExpectedSolution != nil {
		j.ExpectedSolution = *r.ExpectedSolution
	}
	if r.Reason != nil {
		j.Reason = *r.Reason
	}
	return j, nil
}
