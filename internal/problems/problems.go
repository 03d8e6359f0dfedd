// Package problems resolves problem text from its fingerprint via the
// problem registry published by issuers.
package problems

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"OminisNode/internal/models"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// NormalizeHash lowercases the hash and ensures a single 0x prefix.
func NormalizeHash(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return "0x" + strings.TrimPrefix(h, "0x")
}

type reply struct {
	Success bool `json:"success"`
	Problem struct {
		Text string `json:"text"`
	} `json:"problem"`
	Error string `json:"error"`
}

// Text returns the problem statement. An unknown hash is models.ErrNotFound.
func (c *Client) Text(ctx context.Context, hash string) (string, error) {
	hash = NormalizeHash(hash)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/problems/"+url.PathEscape(hash), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("problem registry: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", models.ErrNotFound.Wrapf("problem %s", hash)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("problem registry: status %s", resp.Status)
	}

	var r reply
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", fmt.Errorf("problem registry: decode: %w", err)
	}
	if !r.Success || r.Problem.Text == "" {
		return "", models.ErrNotFound.Wrapf("problem %s: %s", hash, r.Error)
	}
	return r.Problem.Text, nil
}
