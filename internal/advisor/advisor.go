// Package advisor integrates an optional hosted text-generation service
// that proposes a recommendation for a trade under assessment. The advisor
// is consultative only: its output is untrusted free text, parsed
// defensively, and the pipeline can always decide without it.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mbd888/tradegate/internal/circuitbreaker"
)

var (
	ErrAdvisorUnavailable = errors.New("advisor: service unavailable")
	ErrAdvisorStatus      = errors.New("advisor: unexpected response status")
)

// Recommendation is the advisor's proposed disposition for a trade.
type Recommendation string

const (
	RecommendApprove      Recommendation = "APPROVE"
	RecommendReject       Recommendation = "REJECT"
	RecommendManualReview Recommendation = "MANUAL_REVIEW"
)

// Reasoner produces free-text advice for a structured prompt. Implemented
// by the HTTP client below; stubbed in tests.
type Reasoner interface {
	Advise(ctx context.Context, prompt string) (string, error)
}

const breakerKey = "advisor"

// HTTPReasoner calls a hosted text-generation endpoint. Failures trip a
// circuit breaker so a degraded advisor cannot slow every assessment down
// to its timeout.
type HTTPReasoner struct {
	url     string
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

// NewHTTPReasoner creates a reasoner client for the given endpoint.
func NewHTTPReasoner(url string, timeout time.Duration) *HTTPReasoner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPReasoner{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New(3, 30*time.Second),
	}
}

type adviseRequest struct {
	Prompt string `json:"prompt"`
}

type adviseResponse struct {
	Response string `json:"response"`
}

// Advise sends the prompt and returns the raw completion text.
func (r *HTTPReasoner) Advise(ctx context.Context, prompt string) (string, error) {
	if !r.breaker.Allow(breakerKey) {
		return "", fmt.Errorf("%w: circuit open", ErrAdvisorUnavailable)
	}

	data, err := json.Marshal(adviseRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("advisor: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("advisor: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.breaker.RecordFailure(breakerKey)
		return "", fmt.Errorf("%w: %v", ErrAdvisorUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		r.breaker.RecordFailure(breakerKey)
		return "", fmt.Errorf("advisor: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		r.breaker.RecordFailure(breakerKey)
		return "", fmt.Errorf("%w: %d", ErrAdvisorStatus, resp.StatusCode)
	}

	r.breaker.RecordSuccess(breakerKey)

	// Accept either a {"response": "..."} envelope or a bare text body.
	var envelope adviseResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Response != "" {
		return envelope.Response, nil
	}
	return string(body), nil
}
