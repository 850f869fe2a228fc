package advisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPReasonerAdvise(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response": "{\"decision\": \"APPROVE\"}"}`))
	}))
	defer srv.Close()

	r := NewHTTPReasoner(srv.URL, 2*time.Second)
	text, err := r.Advise(context.Background(), "assess this trade")
	require.NoError(t, err)

	p := Parse(text)
	assert.Equal(t, OutcomeDecision, p.Outcome)
	assert.Equal(t, RecommendApprove, p.Recommendation)
}

func TestHTTPReasonerBareTextBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("I would APPROVE this trade."))
	}))
	defer srv.Close()

	r := NewHTTPReasoner(srv.URL, 2*time.Second)
	text, err := r.Advise(context.Background(), "assess this trade")
	require.NoError(t, err)
	assert.Contains(t, text, "APPROVE")
}

func TestHTTPReasonerStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r := NewHTTPReasoner(srv.URL, 2*time.Second)
	_, err := r.Advise(context.Background(), "assess this trade")
	assert.ErrorIs(t, err, ErrAdvisorStatus)
}

func TestHTTPReasonerCircuitOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewHTTPReasoner(srv.URL, 2*time.Second)
	for i := 0; i < 3; i++ {
		_, err := r.Advise(context.Background(), "prompt")
		require.Error(t, err)
	}

	// Breaker is open now; the request never reaches the server.
	_, err := r.Advise(context.Background(), "prompt")
	assert.ErrorIs(t, err, ErrAdvisorUnavailable)
}
