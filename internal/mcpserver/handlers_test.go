package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	client := NewClient(Config{APIURL: ts.URL})
	h := NewHandlers(client)
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// ============================================================
// Client tests
// ============================================================

func TestClient_AdminSecretHeader(t *testing.T) {
	var gotSecret string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get("X-Admin-Secret")
		_, _ = w.Write([]byte(`{"status":"reset"}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, AdminSecret: "hunter2"})
	_, err := client.ResetLearning(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hunter2", gotSecret)
}

func TestClient_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "forbidden",
			"message": "Invalid admin secret",
		})
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL})
	_, err := client.GetMemory(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "Invalid admin secret")
}

func TestClient_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL})
	_, err := client.GetStats(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_AssessTrade_RequestBody(t *testing.T) {
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/trades/assess", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		_, _ = w.Write([]byte(`{"approved":true,"final_decision":"approved"}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL})
	_, err := client.AssessTrade(context.Background(), map[string]any{
		"cash_party_id": "0xabc",
		"required_cash": 500.0,
	})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", gotBody["cash_party_id"])
	assert.Equal(t, 500.0, gotBody["required_cash"])
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleAssessTrade(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"approved":         false,
			"final_decision":   "rejected",
			"confidence_score": 0.6,
			"risk_level":       "CRITICAL",
			"ml_override":      true,
			"ml_fraud_detection": map[string]any{
				"enabled":           true,
				"fraud_detected":    true,
				"fraud_probability": 0.6,
			},
			"risk_factors":    []string{"ML fraud signal (probability 60.0%)"},
			"reasoning_chain": "Balance check: SUFFICIENT",
		})
	}))
	defer cleanup()

	result, err := h.HandleAssessTrade(context.Background(), makeRequest(map[string]any{
		"cash_party_id":       "0xabc",
		"securities_party_id": "0xdef",
		"required_cash":       500.0,
		"required_securities": 10.0,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Decision: REJECTED")
	assert.Contains(t, text, "Fraud probability: 60.0%")
	assert.Contains(t, text, "ML override")
	assert.Contains(t, text, "Balance check: SUFFICIENT")
}

func TestHandleAssessTrade_MissingParty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called for invalid arguments")
	}))
	defer cleanup()

	result, err := h.HandleAssessTrade(context.Background(), makeRequest(map[string]any{
		"securities_party_id": "0xdef",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "cash_party_id is required")
}

func TestHandleAssessTrade_APIError(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "assessment_error",
			"message": "trade amounts cannot both be zero",
		})
	}))
	defer cleanup()

	result, err := h.HandleAssessTrade(context.Background(), makeRequest(map[string]any{
		"cash_party_id":       "0xabc",
		"securities_party_id": "0xdef",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "cannot both be zero")
}

func TestHandleAssessBatch(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/trades/assess/batch", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"final_decision": "approved", "risk_level": "LOW"},
				{"final_decision": "rejected", "risk_level": "HIGH"},
			},
			"statistics": map[string]any{
				"approval_rate":      0.5,
				"average_confidence": 0.75,
				"high_risk_trades":   1,
			},
			"agent_insights": map[string]any{
				"human_review_required": true,
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleAssessBatch(context.Background(), makeRequest(map[string]any{
		"trades": []any{
			map[string]any{"cash_party_id": "0xabc"},
			map[string]any{"cash_party_id": "0xdef"},
		},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Assessed 2 trade(s)")
	assert.Contains(t, text, "1. APPROVED (risk LOW)")
	assert.Contains(t, text, "2. REJECTED (risk HIGH)")
	assert.Contains(t, text, "Approval rate: 50%")
	assert.Contains(t, text, "ESCALATED")
}

func TestHandleAssessBatch_EmptyTrades(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called for invalid arguments")
	}))
	defer cleanup()

	result, err := h.HandleAssessBatch(context.Background(), makeRequest(map[string]any{
		"trades": []any{},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleGetMemory(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/memory", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"totals": map[string]any{
				"trades_processed": 42,
				"approved":         30,
				"rejected":         12,
			},
			"current_risk_threshold": 1037.5,
			"recent_trades":          []any{map[string]any{}, map[string]any{}},
		})
	}))
	defer cleanup()

	result, err := h.HandleGetMemory(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Trades processed: 42")
	assert.Contains(t, text, "Risk threshold: 1037.50")
	assert.Contains(t, text, "Recent trades on record: 2")
}

func TestHandleGetHealth(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "healthy"})
	}))
	defer cleanup()

	result, err := h.HandleGetHealth(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "healthy")
}

func TestHandleResetLearning(t *testing.T) {
	var called bool
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, "/api/v1/memory/reset", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "reset"})
	}))
	defer cleanup()

	result, err := h.HandleResetLearning(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.True(t, called)
}
