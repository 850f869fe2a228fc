package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleAssessTrade runs one trade through the pipeline.
func (h *Handlers) HandleAssessTrade(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cashParty := req.GetString("cash_party_id", "")
	if cashParty == "" {
		return mcp.NewToolResultError("cash_party_id is required"), nil
	}
	secParty := req.GetString("securities_party_id", "")
	if secParty == "" {
		return mcp.NewToolResultError("securities_party_id is required"), nil
	}

	trade := map[string]any{
		"cash_party_id":       cashParty,
		"securities_party_id": secParty,
		"required_cash":       req.GetFloat("required_cash", 0),
		"required_securities": req.GetFloat("required_securities", 0),
	}

	raw, err := h.client.AssessTrade(ctx, trade)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Assessment failed: %v", err)), nil
	}

	text, err := formatAssessment(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessment: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleAssessBatch runs several trades through the pipeline.
func (h *Handlers) HandleAssessBatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawTrades, ok := req.GetArguments()["trades"].([]any)
	if !ok || len(rawTrades) == 0 {
		return mcp.NewToolResultError("trades must be a non-empty array"), nil
	}

	trades := make([]map[string]any, 0, len(rawTrades))
	for i, t := range rawTrades {
		m, ok := t.(map[string]any)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("trades[%d] is not an object", i)), nil
		}
		trades = append(trades, m)
	}

	raw, err := h.client.AssessBatch(ctx, trades)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Batch assessment failed: %v", err)), nil
	}

	text, err := formatBatch(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse batch result: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetHealth returns the validator's health report.
func (h *Handlers) HandleGetHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetHealth(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get health: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// HandleGetMemory returns the learning store snapshot.
func (h *Handlers) HandleGetMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetMemory(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get memory: %v", err)), nil
	}

	text, err := formatMemory(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse memory: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetStats returns detection and streaming statistics.
func (h *Handlers) HandleGetStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetStats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get stats: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// HandleResetLearning clears the learning state.
func (h *Handlers) HandleResetLearning(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := h.client.ResetLearning(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Reset failed: %v", err)), nil
	}
	return mcp.NewToolResultText("Learning state cleared. Trade history dropped and risk threshold restored to its initial value."), nil
}

// --- Formatting helpers ---

func formatAssessment(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Decision: %s\n", strings.ToUpper(getString(m, "final_decision")))
	if v, ok := getFloat(m, "confidence_score"); ok {
		fmt.Fprintf(&sb, "Confidence: %.2f\n", v)
	}
	if v := getString(m, "risk_level"); v != "" {
		fmt.Fprintf(&sb, "Risk level: %s\n", v)
	}

	if ml, ok := m["ml_fraud_detection"].(map[string]any); ok {
		if enabled, _ := ml["enabled"].(bool); enabled {
			if p, ok := getFloat(ml, "fraud_probability"); ok {
				fmt.Fprintf(&sb, "Fraud probability: %.1f%%\n", p*100)
			}
			if flagged, _ := ml["fraud_detected"].(bool); flagged {
				sb.WriteString("ML fraud signal: FLAGGED\n")
			}
		}
	}
	if override, _ := m["ml_override"].(bool); override {
		sb.WriteString("ML override: the classifier reversed an approval\n")
	}

	if factors, ok := m["risk_factors"].([]any); ok && len(factors) > 0 {
		sb.WriteString("Risk factors:\n")
		for _, f := range factors {
			fmt.Fprintf(&sb, "  - %v\n", f)
		}
	}

	if chain := getString(m, "reasoning_chain"); chain != "" {
		fmt.Fprintf(&sb, "\nReasoning:\n%s\n", chain)
	}
	return sb.String(), nil
}

func formatBatch(raw json.RawMessage) (string, error) {
	var m struct {
		Results    []map[string]any `json:"results"`
		Statistics map[string]any   `json:"statistics"`
		Insights   map[string]any   `json:"agent_insights"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Assessed %d trade(s):\n\n", len(m.Results))
	for i, r := range m.Results {
		fmt.Fprintf(&sb, "%d. %s", i+1, strings.ToUpper(getString(r, "final_decision")))
		if v := getString(r, "risk_level"); v != "" {
			fmt.Fprintf(&sb, " (risk %s)", v)
		}
		sb.WriteString("\n")
	}

	if m.Statistics != nil {
		sb.WriteString("\nStatistics:\n")
		if v, ok := getFloat(m.Statistics, "approval_rate"); ok {
			fmt.Fprintf(&sb, "  Approval rate: %.0f%%\n", v*100)
		}
		if v, ok := getFloat(m.Statistics, "average_confidence"); ok {
			fmt.Fprintf(&sb, "  Average confidence: %.2f\n", v)
		}
		if v, ok := getFloat(m.Statistics, "high_risk_trades"); ok && v > 0 {
			fmt.Fprintf(&sb, "  High-risk trades: %.0f\n", v)
		}
	}

	if m.Insights != nil {
		if review, _ := m.Insights["human_review_required"].(bool); review {
			sb.WriteString("\nESCALATED: this batch requires human review.\n")
		}
	}
	return sb.String(), nil
}

func formatMemory(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Learning state:\n")
	if totals, ok := m["totals"].(map[string]any); ok {
		if v, ok := getFloat(totals, "trades_processed"); ok {
			fmt.Fprintf(&sb, "  Trades processed: %.0f\n", v)
		}
		if v, ok := getFloat(totals, "approved"); ok {
			fmt.Fprintf(&sb, "  Approved: %.0f\n", v)
		}
		if v, ok := getFloat(totals, "rejected"); ok {
			fmt.Fprintf(&sb, "  Rejected: %.0f\n", v)
		}
	}
	if v, ok := getFloat(m, "current_risk_threshold"); ok {
		fmt.Fprintf(&sb, "  Risk threshold: %.2f\n", v)
	}
	if recent, ok := m["recent_trades"].([]any); ok {
		fmt.Fprintf(&sb, "  Recent trades on record: %d\n", len(recent))
	}
	if adjustments, ok := m["recent_adjustments"].([]any); ok && len(adjustments) > 0 {
		fmt.Fprintf(&sb, "  Recent threshold adjustments: %d\n", len(adjustments))
	}
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
