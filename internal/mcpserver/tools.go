package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Tradegate MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolAssessTrade = mcp.NewTool("assess_trade",
	mcp.WithDescription(
		"Run a delivery-versus-payment securities trade through the validation pipeline. "+
			"Checks balances, compliance blacklists, notional limits, and the ML fraud "+
			"classifier, and returns the full verdict with its reasoning chain. "+
			"The decision is one of approved, rejected, or manual_review."),
	mcp.WithString("cash_party_id",
		mcp.Required(),
		mcp.Description("Address of the party paying cash (0x + 40 hex chars)")),
	mcp.WithString("securities_party_id",
		mcp.Required(),
		mcp.Description("Address of the party delivering securities (0x + 40 hex chars)")),
	mcp.WithNumber("required_cash",
		mcp.Description("Cash leg amount in human units")),
	mcp.WithNumber("required_securities",
		mcp.Description("Securities leg amount in human units")),
)

var ToolAssessBatch = mcp.NewTool("assess_batch",
	mcp.WithDescription(
		"Assess several trades in one call. Returns per-trade verdicts plus batch "+
			"statistics (approval rate, average confidence) and cross-trade insights, "+
			"including whether the batch was escalated for human review."),
	mcp.WithArray("trades",
		mcp.Required(),
		mcp.Description("Array of trade objects, each with cash_party_id, securities_party_id, required_cash, required_securities")),
)

var ToolGetHealth = mcp.NewTool("get_health",
	mcp.WithDescription(
		"Get the validator's health report: ledger connectivity, current block, "+
			"token metadata, the adaptive risk threshold, and whether ML fraud "+
			"detection and the advisory reasoner are enabled."),
)

var ToolGetMemory = mcp.NewTool("get_memory",
	mcp.WithDescription(
		"Inspect the validator's learning state: trades processed, approval totals, "+
			"the current adaptive risk threshold, recent trade records, and recent "+
			"threshold adjustments."),
)

var ToolGetStats = mcp.NewTool("get_detection_stats",
	mcp.WithDescription(
		"Get running fraud-detection counters (assessments scored, fraud flags by "+
			"risk level) and realtime streaming statistics."),
)

var ToolResetLearning = mcp.NewTool("reset_learning",
	mcp.WithDescription(
		"Clear the validator's learned state: trade history is dropped and the risk "+
			"threshold returns to its configured initial value. Destructive, operator "+
			"use only."),
)
