package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Sriram-PR/alt-text-gen/pkg/models"
	"github.com/Sriram-PR/alt-text-gen/pkg/queue"
	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

// handleGenerateAltText handles the generate_alt_text tool
func (s *Server) handleGenerateAltText(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := int64(request.GetInt("asset_id", 0))
	if id <= 0 {
		return mcp.NewToolResultError("asset_id must be a positive integer"), nil
	}

	startTime := time.Now()
	out, err := s.cfg.Generator.GenerateAndReview(ctx, id, models.SourceAPI)
	if utils.IsDryRun(err) {
		result := map[string]interface{}{
			"asset_id": id,
			"dry_run":  true,
		}
		if ge, ok := utils.AsGenError(err); ok {
			result["prompt"] = ge.Prompt
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}
	if err != nil {
		s.log.WithField("asset_id", id).Warnf("generate_alt_text failed: %s", utils.RedactError(err))
		return toolError(err), nil
	}

	result := map[string]interface{}{
		"asset_id":   out.AssetID,
		"alt_text":   out.AltText,
		"retried":    out.Retried,
		"strategy":   out.Meta.Strategy,
		"model":      out.Meta.Model,
		"tokens":     out.Meta.Usage.TotalTokens,
		"elapsed_ms": time.Since(startTime).Milliseconds(),
	}
	if a := out.Assessment; a != nil {
		result["score"] = a.Score
		result["status"] = a.Status
		result["grade"] = a.Grade
		if a.Summary != "" {
			result["summary"] = a.Summary
		}
		if len(a.Issues) > 0 {
			result["issues"] = a.Issues
		}
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleStartQueue handles the start_queue tool
func (s *Server) handleStartQueue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scope := models.QueueScope(request.GetString("scope", ""))
	if !scope.IsValid() {
		return mcp.NewToolResultError(fmt.Sprintf("scope must be '%s' or '%s'", models.ScopeMissing, models.ScopeAll)), nil
	}
	batch := request.GetInt("batch_size", 0)

	state, err := s.cfg.Queue.Start(ctx, scope, batch)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(formatJSON(stateSummary(state))), nil
}

// handleCancelQueue handles the cancel_queue tool
func (s *Server) handleCancelQueue(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.cfg.Queue.Cancel(ctx); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{"status": string(models.QueueIdle), "message": "Queue cancelled"})), nil
}

// handleRunQueueTick handles the run_queue_tick tool
func (s *Server) handleRunQueueTick(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state, err := s.cfg.Queue.Tick(ctx)
	if errors.Is(err, queue.ErrTickInProgress) {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"status":  "busy",
			"message": "A tick is already running; try again shortly",
		})), nil
	}
	if err != nil {
		return toolError(err), nil
	}
	if state == nil {
		return s.handleQueueStatus(ctx, mcp.CallToolRequest{})
	}
	return mcp.NewToolResultText(formatJSON(stateSummary(state))), nil
}

// handleQueueStatus handles the queue_status tool
func (s *Server) handleQueueStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state, err := s.cfg.Queue.State(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(formatJSON(stateSummary(state))), nil
}

// handleUsageSummary handles the usage_summary tool
func (s *Server) handleUsageSummary(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	l := s.cfg.Usage.Snapshot(ctx)
	result := map[string]interface{}{
		"prompt_tokens":     l.PromptTokens,
		"completion_tokens": l.CompletionTokens,
		"total_tokens":      l.TotalTokens,
		"requests":          l.Requests,
		"alert_threshold":   l.AlertThreshold,
		"alert_sent":        l.AlertSent,
	}
	if !l.LastRequestAt.IsZero() {
		result["last_request_at"] = l.LastRequestAt.Format(time.RFC3339)
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleMediaStats handles the media_stats tool
func (s *Server) handleMediaStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.cfg.Stats.MediaStats(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"total":     st.Total,
		"with_alt":  st.WithAlt,
		"missing":   st.Missing,
		"generated": st.Generated,
		"coverage":  st.Coverage,
	})), nil
}

// stateSummary flattens a QueueState for tool output, with human-readable timings
func stateSummary(q *models.QueueState) map[string]interface{} {
	now := time.Now()
	result := map[string]interface{}{
		"status":    q.Status.String(),
		"active":    q.Active,
		"processed": q.Processed,
		"errors":    q.Errors,
		"total":     q.Total,
	}
	if q.RunID != "" {
		result["run_id"] = q.RunID
		result["scope"] = q.Scope
		result["batch_size"] = q.BatchSize
	}
	if q.Scope == models.ScopeAll {
		result["cursor"] = q.Cursor
	}
	if q.Active {
		result["next_run"] = queue.Until(q.NextRunAt, now)
	}
	if q.RetryCount > 0 {
		result["retry_count"] = q.RetryCount
	}
	if len(q.Messages) > 0 {
		result["messages"] = q.Messages
	}
	return result
}

// toolError returns a redacted tool error tagged with the error category
func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("[%s] %s", utils.CategorizeError(err), utils.RedactError(err)))
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
