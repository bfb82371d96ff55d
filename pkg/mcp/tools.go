package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/reflow-sh/reflow/internal/plan"
	"github.com/reflow-sh/reflow/internal/script"
	"github.com/reflow-sh/reflow/internal/secrets"
	"github.com/reflow-sh/reflow/internal/store"
	"github.com/reflow-sh/reflow/internal/streaming"
	"github.com/reflow-sh/reflow/pkg/schema"
)

// handleRun executes a flow script through the full rewrite pipeline.
func (s *ReflowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError("source is required"), nil
	}
	payload := mcp.ParseStringMap(req, "payload", nil)
	flowID := req.GetString("flow_id", "")
	agentID := req.GetString("agent_id", "")

	if agentID != "" {
		s.captureSession(ctx, agentID)
	}

	fs, parseErr := script.NewFlowScript(source)
	if parseErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("parse failed: %v", parseErr)), nil
	}

	if vres := s.validator.ValidateScript(fs); !vres.Valid() {
		return marshalResult(map[string]any{"valid": false, "validation": vres})
	}

	userCreds := parseUserCredentials(req)

	report, injErr := s.injectCredentials(ctx, fs, userCreds)
	if injErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("credential injection failed: %v", injErr)), nil
	}
	if !report.OK() {
		return marshalResult(map[string]any{
			"success": false,
			"errors":  report.Errors,
		})
	}

	// Instrumentation happens inside the runner, guarded so a script is
	// never rewritten twice.
	run := s.beginRun(ctx, flowID, payload)
	if run != nil && agentID != "" {
		s.sessions.TrackRun(run.ID, agentID)
	}
	result := s.runner.Run(ctx, fs, payload)
	s.finishRun(ctx, run, result, report)

	response := map[string]any{
		"success": result.Success,
		"result":  result,
	}
	if run != nil {
		response["run_id"] = run.ID
	}
	return marshalResult(response)
}

// handleValidate runs the validation pipeline without executing.
func (s *ReflowServer) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError("source is required"), nil
	}

	result := s.validator.Validate(source)
	response := map[string]any{
		"valid":      result.Valid(),
		"validation": result,
	}

	if payload := mcp.ParseStringMap(req, "payload", nil); payload != nil && result.Valid() {
		fs, parseErr := script.NewFlowScript(source)
		if parseErr == nil {
			if perr := s.validator.ValidatePayload(fs, payload); perr != nil {
				response["valid"] = false
				response["payload_error"] = perr.Error()
			}
		}
	}

	return marshalResult(response)
}

// handlePlan builds the execution plan for a script.
func (s *ReflowServer) handlePlan(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError("source is required"), nil
	}

	fs, parseErr := script.NewFlowScript(source)
	if parseErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("parse failed: %v", parseErr)), nil
	}

	execPlan, planErr := plan.Build(fs)
	if planErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("plan build failed: %v", planErr)), nil
	}

	trigger, _ := fs.TriggerKind()
	return marshalResult(map[string]any{
		"trigger":    trigger,
		"plan":       execPlan,
		"operations": fs.Instances(),
	})
}

// handleScanCredentials lists required credential types per operation.
func (s *ReflowServer) handleScanCredentials(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError("source is required"), nil
	}

	fs, parseErr := script.NewFlowScript(source)
	if parseErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("parse failed: %v", parseErr)), nil
	}

	requirements := s.injector.FindRequiredCredentials(fs)
	return marshalResult(map[string]any{"requirements": requirements})
}

// handleListOperations returns the registered operation types.
func (s *ReflowServer) handleListOperations(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.registry == nil {
		return marshalResult(map[string]any{"operations": []any{}})
	}
	return marshalResult(map[string]any{"operations": s.registry.List()})
}

// handleQuery lists flows, runs, events, or audits based on filters.
func (s *ReflowServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("no store configured"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "flows":
		return s.queryFlows(ctx, filter)
	case "runs":
		return s.queryRuns(ctx, filter)
	case "events":
		return s.queryEvents(ctx, filter)
	case "audits":
		return s.queryAudits(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *ReflowServer) queryFlows(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ff := store.FlowFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if tag, ok := filter["trigger_tag"].(string); ok {
		ff.TriggerTag = tag
	}
	if enabled, ok := filter["enabled"].(bool); ok {
		ff.Enabled = &enabled
	}

	flows, err := s.store.ListFlows(ctx, ff)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"flows": flows})
}

func (s *ReflowServer) queryRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	rf := store.RunFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if flowID, ok := filter["flow_id"].(string); ok {
		rf.FlowID = flowID
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		rs := schema.RunStatus(status)
		rf.Status = &rs
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			rf.Since = &t
		}
	}

	runs, err := s.store.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

func (s *ReflowServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.EventFilter{
		Limit: extractInt(filter, "limit", 100),
	}
	if runID, ok := filter["run_id"].(string); ok {
		ef.RunID = runID
	}
	if eventType, ok := filter["event_type"].(string); ok {
		ef.EventType = eventType
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			ef.Since = &t
		}
	}

	if ef.EventType != "" {
		events, err := s.store.GetEventsByType(ctx, ef.EventType, ef)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"events": events})
	}

	// No event type filter: use the sequential log, which needs a run.
	if ef.RunID == "" {
		return mcp.NewToolResultError("event query requires either 'event_type' or 'run_id' in filter"), nil
	}
	events, err := s.store.GetEvents(ctx, ef.RunID, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

func (s *ReflowServer) queryAudits(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	af := store.AuditFilter{
		Limit: extractInt(filter, "limit", 100),
	}
	if flowID, ok := filter["flow_id"].(string); ok {
		af.FlowID = flowID
	}
	if runID, ok := filter["run_id"].(string); ok {
		af.RunID = runID
	}
	if credType, ok := filter["credential_type"].(string); ok {
		af.CredentialType = credType
	}

	audits, err := s.store.ListInjectionAudits(ctx, af)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"audits": audits})
}

// --- Run pipeline helpers ---

// RunFlow executes a stored flow by ID with system credentials only. It is
// the entry point scheduled runs arrive through: the scheduler resolves a due
// job to its flow ID and calls here, so cron-triggered flows share the exact
// run bookkeeping the reflow.run tool uses.
func (s *ReflowServer) RunFlow(ctx context.Context, flowID string, payload map[string]any) error {
	if s.store == nil {
		return schema.NewError(schema.ErrCodeStore, "no store configured")
	}
	flow, err := s.store.GetFlow(ctx, flowID)
	if err != nil {
		return err
	}
	if !flow.Enabled {
		return schema.NewErrorf(schema.ErrCodeValidation, "flow %s is disabled", flowID)
	}

	fs, err := script.NewFlowScript(flow.Source)
	if err != nil {
		return err
	}
	if vres := s.validator.ValidateScript(fs); !vres.Valid() {
		return schema.NewErrorf(schema.ErrCodeValidation, "flow %s failed validation", flowID)
	}

	report, err := s.injectCredentials(ctx, fs, nil)
	if err != nil {
		return err
	}
	if !report.OK() {
		return schema.NewErrorf(schema.ErrCodeCredential,
			"flow %s: %s", flowID, strings.Join(report.Errors, "; "))
	}

	run := s.beginRun(ctx, flowID, payload)
	result := s.runner.Run(ctx, fs, payload)
	s.finishRun(ctx, run, result, report)

	if !result.Success {
		if result.Error != nil {
			return result.Error
		}
		return schema.NewErrorf(schema.ErrCodeExecution, "flow %s failed", flowID)
	}
	return nil
}

// injectCredentials scans the script and rewrites call sites with resolved
// secrets. System credentials come from the vault; user credentials override
// per operation instance.
func (s *ReflowServer) injectCredentials(ctx context.Context, fs *script.FlowScript, userCreds []schema.UserCredential) (*schema.InjectionReport, error) {
	requirements := s.injector.FindRequiredCredentials(fs)
	if len(requirements) == 0 {
		return &schema.InjectionReport{}, nil
	}

	systemCreds, err := secrets.SystemCredentials(ctx, s.vault)
	if err != nil {
		return nil, err
	}
	return s.injector.InjectCredentials(fs, requirements, userCreds, systemCreds)
}

// beginRun records a pending run row when a store and flow ID are available.
// Returns nil when the run is not persisted.
func (s *ReflowServer) beginRun(ctx context.Context, flowID string, payload map[string]any) *store.Run {
	if s.store == nil || flowID == "" {
		return nil
	}
	now := time.Now().UTC()
	run := &store.Run{
		ID:        uuid.NewString(),
		FlowID:    flowID,
		Status:    schema.RunStatusRunning,
		Payload:   payload,
		StartedAt: &now,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		s.logger.Warn("run not persisted", "flow_id", flowID, "error", err.Error())
		return nil
	}
	if s.hub != nil {
		_ = s.hub.Publish(ctx, streaming.RunEvent{
			FlowID:    flowID,
			RunID:     run.ID,
			EventType: schema.EventRunStarted,
		})
	}
	return run
}

// finishRun persists the outcome, trace events, and injection audit records.
func (s *ReflowServer) finishRun(ctx context.Context, run *store.Run, result *schema.ExecutionResult, report *schema.InjectionReport) {
	if run == nil {
		return
	}

	status := schema.RunStatusCompleted
	eventType := schema.EventRunCompleted
	if !result.Success {
		status = schema.RunStatusFailed
		eventType = schema.EventRunFailed
	}

	update := store.RunUpdate{Status: &status}
	if result.Summary != nil {
		total := result.Summary.TotalMs
		update.TotalMs = &total
		update.CompletedAt = &result.Summary.CompletedAt
	}
	if result.Success {
		if raw, err := json.Marshal(result.Data); err == nil {
			update.Result = raw
		}
	} else if result.Error != nil {
		if raw, err := json.Marshal(result.Error); err == nil {
			update.Error = raw
		}
	}
	if err := s.store.UpdateRun(ctx, run.ID, update); err != nil {
		s.logger.Warn("run outcome not persisted", "run_id", run.ID, "error", err.Error())
	}

	if result.Summary != nil {
		log := store.NewRunEventLog(s.store)
		for _, ev := range result.Summary.Trace {
			if err := log.RecordTrace(ctx, run.ID, ev); err != nil {
				s.logger.Warn("trace event not persisted", "run_id", run.ID, "error", err.Error())
				break
			}
		}
	}

	for _, rec := range report.Records {
		audit := &store.InjectionAudit{
			FlowID:         run.FlowID,
			RunID:          run.ID,
			OpID:           rec.OpID,
			OpType:         rec.OpType,
			CredentialType: string(rec.Type),
			Masked:         rec.Masked,
			Source:         rec.Source,
		}
		if err := s.store.AppendInjectionAudit(ctx, audit); err != nil {
			s.logger.Warn("injection audit not persisted", "run_id", run.ID, "error", err.Error())
		}
	}

	if s.hub != nil {
		_ = s.hub.Publish(ctx, streaming.RunEvent{
			FlowID:    run.FlowID,
			RunID:     run.ID,
			EventType: eventType,
		})
	}

	if s.notifier != nil {
		detail := map[string]any{"flow_id": run.FlowID}
		if err := s.notifier.NotifyRunFinished(ctx, run.ID, string(status), detail); err != nil {
			s.logger.Warn("run notification not delivered", "run_id", run.ID, "error", err.Error())
		}
	}
}

// parseUserCredentials reads the user_credentials object: op ID (string)
// mapped to an object of credential type to plaintext value.
func parseUserCredentials(req mcp.CallToolRequest) []schema.UserCredential {
	raw := mcp.ParseStringMap(req, "user_credentials", nil)
	if raw == nil {
		return nil
	}

	var creds []schema.UserCredential
	for opKey, v := range raw {
		opID, err := strconv.Atoi(opKey)
		if err != nil {
			continue
		}
		byType, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for credType, value := range byType {
			sv, ok := value.(string)
			if !ok {
				continue
			}
			creds = append(creds, schema.UserCredential{
				OpID:  opID,
				Type:  schema.CredentialType(credType),
				Value: sv,
			})
		}
	}
	return creds
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// captureSession maps the agent ID to its current MCP session for notifications.
func (s *ReflowServer) captureSession(ctx context.Context, agentID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(agentID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
