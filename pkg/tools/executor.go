package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loomworks/loom/pkg/models"
	"github.com/loomworks/loom/pkg/store"
)

// RejectionMessage is the synthetic result text recorded when the user
// rejects a confirmation request.
const RejectionMessage = "User rejected the request"

// maxAuditOutput bounds the tool output stored per audit entry. Large
// outputs still reach the conversation in full.
const maxAuditOutput = 16 * 1024

// Executor runs tool calls with full audit logging and risk gating. Every
// failure mode that can be expressed as a Result is: Execute never returns
// a Go error, so the conversation ledger always closes.
type Executor struct {
	registry  *Registry
	audit     *store.AuditLog
	validator *schemaValidator
}

// NewExecutor creates an executor over the registry and audit log.
func NewExecutor(registry *Registry, audit *store.AuditLog) *Executor {
	return &Executor{registry: registry, audit: audit, validator: newSchemaValidator()}
}

// Execute runs one tool call: lookup, audit request, argument validation,
// risk gate, invocation, audit completion. Risky calls without a matching
// confirmed tool call id are refused — one approval authorizes exactly one
// invocation.
func (e *Executor) Execute(ctx context.Context, call Call, tc *Context) *Result {
	tool, ok := e.registry.Lookup(call.ToolName)
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", call.ToolName))
	}

	e.auditRequested(call, tc)
	start := time.Now()

	if err := e.validator.validate(call.ToolName, tool.Parameters(), call.Arguments); err != nil {
		result := ErrorResult(err.Error())
		e.auditCompleted(call, tc, result, time.Since(start))
		return result
	}

	if tool.RiskLevel(call.Arguments, tc) == RiskRisky {
		if tc.ConfirmedInteractionID == "" || tc.ConfirmedToolCallID != call.ToolCallID {
			result := ErrorResult("risky tool requires confirmation")
			e.auditCompleted(call, tc, result, time.Since(start))
			return result
		}
	}

	result, err := tool.Execute(ctx, call.Arguments, tc)
	if err != nil {
		result = ErrorResult(err.Error())
	}
	if result == nil {
		result = ErrorResult("tool returned no result")
	}

	e.auditCompleted(call, tc, result, time.Since(start))
	return result
}

// RecordRejection emits the Requested/Completed audit pair for a call the
// user refused, without invoking the tool, and returns the synthetic result
// that closes the call in the conversation.
func (e *Executor) RecordRejection(ctx context.Context, call Call, tc *Context) *Result {
	e.auditRequested(call, tc)
	result := ErrorResult(RejectionMessage)
	e.auditCompleted(call, tc, result, 0)
	return result
}

func (e *Executor) auditRequested(call Call, tc *Context) {
	_, err := e.audit.Append(models.AuditToolCallRequested, models.AuditPayload{
		TaskID:        tc.TaskID,
		ToolCallID:    call.ToolCallID,
		ToolName:      call.ToolName,
		Input:         call.Arguments,
		AuthorActorID: tc.ActorID,
		Timestamp:     time.Now().UTC(),
	})
	if err != nil {
		slog.Error("Failed to append ToolCallRequested audit entry",
			"task_id", tc.TaskID, "tool", call.ToolName, "error", err)
	}
}

func (e *Executor) auditCompleted(call Call, tc *Context, result *Result, duration time.Duration) {
	output := result.Content
	if result.IsError {
		output = result.Error
	}
	if len(output) > maxAuditOutput {
		output = output[:maxAuditOutput] + "... [truncated]"
	}
	_, err := e.audit.Append(models.AuditToolCallCompleted, models.AuditPayload{
		TaskID:        tc.TaskID,
		ToolCallID:    call.ToolCallID,
		ToolName:      call.ToolName,
		Output:        output,
		IsError:       result.IsError,
		DurationMs:    duration.Milliseconds(),
		AuthorActorID: tc.ActorID,
		Timestamp:     time.Now().UTC(),
	})
	if err != nil {
		slog.Error("Failed to append ToolCallCompleted audit entry",
			"task_id", tc.TaskID, "tool", call.ToolName, "error", err)
	}
}
