package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/relaycore/agentcore/internal/approval"
	"github.com/relaycore/agentcore/internal/policy"
	"github.com/relaycore/agentcore/pkg/models"
)

// Recorder persists a ToolCallRecord as it moves through the pipeline, so a
// turn can be replayed or audited after the fact.
type Recorder interface {
	Save(ctx context.Context, record *models.ToolCallRecord) error
}

// Arbiter is the slice of *approval.Arbiter the gateway suspends on when a
// call's risk requires a human decision.
type Arbiter interface {
	RequestApproval(ctx context.Context, req approval.Request) (approval.Decision, *models.ApprovalRequest, error)
}

// Gateway is the execution path every parsed tool call goes through:
// schema-validate its arguments, classify its risk, resolve approval,
// execute it, log it to the workspace terminal log, and record the outcome.
type Gateway struct {
	registry *Registry
	arbiter  Arbiter
	recorder Recorder
	termLog  *TerminalLog
	schemas  map[string]*jsonschema.Schema
}

// NewGateway wires a Registry and Arbiter into a Gateway. recorder and
// termLog may be nil to skip persistence and terminal logging (e.g. in
// tests).
func NewGateway(registry *Registry, arbiter Arbiter, recorder Recorder, termLog *TerminalLog) *Gateway {
	return &Gateway{
		registry: registry,
		arbiter:  arbiter,
		recorder: recorder,
		termLog:  termLog,
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// CompileSchemas compiles and caches each registered tool's JSON Schema so
// Dispatch doesn't pay compilation cost per call.
func (g *Gateway) CompileSchemas() error {
	for _, t := range g.registry.AsLLMTools() {
		compiled, err := jsonschema.CompileString(t.Name, string(t.Schema))
		if err != nil {
			return fmt.Errorf("compile schema for tool %q: %w", t.Name, err)
		}
		g.schemas[t.Name] = compiled
	}
	return nil
}

// DispatchRequest carries one tool call through the pipeline along with the
// workspace policy of the agent proposing it.
type DispatchRequest struct {
	ConversationID string
	TurnID         string
	Call           models.ToolCall
	Policy         models.WorkspacePolicy
}

// Dispatched is the pipeline's outcome: the tool result (always set), the
// durable record of what happened, and the approval request that gated it,
// if one was raised.
type Dispatched struct {
	Result   *Result
	Record   *models.ToolCallRecord
	Approval *models.ApprovalRequest
}

// Dispatch runs req through the full pipeline. A rejected, timed-out, or
// schema-invalid call is not a Go error: the Result carries the failure so
// the ReAct engine can feed it back to the model as an observation. Only
// infrastructure faults surface as errors: the arbiter failing to open an
// approval request, or a tool's Execute returning a Go error. A failure to
// save the call record is not reported.
func (g *Gateway) Dispatch(ctx context.Context, req DispatchRequest) (*Dispatched, error) {
	call := req.Call
	record := &models.ToolCallRecord{
		ID:             call.ID,
		ConversationID: req.ConversationID,
		TurnID:         req.TurnID,
		Name:           call.Name,
		Arguments:      call.Arguments,
		Status:         models.ToolCallProposed,
		CreatedAt:      time.Now().UTC(),
	}

	if !policy.ToolPermitted(call.Name, req.Policy) {
		return g.finish(ctx, record, &Result{
			Content: fmt.Sprintf("tool %q is not permitted by this agent's workspace policy", call.Name),
			IsError: true,
			Reason:  "rejected",
		}, models.ToolCallRejected), nil
	}

	if err := g.validateArgs(call); err != nil {
		return g.finish(ctx, record, &Result{Content: err.Error(), IsError: true, Reason: "schema"}, models.ToolCallFailed), nil
	}

	command := commandOf(call)
	risk := policy.ClassifyTool(call.Name)
	if call.Name == "execute_command" {
		risk = policy.Max(risk, policy.ClassifyShellCommand(command))
	}
	record.Risk = risk

	var approvalReq *models.ApprovalRequest
	if policy.AtLeast(risk, models.RiskMedium) {
		record.Status = models.ToolCallAwaitingApproval
		g.save(ctx, record)

		waitStart := time.Now()
		decision, raised, err := g.arbiter.RequestApproval(ctx, approval.Request{
			ConversationID: req.ConversationID,
			TurnID:         req.TurnID,
			ToolCallID:     call.ID,
			ToolName:       call.Name,
			Kind:           policy.ClassifyApprovalKind(call.Name, command),
			Risk:           risk,
			Payload:        previewPayload(call, command),
			Arguments:      call.Arguments,
		})
		if err != nil {
			return nil, fmt.Errorf("request approval: %w", err)
		}
		approvalWait.Observe(time.Since(waitStart).Seconds())
		approvalReq = raised

		switch decision.Outcome {
		case approval.OutcomeApprove:
			record.Status = models.ToolCallApproved
		case approval.OutcomeModify:
			record.Status = models.ToolCallApproved
			call.Arguments = decision.ModifiedArguments
			record.Arguments = decision.ModifiedArguments
		case approval.OutcomeTimeout:
			d := g.finish(ctx, record, &Result{
				Content: fmt.Sprintf("tool call %q was not approved in time", call.Name),
				IsError: true,
				Reason:  "timeout",
			}, models.ToolCallTimedOut)
			d.Approval = approvalReq
			return d, nil
		case approval.OutcomeCancelled:
			d := g.finish(ctx, record, &Result{Content: "turn cancelled", IsError: true, Reason: "cancelled"}, models.ToolCallRejected)
			d.Approval = approvalReq
			return d, nil
		default:
			d := g.finish(ctx, record, &Result{
				Content: fmt.Sprintf("tool call %q rejected: %s", call.Name, decision.Reason),
				IsError: true,
				Reason:  "rejected",
			}, models.ToolCallRejected)
			d.Approval = approvalReq
			return d, nil
		}
	}

	d, err := g.execute(ctx, record, call)
	if err != nil {
		return nil, err
	}
	d.Approval = approvalReq
	return d, nil
}

func (g *Gateway) execute(ctx context.Context, record *models.ToolCallRecord, call models.ToolCall) (*Dispatched, error) {
	now := time.Now().UTC()
	record.StartedAt = &now
	record.Status = models.ToolCallExecuting

	result, err := g.registry.execute(ctx, call.Name, call.Arguments)
	if err != nil {
		return nil, fmt.Errorf("execute tool %q: %w", call.Name, err)
	}
	toolCallDuration.WithLabelValues(call.Name).Observe(time.Since(now).Seconds())

	status := models.ToolCallCompleted
	if result.IsError {
		status = models.ToolCallFailed
	}
	g.logToTerminal(call, result)
	return g.finish(ctx, record, result, status), nil
}

func (g *Gateway) finish(ctx context.Context, record *models.ToolCallRecord, result *Result, status models.ToolCallStatus) *Dispatched {
	now := time.Now().UTC()
	record.FinishedAt = &now
	record.Status = status
	record.Result = result.Content
	record.IsError = result.IsError
	toolCallsTotal.WithLabelValues(record.Name, string(status)).Inc()
	g.save(ctx, record)
	return &Dispatched{Result: result, Record: record}
}

func (g *Gateway) save(ctx context.Context, record *models.ToolCallRecord) {
	if g.recorder == nil {
		return
	}
	_ = g.recorder.Save(ctx, record)
}

func (g *Gateway) logToTerminal(call models.ToolCall, result *Result) {
	if g.termLog == nil {
		return
	}
	if call.Name == "execute_command" {
		g.termLog.Command(commandOf(call), result.Content)
		return
	}
	g.termLog.Tool(call.Name, result.Content, result.IsError)
}

func (g *Gateway) validateArgs(call models.ToolCall) error {
	schema, ok := g.schemas[call.Name]
	if !ok {
		return nil // tool with no compiled schema is validated by the tool itself
	}
	var payload any
	if len(call.Arguments) == 0 {
		payload = map[string]any{}
	} else if err := json.Unmarshal(call.Arguments, &payload); err != nil {
		return fmt.Errorf("arguments for %q are not valid JSON: %w", call.Name, err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("arguments for %q failed schema validation: %w", call.Name, err)
	}
	return nil
}

// commandOf extracts the command string from an execute_command call's
// arguments; empty for other tools.
func commandOf(call models.ToolCall) string {
	if call.Name != "execute_command" {
		return ""
	}
	var args struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return ""
	}
	return args.Command
}

// previewPayload builds the kind-specific preview an approval.request
// carries: the command for shell calls, the raw arguments otherwise.
func previewPayload(call models.ToolCall, command string) json.RawMessage {
	if command != "" {
		payload, _ := json.Marshal(map[string]string{"command": command})
		return payload
	}
	return call.Arguments
}
