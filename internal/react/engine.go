package react

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaycore/agentcore/internal/llmadapter"
	"github.com/relaycore/agentcore/internal/tools"
	"github.com/relaycore/agentcore/pkg/models"
)

// Phase names one step of the turn state machine, surfaced for logging.
type Phase string

const (
	PhasePlanning   Phase = "planning"
	PhaseReasoning  Phase = "reasoning"
	PhaseActing     Phase = "acting"
	PhaseObserving  Phase = "observing"
	PhaseFinalizing Phase = "finalizing"
)

// MaxIterations is the default bound on act-observe iterations (M) a single
// turn may run before the engine forces a final reasoning pass and
// terminates, preventing a model stuck in a tool-call loop from running
// forever. The MAX_REACT_ITERATIONS environment variable overrides it via
// config.
const MaxIterations = 3

// Sink receives engine events as the loop progresses; the turn coordinator
// publishes them to the event bus and mirrors message deltas into the
// durable assistant message.
type Sink interface {
	Emit(ctx context.Context, kind models.EventKind, data any)
}

// Gateway is the subset of *tools.Gateway the engine depends on.
type Gateway interface {
	Dispatch(ctx context.Context, req tools.DispatchRequest) (*tools.Dispatched, error)
}

// Engine runs the ReAct loop for a single turn.
type Engine struct {
	provider         llmadapter.Provider
	gateway          Gateway
	maxIterations    int
	chunkIdleTimeout time.Duration
}

// New builds an Engine from its collaborators, bounding act-observe
// iterations at MaxIterations. Use WithMaxIterations to override.
func New(provider llmadapter.Provider, gateway Gateway) *Engine {
	return &Engine{
		provider:         provider,
		gateway:          gateway,
		maxIterations:    MaxIterations,
		chunkIdleTimeout: llmadapter.DefaultChunkIdleTimeout,
	}
}

// WithMaxIterations overrides the engine's act-observe iteration bound;
// n <= 0 is ignored and the default is kept.
func (e *Engine) WithMaxIterations(n int) *Engine {
	if n > 0 {
		e.maxIterations = n
	}
	return e
}

// WithChunkIdleTimeout overrides how long the engine waits for the next
// chunk of a streaming completion before aborting the turn; d <= 0 is
// ignored and the default is kept.
func (e *Engine) WithChunkIdleTimeout(d time.Duration) *Engine {
	if d > 0 {
		e.chunkIdleTimeout = d
	}
	return e
}

// RunRequest is everything one turn hands the engine.
type RunRequest struct {
	ConversationID string
	TurnID         string
	MessageID      string
	Model          string
	UserMessage    string
	Messages       []llmadapter.Message
	Policy         models.WorkspacePolicy
	Temperature    float64
	MaxTokens      int
	Sink           Sink
}

// Outcome is the engine's final result for a turn.
type Outcome struct {
	FinalText    string
	Plan         *models.TaskPlan
	Iterations   int
	ToolCallsRun int
	Records      []*models.ToolCallRecord
	InputTokens  int
	OutputTokens int
}

// forceFinalizeInstruction is appended to history once the act-observe
// iteration bound is exhausted.
const forceFinalizeInstruction = "You have used all available tool-call iterations for this turn. Answer with what you have."

// Run drives one turn: an optional planning pass, then alternating
// reasoning (stream the model, publish deltas) and acting (dispatch the
// first well-formed tool-call envelope through the gateway, feed the result
// back as an observation) until the model answers with no further call or
// the act-observe bound M is hit. On exhaustion it forces one final
// reasoning pass and returns its prose, ignoring any further envelope that
// pass emits.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*Outcome, error) {
	out := &Outcome{}
	history := append([]llmadapter.Message(nil), req.Messages...)
	maxIter := e.maxIterations
	if maxIter <= 0 {
		maxIter = MaxIterations
	}

	if MatchesPlanHeuristic(req.UserMessage) {
		out.Plan = e.plan(ctx, req, out)
	}

	var prose string
	for iteration := 1; iteration <= maxIter; iteration++ {
		out.Iterations = iteration
		e.startMilestone(ctx, req, out.Plan)

		text, finish, err := e.stream(ctx, req, out, history, true)
		if err != nil {
			e.failMilestone(ctx, req, out.Plan, err.Error())
			return out, err
		}

		before, call, after, result := ScanEnvelope(text)
		prose += before
		switch result {
		case ParseNone:
			// No envelope at all: the model is done reasoning.
			if finish == llmadapter.FinishCancelled {
				return out, context.Canceled
			}
			e.settlePlan(ctx, req, out.Plan)
			out.FinalText = prose
			return out, nil
		case ParseMalformed, ParseIncomplete:
			// Ignore the broken envelope and keep reasoning; the model may
			// retry. Prose after the envelope is kept, the envelope itself
			// is not.
			prose += after
			if finish == llmadapter.FinishCancelled {
				return out, context.Canceled
			}
			history = append(history, llmadapter.Message{Role: "assistant", Content: text})
			continue
		}

		call.ID = uuid.NewString()
		e.emit(ctx, req, models.EventToolProposed, toolEventData(call, "", nil))

		history = append(history, llmadapter.Message{Role: "assistant", Content: text})

		e.emit(ctx, req, models.EventToolStarted, toolEventData(call, "", nil))
		dispatched, err := e.gateway.Dispatch(ctx, tools.DispatchRequest{
			ConversationID: req.ConversationID,
			TurnID:         req.TurnID,
			Call:           *call,
			Policy:         req.Policy,
		})
		if err != nil {
			e.failMilestone(ctx, req, out.Plan, err.Error())
			return out, fmt.Errorf("dispatch tool call %q: %w", call.Name, err)
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}

		out.ToolCallsRun++
		out.Records = append(out.Records, dispatched.Record)

		kind := models.EventToolCompleted
		if dispatched.Result.IsError {
			kind = models.EventToolFailed
		}
		e.emit(ctx, req, kind, toolEventData(call, string(dispatched.Record.Risk), dispatched.Result))
		e.observeMilestone(ctx, req, out.Plan, call.Name, dispatched.Result.IsError)

		history = append(history,
			llmadapter.Message{Role: "system", Content: observation(call.Name, dispatched.Result)},
		)
	}

	// Iteration bound exhausted: force one final reasoning pass and ignore
	// any further tool-call envelope it contains.
	history = append(history, llmadapter.Message{Role: "system", Content: forceFinalizeInstruction})
	text, finish, err := e.stream(ctx, req, out, history, true)
	if err != nil {
		out.FinalText = prose
		return out, fmt.Errorf("forced finalization pass after %d iterations: %w", maxIter, err)
	}
	if finish == llmadapter.FinishCancelled {
		return out, context.Canceled
	}
	finalProse, _ := ScanAllEnvelopes(text)
	out.FinalText = prose + finalProse
	e.settlePlan(ctx, req, out.Plan)
	return out, nil
}

// plan runs the dedicated planning completion and publishes the resulting
// task plan. Any failure (provider error, unparseable response) skips
// planning rather than failing the turn.
func (e *Engine) plan(ctx context.Context, req RunRequest, out *Outcome) *models.TaskPlan {
	text, _, err := e.stream(ctx, req, out, []llmadapter.Message{
		{Role: "user", Content: planPrompt + req.UserMessage},
	}, false)
	if err != nil {
		return nil
	}
	plan := ExtractPlan(text)
	if plan == nil {
		return nil
	}
	e.emit(ctx, req, models.EventTaskPlan, plan)
	return plan
}

func (e *Engine) startMilestone(ctx context.Context, req RunRequest, plan *models.TaskPlan) {
	if CurrentInProgress(plan) != nil {
		return
	}
	m := NextPending(plan)
	if m == nil {
		return
	}
	m.Status = models.MilestoneInProgress
	e.emitMilestone(ctx, req, plan, m)
}

// observeMilestone closes the in-progress milestone after a tool ran:
// completed on success; on failure it stays in progress so a recovering
// model can still finish it, recording the failure as a note.
func (e *Engine) observeMilestone(ctx context.Context, req RunRequest, plan *models.TaskPlan, toolName string, isError bool) {
	m := CurrentInProgress(plan)
	if m == nil {
		return
	}
	if isError {
		m.Note = fmt.Sprintf("tool %s failed", toolName)
		return
	}
	m.Status = models.MilestoneCompleted
	e.emitMilestone(ctx, req, plan, m)
}

// failMilestone marks the in-progress milestone failed when the engine is
// terminating without recovery.
func (e *Engine) failMilestone(ctx context.Context, req RunRequest, plan *models.TaskPlan, note string) {
	m := CurrentInProgress(plan)
	if m == nil {
		return
	}
	m.Status = models.MilestoneFailed
	m.Note = note
	e.emitMilestone(ctx, req, plan, m)
}

// settlePlan closes the plan at turn end: an in-progress milestone whose
// last tool failed (its Note records the failure) transitions to failed,
// otherwise it completes. Milestones never started stay pending.
func (e *Engine) settlePlan(ctx context.Context, req RunRequest, plan *models.TaskPlan) {
	m := CurrentInProgress(plan)
	if m == nil {
		return
	}
	if m.Note != "" {
		m.Status = models.MilestoneFailed
	} else {
		m.Status = models.MilestoneCompleted
	}
	e.emitMilestone(ctx, req, plan, m)
}

func (e *Engine) emitMilestone(ctx context.Context, req RunRequest, plan *models.TaskPlan, m *models.Milestone) {
	e.emit(ctx, req, models.EventTaskMilestoneUpdate, map[string]any{
		"plan_id":      plan.ID,
		"milestone_id": m.ID,
		"status":       m.Status,
		"error":        m.Note,
	})
}

// observation renders a tool result as the synthetic observation text fed
// back to the model for its next reasoning step.
func observation(toolName string, result *tools.Result) string {
	status := "success"
	if result.IsError {
		status = "failure"
	}
	summary := result.Content
	if result.Reason != "" {
		summary = result.Reason + ": " + summary
	}
	return fmt.Sprintf("Tool %s → %s: %s", toolName, status, summary)
}

// toolEventData builds the wire payload for tool.* events.
func toolEventData(call *models.ToolCall, risk string, result *tools.Result) map[string]any {
	preview := string(call.Arguments)
	if len(preview) > 512 {
		preview = preview[:512] + "…"
	}
	data := map[string]any{
		"tool_call_id":      call.ID,
		"tool_name":         call.Name,
		"arguments_preview": preview,
	}
	if risk != "" {
		data["risk"] = risk
	}
	if result != nil {
		data["result"] = result
	}
	return data
}

// stream runs one completion, optionally publishing each text delta as a
// message.delta event, and returns the accumulated text with the stream's
// finish reason, accumulating token usage onto out. The gap between
// consecutive chunks is bounded by the chunk-idle timeout so a stalled
// provider connection aborts the turn instead of hanging it.
func (e *Engine) stream(ctx context.Context, req RunRequest, out *Outcome, messages []llmadapter.Message, publish bool) (string, llmadapter.FinishReason, error) {
	chunks, err := e.provider.Complete(ctx, llmadapter.CompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", llmadapter.FinishError, err
	}

	timeout := e.chunkIdleTimeout
	if timeout <= 0 {
		timeout = llmadapter.DefaultChunkIdleTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var text string
	finish := llmadapter.FinishStop
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return text, finish, nil
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(timeout)
			switch chunk.Type {
			case llmadapter.ChunkText:
				text += chunk.Text
				if publish {
					e.emit(ctx, req, models.EventMessageDelta, map[string]any{
						"message_id": req.MessageID,
						"delta":      chunk.Text,
					})
				}
			case llmadapter.ChunkError:
				return text, llmadapter.FinishError, chunk.Err
			case llmadapter.ChunkDone:
				if chunk.FinishReason != "" {
					finish = chunk.FinishReason
				}
				out.InputTokens += chunk.InputTokens
				out.OutputTokens += chunk.OutputTokens
			}
		case <-timer.C:
			return text, llmadapter.FinishError, fmt.Errorf("stream: no chunk received within %s", timeout)
		case <-ctx.Done():
			return text, llmadapter.FinishCancelled, ctx.Err()
		}
	}
}

func (e *Engine) emit(ctx context.Context, req RunRequest, kind models.EventKind, data any) {
	if req.Sink == nil {
		return
	}
	req.Sink.Emit(ctx, kind, data)
}
