package react

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/relaycore/agentcore/internal/llmadapter"
	"github.com/relaycore/agentcore/internal/tools"
	"github.com/relaycore/agentcore/pkg/models"
)

// stubProvider replays a fixed sequence of full-text responses, one per
// call to Complete, regardless of the messages it's given.
type stubProvider struct {
	responses []string
	calls     int
	history   [][]llmadapter.Message
}

func (p *stubProvider) Name() string     { return "stub" }
func (p *stubProvider) Models() []string { return nil }
func (p *stubProvider) Complete(ctx context.Context, req llmadapter.CompletionRequest) (<-chan llmadapter.Chunk, error) {
	if p.calls >= len(p.responses) {
		return nil, fmt.Errorf("stubProvider: no more canned responses (call %d)", p.calls+1)
	}
	p.history = append(p.history, req.Messages)
	text := p.responses[p.calls]
	p.calls++
	ch := make(chan llmadapter.Chunk, 2)
	ch <- llmadapter.Chunk{Type: llmadapter.ChunkText, Text: text}
	ch <- llmadapter.Chunk{Type: llmadapter.ChunkDone, FinishReason: llmadapter.FinishStop}
	close(ch)
	return ch, nil
}

// stubGateway returns scripted results per call.
type stubGateway struct {
	dispatched []tools.DispatchRequest
	results    []*tools.Result
	err        error
}

func (g *stubGateway) Dispatch(ctx context.Context, req tools.DispatchRequest) (*tools.Dispatched, error) {
	g.dispatched = append(g.dispatched, req)
	if g.err != nil {
		return nil, g.err
	}
	result := &tools.Result{Content: "ok: " + req.Call.Name}
	if len(g.results) >= len(g.dispatched) {
		result = g.results[len(g.dispatched)-1]
	}
	record := &models.ToolCallRecord{
		ID:     req.Call.ID,
		Name:   req.Call.Name,
		Status: models.ToolCallCompleted,
	}
	if result.IsError {
		record.Status = models.ToolCallFailed
	}
	return &tools.Dispatched{Result: result, Record: record}, nil
}

// collectSink records every emitted event kind in order.
type collectSink struct {
	mu     sync.Mutex
	events []models.EventKind
	datas  []any
}

func (s *collectSink) Emit(_ context.Context, kind models.EventKind, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, kind)
	s.datas = append(s.datas, data)
}

func (s *collectSink) kinds() []models.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.EventKind(nil), s.events...)
}

func runRequest(userMessage string, sink Sink) RunRequest {
	return RunRequest{
		ConversationID: "conv-1",
		TurnID:         "turn-1",
		MessageID:      "msg-1",
		Model:          "model-x",
		UserMessage:    userMessage,
		Messages:       []llmadapter.Message{{Role: "user", Content: userMessage}},
		Policy:         models.WorkspacePolicy{AllowActions: true, AllowContextReads: true},
		Sink:           sink,
	}
}

func TestEngine_Run_NoToolCalls(t *testing.T) {
	provider := &stubProvider{responses: []string{"just an answer, no tools needed"}}
	gateway := &stubGateway{}
	sink := &collectSink{}
	e := New(provider, gateway)

	outcome, err := e.Run(context.Background(), runRequest("hi", sink))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.FinalText != "just an answer, no tools needed" {
		t.Errorf("FinalText = %q", outcome.FinalText)
	}
	if outcome.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", outcome.Iterations)
	}
	if outcome.ToolCallsRun != 0 {
		t.Errorf("ToolCallsRun = %d, want 0", outcome.ToolCallsRun)
	}
	for _, k := range sink.kinds() {
		if strings.HasPrefix(string(k), "tool.") {
			t.Errorf("unexpected tool event %s on a no-tool turn", k)
		}
	}
}

func TestEngine_Run_SingleToolCall(t *testing.T) {
	provider := &stubProvider{responses: []string{
		`I will check. <tool_call>{"name": "list_files", "arguments": {"path": "src"}}</tool_call>`,
		"src contains three files.",
	}}
	gateway := &stubGateway{}
	sink := &collectSink{}
	e := New(provider, gateway)

	outcome, err := e.Run(context.Background(), runRequest("list files under src", sink))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.FinalText != "I will check. src contains three files." {
		t.Errorf("FinalText = %q", outcome.FinalText)
	}
	if outcome.ToolCallsRun != 1 {
		t.Errorf("ToolCallsRun = %d, want 1", outcome.ToolCallsRun)
	}
	if len(gateway.dispatched) != 1 || gateway.dispatched[0].Call.Name != "list_files" {
		t.Fatalf("expected list_files dispatched once, got %+v", gateway.dispatched)
	}
	if len(outcome.Records) != 1 {
		t.Errorf("expected 1 record, got %d", len(outcome.Records))
	}

	// tool.proposed then tool.started then tool.completed, in publish
	// order.
	var toolKinds []models.EventKind
	for _, k := range sink.kinds() {
		if strings.HasPrefix(string(k), "tool.") {
			toolKinds = append(toolKinds, k)
		}
	}
	want := []models.EventKind{models.EventToolProposed, models.EventToolStarted, models.EventToolCompleted}
	if len(toolKinds) != len(want) {
		t.Fatalf("tool events = %v, want %v", toolKinds, want)
	}
	for i := range want {
		if toolKinds[i] != want[i] {
			t.Fatalf("tool events = %v, want %v", toolKinds, want)
		}
	}

	// The observation was fed back for the second reasoning pass.
	last := provider.history[len(provider.history)-1]
	obs := last[len(last)-1]
	if obs.Role != "system" || !strings.Contains(obs.Content, "Tool list_files → success") {
		t.Errorf("unexpected observation message %+v", obs)
	}
}

func TestEngine_Run_ToolFailureIsObservation(t *testing.T) {
	provider := &stubProvider{responses: []string{
		`<tool_call>{"name": "execute_command", "arguments": {"command": "rm -rf /"}}</tool_call>`,
		"I could not do that: the command was rejected.",
	}}
	gateway := &stubGateway{results: []*tools.Result{
		{Content: "tool call rejected", IsError: true, Reason: "rejected"},
	}}
	sink := &collectSink{}
	e := New(provider, gateway)

	outcome, err := e.Run(context.Background(), runRequest("delete everything", sink))
	if err != nil {
		t.Fatalf("a rejected tool call must not fail the turn: %v", err)
	}
	if !strings.Contains(outcome.FinalText, "rejected") {
		t.Errorf("FinalText = %q", outcome.FinalText)
	}

	var sawFailed bool
	for _, k := range sink.kinds() {
		if k == models.EventToolFailed {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Error("expected a tool.failed event")
	}

	// The failure observation reached the model.
	last := provider.history[len(provider.history)-1]
	obs := last[len(last)-1]
	if !strings.Contains(obs.Content, "failure") {
		t.Errorf("observation %q does not mention failure", obs.Content)
	}
}

func TestEngine_Run_MalformedEnvelopeContinuesReasoning(t *testing.T) {
	provider := &stubProvider{responses: []string{
		`Attempting a call. <tool_call>not json at all</tool_call> More thoughts after.`,
		`Retrying. <tool_call>{"name": "list_files", "arguments": {}}</tool_call>`,
		"src is empty.",
	}}
	gateway := &stubGateway{}
	sink := &collectSink{}
	e := New(provider, gateway)

	outcome, err := e.Run(context.Background(), runRequest("list files under src", sink))
	if err != nil {
		t.Fatalf("a malformed envelope must not fail the turn: %v", err)
	}
	// The malformed envelope did not finalize the turn: the retry's call
	// was dispatched and the model answered afterwards.
	if len(gateway.dispatched) != 1 || gateway.dispatched[0].Call.Name != "list_files" {
		t.Fatalf("expected the retried call to be dispatched, got %+v", gateway.dispatched)
	}
	if provider.calls != 3 {
		t.Fatalf("expected 3 completions (malformed, retry, answer), got %d", provider.calls)
	}
	// Prose around the malformed envelope survives; the envelope itself
	// does not.
	if !strings.Contains(outcome.FinalText, "Attempting a call. ") ||
		!strings.Contains(outcome.FinalText, " More thoughts after.") ||
		!strings.Contains(outcome.FinalText, "src is empty.") {
		t.Errorf("FinalText = %q", outcome.FinalText)
	}
	if strings.Contains(outcome.FinalText, "not json at all") {
		t.Errorf("malformed envelope body leaked into FinalText: %q", outcome.FinalText)
	}

	// The malformed reply was fed back so the model could retry.
	second := provider.history[1]
	lastMsg := second[len(second)-1]
	if lastMsg.Role != "assistant" || !strings.Contains(lastMsg.Content, "not json at all") {
		t.Errorf("expected the malformed reply appended as an assistant turn, got %+v", lastMsg)
	}
}

func TestEngine_Run_IncompleteEnvelopeContinuesReasoning(t *testing.T) {
	provider := &stubProvider{responses: []string{
		`Starting. <tool_call>{"name": "list_fi`,
		"Never mind, src has three files.",
	}}
	gateway := &stubGateway{}
	e := New(provider, gateway)

	outcome, err := e.Run(context.Background(), runRequest("list files under src", &collectSink{}))
	if err != nil {
		t.Fatalf("a truncated envelope must not fail the turn: %v", err)
	}
	if len(gateway.dispatched) != 0 {
		t.Fatalf("nothing should be dispatched for a truncated envelope, got %+v", gateway.dispatched)
	}
	if !strings.Contains(outcome.FinalText, "Starting. ") ||
		!strings.Contains(outcome.FinalText, "Never mind, src has three files.") {
		t.Errorf("FinalText = %q", outcome.FinalText)
	}
}

func TestEngine_Run_ForcedFinalizationAfterM(t *testing.T) {
	toolReply := `<tool_call>{"name": "list_files", "arguments": {}}</tool_call>`
	provider := &stubProvider{responses: []string{
		toolReply, toolReply,
		// The forced pass emits yet another envelope, which must be
		// ignored.
		`Final answer. <tool_call>{"name": "list_files", "arguments": {}}</tool_call>`,
	}}
	gateway := &stubGateway{}
	sink := &collectSink{}
	e := New(provider, gateway).WithMaxIterations(2)

	outcome, err := e.Run(context.Background(), runRequest("keep going", sink))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(gateway.dispatched) != 2 {
		t.Fatalf("expected exactly M=2 dispatches, got %d", len(gateway.dispatched))
	}
	if !strings.Contains(outcome.FinalText, "Final answer.") {
		t.Errorf("FinalText = %q", outcome.FinalText)
	}
	if outcome.ToolCallsRun != 2 {
		t.Errorf("ToolCallsRun = %d, want 2", outcome.ToolCallsRun)
	}

	// The forced pass got the finalize instruction.
	last := provider.history[len(provider.history)-1]
	instr := last[len(last)-1]
	if instr.Content != forceFinalizeInstruction {
		t.Errorf("expected finalize instruction, got %q", instr.Content)
	}
}

func TestEngine_Run_PlanningPass(t *testing.T) {
	planJSON := `{"objective": "Create demo", "milestones": [{"title": "initialize"}, {"title": "verify"}]}`
	provider := &stubProvider{responses: []string{
		planJSON, // planning call
		"Scaffolding is done.",
	}}
	gateway := &stubGateway{}
	sink := &collectSink{}
	e := New(provider, gateway)

	outcome, err := e.Run(context.Background(), runRequest("Create a React app called demo", sink))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Plan == nil {
		t.Fatal("expected a plan for a matching user message")
	}
	if len(outcome.Plan.Milestones) != 2 {
		t.Fatalf("expected 2 milestones, got %d", len(outcome.Plan.Milestones))
	}

	kinds := sink.kinds()
	if kinds[0] != models.EventTaskPlan {
		t.Errorf("first event = %s, want task.plan", kinds[0])
	}
	var milestoneUpdates int
	for _, k := range kinds {
		if k == models.EventTaskMilestoneUpdate {
			milestoneUpdates++
		}
	}
	if milestoneUpdates == 0 {
		t.Error("expected milestone updates to be published")
	}
	if outcome.Plan.Milestones[0].Status != models.MilestoneCompleted {
		t.Errorf("first milestone status = %s, want completed", outcome.Plan.Milestones[0].Status)
	}
}

func TestEngine_Run_NoPlanningForPlainQuestions(t *testing.T) {
	provider := &stubProvider{responses: []string{"it is noon"}}
	e := New(provider, &stubGateway{})

	outcome, err := e.Run(context.Background(), runRequest("what time is it", &collectSink{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Plan != nil {
		t.Fatal("expected no plan for a plain question")
	}
	if provider.calls != 1 {
		t.Fatalf("expected a single completion, got %d", provider.calls)
	}
}

func TestEngine_Run_PlanningFailureIsSkipped(t *testing.T) {
	provider := &stubProvider{responses: []string{
		"no json to be found",
		"built it anyway",
	}}
	e := New(provider, &stubGateway{})

	outcome, err := e.Run(context.Background(), runRequest("implement pagination", &collectSink{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Plan != nil {
		t.Fatal("unparseable planning response must skip planning")
	}
	if outcome.FinalText != "built it anyway" {
		t.Errorf("FinalText = %q", outcome.FinalText)
	}
}

func TestEngine_Run_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	blocked := make(chan llmadapter.Chunk)
	provider := &blockingProvider{ch: blocked}
	e := New(provider, &stubGateway{})

	_, err := e.Run(ctx, runRequest("hi", &collectSink{}))
	if err == nil {
		t.Fatal("expected an error for a cancelled turn")
	}
}

// blockingProvider returns a channel that never yields, forcing the engine
// to notice ctx cancellation.
type blockingProvider struct {
	ch chan llmadapter.Chunk
}

func (p *blockingProvider) Name() string     { return "blocking" }
func (p *blockingProvider) Models() []string { return nil }
func (p *blockingProvider) Complete(context.Context, llmadapter.CompletionRequest) (<-chan llmadapter.Chunk, error) {
	return p.ch, nil
}
