package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaycore/agentcore/internal/contextassembly"
	"github.com/relaycore/agentcore/internal/llmadapter"
	"github.com/relaycore/agentcore/internal/react"
	"github.com/relaycore/agentcore/internal/tools"
	"github.com/relaycore/agentcore/pkg/models"
)

// IdempotencyWindow is how long a repeated (conversation_id, content) pair
// returns the original turn instead of starting a new one.
const IdempotencyWindow = 2 * time.Second

// Engine is the subset of *react.Engine the coordinator depends on.
type Engine interface {
	Run(ctx context.Context, req react.RunRequest) (*react.Outcome, error)
}

// MessageStore persists the conversation's messages.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	UpdateMessage(ctx context.Context, msg *models.Message) error
	GetHistory(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
}

// AgentStore resolves the agent configuration governing a conversation.
type AgentStore interface {
	GetAgent(ctx context.Context, conversationID string) (*models.Agent, error)
}

// Assembler is the subset of *contextassembly.Assembler the coordinator
// uses to build a turn's prompt payload.
type Assembler interface {
	BuildMessages(ctx context.Context, req contextassembly.BuildRequest) ([]llmadapter.Message, *contextassembly.Context, error)
}

// ToolCatalog describes the registered tools so the payload can advertise
// them.
type ToolCatalog interface {
	AsLLMTools() []tools.LLMTool
}

// Publisher is the slice of the event bus the coordinator publishes
// lifecycle events on.
type Publisher interface {
	Publish(e models.Event) models.Event
}

// MemoryRecorder writes the per-turn interaction summary the coordinator
// records once a turn reaches a terminal state. A nil MemoryRecorder skips
// this step entirely.
type MemoryRecorder interface {
	Append(ctx context.Context, conversationID, content string, tags []string, importance float64, shortTermWindow int) (models.MemoryItem, error)
}

// Coordinator implements run_turn: the single entry point that accepts a
// user message, creates the streaming assistant message, drives the ReAct
// engine in the background, and persists the outcome.
type Coordinator struct {
	engine    Engine
	store     MessageStore
	agents    AgentStore
	assembler Assembler
	catalog   ToolCatalog
	bus       Publisher
	memory    MemoryRecorder
	budget    *Budget
	logger    *slog.Logger

	mu        sync.Mutex
	admission map[string]*sync.Mutex // per-conversation start serialization
	active    map[string]*activeTurn // turnID -> cancel + conversation
	recent    map[string]idemEntry   // (conversation, content) -> recent turn
}

type activeTurn struct {
	conversationID string
	cancel         context.CancelFunc
}

type idemEntry struct {
	turn    *models.Turn
	message *models.Message
	at      time.Time
}

// New builds a Coordinator. bus may be nil to skip event publication;
// context assembly, memory, and the budget are wired via the With*
// builders.
func New(engine Engine, store MessageStore, bus Publisher, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		engine:    engine,
		store:     store,
		bus:       bus,
		logger:    logger,
		admission: make(map[string]*sync.Mutex),
		active:    make(map[string]*activeTurn),
		recent:    make(map[string]idemEntry),
	}
}

// WithContextAssembly wires agent resolution, prompt assembly, and the tool
// catalog. Returns the Coordinator for chaining.
func (c *Coordinator) WithContextAssembly(agents AgentStore, assembler Assembler, catalog ToolCatalog) *Coordinator {
	c.agents = agents
	c.assembler = assembler
	c.catalog = catalog
	return c
}

// WithBudget bounds global in-flight turn concurrency.
func (c *Coordinator) WithBudget(budget *Budget) *Coordinator {
	c.budget = budget
	return c
}

// WithMemoryRecorder attaches a MemoryRecorder so completed turns are
// written to memory.
func (c *Coordinator) WithMemoryRecorder(recorder MemoryRecorder) *Coordinator {
	c.memory = recorder
	return c
}

// StartTurn persists the user's message, creates the streaming assistant
// message, publishes message.created, and launches the turn in the
// background. It returns as soon as both messages are durable; callers
// answer 202 with the returned IDs. A repeat of the same (conversation,
// content) within IdempotencyWindow returns the original turn.
func (c *Coordinator) StartTurn(ctx context.Context, conversationID, content string) (*models.Turn, *models.Message, error) {
	adm := c.admissionLock(conversationID)
	adm.Lock()
	defer adm.Unlock()

	idemKey := conversationID + "\x00" + content
	c.mu.Lock()
	if entry, ok := c.recent[idemKey]; ok && time.Since(entry.at) < IdempotencyWindow {
		c.mu.Unlock()
		return entry.turn, entry.message, nil
	}
	c.mu.Unlock()

	now := time.Now().UTC()
	userMsg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           models.RoleUser,
		Content:        content,
		Status:         models.MessageStatusComplete,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, nil, fmt.Errorf("append user message: %w", err)
	}

	t := &models.Turn{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Status:         models.TurnStatusRunning,
		StartedAt:      now,
	}
	assistant := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		TurnID:         t.ID,
		Role:           models.RoleAssistant,
		Status:         models.MessageStatusStreaming,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	t.MessageID = assistant.ID
	if err := c.store.AppendMessage(ctx, assistant); err != nil {
		return nil, nil, fmt.Errorf("append assistant message: %w", err)
	}

	c.publish(models.EventMessageCreated, conversationID, t.ID, map[string]any{
		"message_id": assistant.ID,
		"role":       assistant.Role,
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.active[t.ID] = &activeTurn{conversationID: conversationID, cancel: cancel}
	c.recent[idemKey] = idemEntry{turn: t, message: assistant, at: now}
	c.pruneRecentLocked(now)
	c.mu.Unlock()

	run := func() error {
		defer func() {
			cancel()
			c.mu.Lock()
			delete(c.active, t.ID)
			c.mu.Unlock()
		}()
		c.execute(runCtx, t, assistant, content)
		return nil
	}

	if c.budget != nil {
		c.budget.Go(run)
	} else {
		go func() { _ = run() }()
	}
	return t, assistant, nil
}

// Stop cancels the turn identified by turnID if it is still running,
// reporting whether an in-flight turn was found. Repeated stops of the same
// turn are no-ops with the same terminal result.
func (c *Coordinator) Stop(turnID string) bool {
	c.mu.Lock()
	at, ok := c.active[turnID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	at.cancel()
	return true
}

// StopConversation cancels every in-flight turn of a conversation,
// returning how many were signalled. The gateway's client-disconnect policy
// calls this when the last subscriber goes away.
func (c *Coordinator) StopConversation(conversationID string) int {
	c.mu.Lock()
	var cancels []context.CancelFunc
	for _, at := range c.active {
		if at.conversationID == conversationID {
			cancels = append(cancels, at.cancel)
		}
	}
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// execute drives the engine and settles the assistant message. All
// terminal paths publish exactly one terminal event for the message.
func (c *Coordinator) execute(ctx context.Context, t *models.Turn, assistant *models.Message, userMessage string) {
	writer := NewBatchedWriter(context.WithoutCancel(ctx), persistFunc(func(fctx context.Context, _ string, content string) error {
		assistant.Content = content
		return c.store.UpdateMessage(fctx, assistant)
	}), assistant.ID)

	outcome, err := c.runEngine(ctx, t, assistant, userMessage, writer)
	now := time.Now().UTC()
	t.FinishedAt = &now
	turnDuration.Observe(now.Sub(t.StartedAt).Seconds())

	if outcome != nil {
		t.Iteration = outcome.Iterations
		t.Plan = outcome.Plan
	}

	switch {
	case err == nil:
		t.Status = models.TurnStatusCompleted
		assistant.Status = models.MessageStatusComplete
		assistant.Metadata = c.metadataFor(outcome, "")
	case errors.Is(err, context.Canceled):
		t.Status = models.TurnStatusStopped
		assistant.Status = models.MessageStatusStopped
		assistant.Metadata = c.metadataFor(outcome, "")
	default:
		t.Status = models.TurnStatusFailed
		t.Error = err.Error()
		assistant.Status = models.MessageStatusFailed
		assistant.Metadata = c.metadataFor(outcome, err.Error())
	}

	// Flush after the status is set so the terminal write persists content,
	// status, and metadata together. The streaming events have already been
	// delivered; a flush failure marks the message failed but never
	// un-publishes anything.
	if ferr := writer.Flush(); ferr != nil {
		c.logger.Error("flush assistant message", "error", ferr, "message_id", assistant.ID)
		assistant.Status = models.MessageStatusFailed
		assistant.Metadata = c.metadataFor(outcome, "persist failed: "+ferr.Error())
		if uerr := c.store.UpdateMessage(context.WithoutCancel(ctx), assistant); uerr != nil {
			c.logger.Error("mark assistant message failed", "error", uerr, "message_id", assistant.ID)
		}
	}

	switch t.Status {
	case models.TurnStatusStopped:
		c.publish(models.EventMessageStopped, t.ConversationID, t.ID, map[string]any{
			"message_id": assistant.ID,
			"status":     assistant.Status,
		})
	default:
		c.publish(models.EventMessageCompleted, t.ConversationID, t.ID, map[string]any{
			"message_id": assistant.ID,
			"status":     assistant.Status,
			"metadata":   assistant.Metadata,
		})
	}

	turnsTotal.WithLabelValues(string(t.Status)).Inc()
	turnIterations.Observe(float64(t.Iteration))

	if t.Status == models.TurnStatusCompleted {
		c.recordMemory(context.WithoutCancel(ctx), t, outcome)
	}
}

// runEngine assembles the payload and runs the ReAct engine with a sink
// that fans events out to the bus and mirrors deltas into the batched
// writer.
func (c *Coordinator) runEngine(ctx context.Context, t *models.Turn, assistant *models.Message, userMessage string, writer *BatchedWriter) (*react.Outcome, error) {
	agent, messages, err := c.buildPayload(ctx, t.ConversationID, userMessage)
	if err != nil {
		return nil, err
	}

	sink := &turnSink{
		bus:            c.bus,
		writer:         writer,
		conversationID: t.ConversationID,
		turnID:         t.ID,
		logger:         c.logger,
	}

	return c.engine.Run(ctx, react.RunRequest{
		ConversationID: t.ConversationID,
		TurnID:         t.ID,
		MessageID:      assistant.ID,
		Model:          agent.ModelID,
		UserMessage:    userMessage,
		Messages:       messages,
		Policy:         agent.WorkspacePolicy,
		Temperature:    agent.Temperature,
		MaxTokens:      agent.MaxTokens,
		Sink:           sink,
	})
}

// buildPayload resolves the conversation's agent and assembles the prompt.
// Without wired context assembly (reduced test fixtures) it falls back to
// raw history plus the user message and a zero-valued agent whose policy
// permits nothing.
func (c *Coordinator) buildPayload(ctx context.Context, conversationID, userMessage string) (*models.Agent, []llmadapter.Message, error) {
	if c.agents == nil || c.assembler == nil {
		history, err := c.store.GetHistory(ctx, conversationID, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("load history: %w", err)
		}
		messages := make([]llmadapter.Message, 0, len(history)+1)
		for _, m := range history {
			if m.Status == models.MessageStatusStreaming {
				continue
			}
			messages = append(messages, llmadapter.Message{Role: string(m.Role), Content: m.Content})
		}
		return &models.Agent{}, messages, nil
	}

	agent, err := c.agents.GetAgent(ctx, conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve agent: %w", err)
	}

	var toolList []tools.LLMTool
	if c.catalog != nil {
		toolList = contextassembly.FilterTools(c.catalog.AsLLMTools(), agent.ToolAllowlist)
		toolList = contextassembly.FilterToolsByPolicy(toolList, agent.WorkspacePolicy)
	}

	messages, _, err := c.assembler.BuildMessages(ctx, contextassembly.BuildRequest{
		Agent:          agent,
		ConversationID: conversationID,
		UserMessage:    userMessage,
		Tools:          toolList,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("assemble context: %w", err)
	}
	return agent, messages, nil
}

// metadataFor renders the terminal metadata block persisted with the
// assistant message and carried on message.completed.
func (c *Coordinator) metadataFor(outcome *react.Outcome, errMsg string) map[string]any {
	meta := make(map[string]any)
	if outcome != nil {
		if len(outcome.Records) > 0 {
			meta["tool_calls"] = outcome.Records
		}
		if outcome.InputTokens > 0 || outcome.OutputTokens > 0 {
			meta["token_usage"] = map[string]int{
				"input":  outcome.InputTokens,
				"output": outcome.OutputTokens,
			}
		}
		if outcome.Plan != nil {
			meta["plan_id"] = outcome.Plan.ID
		}
	}
	if errMsg != "" {
		meta["error"] = errMsg
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

// recordMemory writes a short-term interaction summary for a completed
// turn: importance 0.8 when the turn used any tools, 0.5 otherwise.
// Failure to record memory never fails the turn.
func (c *Coordinator) recordMemory(ctx context.Context, t *models.Turn, outcome *react.Outcome) {
	if c.memory == nil || outcome == nil {
		return
	}
	importance := 0.5
	tags := []string{string(models.MemoryCategoryInteraction)}
	if outcome.ToolCallsRun > 0 {
		importance = 0.8
		tags = append(tags, "tool_use")
	}
	summary := fmt.Sprintf("Turn %s: %s", t.ID, outcome.FinalText)
	if _, err := c.memory.Append(ctx, t.ConversationID, summary, tags, importance, 0); err != nil {
		c.logger.Warn("record turn memory", "error", err, "turn_id", t.ID)
	}
}

func (c *Coordinator) admissionLock(conversationID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.admission[conversationID]
	if !ok {
		m = &sync.Mutex{}
		c.admission[conversationID] = m
	}
	return m
}

// pruneRecentLocked evicts idempotency entries past the window. Caller
// holds c.mu.
func (c *Coordinator) pruneRecentLocked(now time.Time) {
	for k, e := range c.recent {
		if now.Sub(e.at) >= IdempotencyWindow {
			delete(c.recent, k)
		}
	}
}

func (c *Coordinator) publish(kind models.EventKind, conversationID, turnID string, data any) {
	if c.bus == nil {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		c.logger.Warn("marshal event payload", "error", err, "event", kind)
		payload = nil
	}
	c.bus.Publish(models.Event{
		Kind:           kind,
		ConversationID: conversationID,
		TurnID:         turnID,
		Timestamp:      time.Now().UTC(),
		Data:           payload,
	})
}

// persistFunc adapts a closure to the Persister interface.
type persistFunc func(ctx context.Context, messageID, content string) error

func (f persistFunc) Flush(ctx context.Context, messageID, content string) error {
	return f(ctx, messageID, content)
}

// turnSink fans engine events out to the bus and mirrors message deltas
// into the batched writer, in the same order, so durable content always
// equals the concatenation of published deltas.
type turnSink struct {
	bus            Publisher
	writer         *BatchedWriter
	conversationID string
	turnID         string
	logger         *slog.Logger
}

func (s *turnSink) Emit(ctx context.Context, kind models.EventKind, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Warn("marshal engine event", "error", err, "event", kind)
		return
	}
	if s.bus != nil {
		s.bus.Publish(models.Event{
			Kind:           kind,
			ConversationID: s.conversationID,
			TurnID:         s.turnID,
			Timestamp:      time.Now().UTC(),
			Data:           payload,
		})
	}
	if kind == models.EventMessageDelta && s.writer != nil {
		if m, ok := data.(map[string]any); ok {
			if delta, ok := m["delta"].(string); ok {
				if werr := s.writer.Write(delta); werr != nil {
					s.logger.Warn("buffer message delta", "error", werr)
				}
			}
		}
	}
}
