// Package approval implements the risk-gated arbiter that decides whether a
// proposed tool call may execute immediately or must suspend on a human
// decision, and tracks every request for audit.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaycore/agentcore/pkg/models"
)

// DefaultRequestTTL is the base approval window, matching the
// APPROVAL_TIMEOUT_MS default. Kind-specific windows scale from it.
const DefaultRequestTTL = 60 * time.Second

// Outcome is what a RequestApproval call resolves to.
type Outcome string

const (
	OutcomeApprove   Outcome = "approve"
	OutcomeReject    Outcome = "reject"
	OutcomeModify    Outcome = "modify"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
)

// Decision carries an arbitration result back to the tool gateway.
// ModifiedArguments is set only for OutcomeModify.
type Decision struct {
	Outcome           Outcome
	Reason            string
	ModifiedArguments json.RawMessage
}

// Store persists ApprovalRequests for audit and so pending decisions can be
// listed out of band.
type Store interface {
	Create(ctx context.Context, req *models.ApprovalRequest) error
	Get(ctx context.Context, id string) (*models.ApprovalRequest, error)
	Update(ctx context.Context, req *models.ApprovalRequest) error
	ListPending(ctx context.Context, conversationID string) ([]*models.ApprovalRequest, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Replier is the slice of the event bus the arbiter suspends on: publish an
// approval.request with a one-shot mailbox, wait for the matching reply.
type Replier interface {
	RequestReply(ctx context.Context, correlationID string, request models.Event, timeout time.Duration) (json.RawMessage, error)
	Reply(correlationID string, payload json.RawMessage) bool
}

// Request is what the tool gateway submits for arbitration.
type Request struct {
	ConversationID      string
	TurnID              string
	ToolCallID          string
	ToolName            string
	Kind                models.ApprovalKind
	Risk                models.RiskLevel
	Payload             json.RawMessage
	Arguments           json.RawMessage
	EstimatedDurationMs int64
}

// Arbiter creates approval requests, suspends callers on the event bus
// until a human answers, and remembers per-session approvals so repeated
// identical actions aren't re-prompted.
type Arbiter struct {
	store   Store
	replier Replier
	baseTTL time.Duration
	logger  *slog.Logger

	mu         sync.Mutex
	remembered map[string]map[string]Decision // conversationID -> fingerprint -> decision
}

// New builds an Arbiter. baseTTL <= 0 uses DefaultRequestTTL; logger nil
// uses slog.Default().
func New(store Store, replier Replier, baseTTL time.Duration, logger *slog.Logger) *Arbiter {
	if baseTTL <= 0 {
		baseTTL = DefaultRequestTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Arbiter{
		store:      store,
		replier:    replier,
		baseTTL:    baseTTL,
		logger:     logger,
		remembered: make(map[string]map[string]Decision),
	}
}

// timeoutFor scales the base approval window by request kind: dependency
// installs get longer (the user may want to read the package list), file
// operations shorter.
func (a *Arbiter) timeoutFor(kind models.ApprovalKind) time.Duration {
	switch kind {
	case models.ApprovalKindDependencyInstall:
		return a.baseTTL * 3 / 2
	case models.ApprovalKindFileWrite, models.ApprovalKindFileDelete:
		return a.baseTTL * 3 / 4
	default:
		return a.baseTTL
	}
}

// fingerprint identifies an action for the per-session remember cache:
// same kind, same tool, same compacted arguments.
func fingerprint(req Request) string {
	var compact []byte
	if len(req.Arguments) > 0 {
		var v any
		if err := json.Unmarshal(req.Arguments, &v); err == nil {
			compact, _ = json.Marshal(v)
		}
	}
	return string(req.Kind) + "|" + req.ToolName + "|" + string(compact)
}

// RequestApproval suspends the caller until a human answers the request,
// the kind-specific timeout elapses, or ctx (the turn's cancel signal)
// fires. A timeout is not an error: it resolves to OutcomeTimeout and the
// caller surfaces it as a rejection the model can reason about. A prior
// approve with remember_for_session set elides the prompt for identical
// actions in the same conversation.
func (a *Arbiter) RequestApproval(ctx context.Context, req Request) (Decision, *models.ApprovalRequest, error) {
	fp := fingerprint(req)
	if d, ok := a.recalled(req.ConversationID, fp); ok {
		return d, nil, nil
	}

	timeout := a.timeoutFor(req.Kind)
	now := time.Now().UTC()
	record := &models.ApprovalRequest{
		ID:                  uuid.NewString(),
		ConversationID:      req.ConversationID,
		TurnID:              req.TurnID,
		ToolCallID:          req.ToolCallID,
		ToolName:            req.ToolName,
		Kind:                req.Kind,
		Payload:             req.Payload,
		Risk:                req.Risk,
		EstimatedDurationMs: req.EstimatedDurationMs,
		Status:              models.ApprovalStatusPending,
		CreatedAt:           now,
		ExpiresAt:           now.Add(timeout),
	}
	if err := a.store.Create(ctx, record); err != nil {
		return Decision{}, nil, fmt.Errorf("create approval request: %w", err)
	}

	data, _ := json.Marshal(record)
	payload, err := a.replier.RequestReply(ctx, record.ID, models.Event{
		Kind:           models.EventApprovalRequest,
		ConversationID: req.ConversationID,
		TurnID:         req.TurnID,
		Timestamp:      now,
		Data:           data,
	}, timeout)

	switch {
	case err == nil:
		return a.settle(record, req.ConversationID, fp, payload)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		a.finalize(record, models.ApprovalStatusRejected, "")
		return Decision{Outcome: OutcomeCancelled, Reason: "turn cancelled"}, record, nil
	default:
		a.finalize(record, models.ApprovalStatusTimedOut, "")
		return Decision{Outcome: OutcomeTimeout, Reason: "timeout"}, record, nil
	}
}

// settle applies a received ApprovalResponse to the pending record and
// converts it to a Decision.
func (a *Arbiter) settle(record *models.ApprovalRequest, conversationID, fp string, payload json.RawMessage) (Decision, *models.ApprovalRequest, error) {
	var resp models.ApprovalResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		a.finalize(record, models.ApprovalStatusRejected, "")
		return Decision{Outcome: OutcomeReject, Reason: "malformed approval response"}, record, nil
	}

	switch resp.Decision {
	case models.DecisionApprove:
		a.finalize(record, models.ApprovalStatusApproved, resp.DecidedBy)
		d := Decision{Outcome: OutcomeApprove}
		if resp.RememberForSession {
			a.remember(conversationID, fp, d)
		}
		return d, record, nil
	case models.DecisionModify:
		a.finalize(record, models.ApprovalStatusModified, resp.DecidedBy)
		return Decision{Outcome: OutcomeModify, ModifiedArguments: resp.ModifiedArguments}, record, nil
	default:
		a.finalize(record, models.ApprovalStatusRejected, resp.DecidedBy)
		reason := resp.Note
		if reason == "" {
			reason = "rejected"
		}
		return Decision{Outcome: OutcomeReject, Reason: reason}, record, nil
	}
}

// finalize writes the record's terminal status to the store. A store
// failure is logged, not surfaced: the decision has already been made and
// the turn must proceed on it.
func (a *Arbiter) finalize(record *models.ApprovalRequest, status models.ApprovalStatus, decidedBy string) {
	now := time.Now().UTC()
	record.Status = status
	record.DecidedAt = &now
	record.DecidedBy = decidedBy
	if err := a.store.Update(context.Background(), record); err != nil {
		a.logger.Warn("persist approval decision", "error", err, "request_id", record.ID, "status", status)
	}
}

// Resolve delivers an inbound approval.response to the suspended
// RequestApproval call. The first response per request wins; later ones
// (a retried client) are ignored with a log entry.
func (a *Arbiter) Resolve(ctx context.Context, resp models.ApprovalResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal approval response: %w", err)
	}
	if !a.replier.Reply(resp.RequestID, payload) {
		a.logger.Info("duplicate or late approval response ignored", "request_id", resp.RequestID, "decision", resp.Decision)
		return fmt.Errorf("approval request %s has no pending waiter", resp.RequestID)
	}
	return nil
}

// ListPending lists undecided requests, optionally scoped to one
// conversation.
func (a *Arbiter) ListPending(ctx context.Context, conversationID string) ([]*models.ApprovalRequest, error) {
	return a.store.ListPending(ctx, conversationID)
}

// Prune removes approval records older than olderThan.
func (a *Arbiter) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	return a.store.Prune(ctx, olderThan)
}

func (a *Arbiter) remember(conversationID, fp string, d Decision) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.remembered[conversationID]
	if !ok {
		m = make(map[string]Decision)
		a.remembered[conversationID] = m
	}
	m[fp] = d
}

func (a *Arbiter) recalled(conversationID, fp string) (Decision, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.remembered[conversationID][fp]
	return d, ok
}

// ForgetSession drops the remember cache for a conversation, called when
// its room closes.
func (a *Arbiter) ForgetSession(conversationID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.remembered, conversationID)
}
