package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/relaycore/agentcore/internal/eventbus"
	"github.com/relaycore/agentcore/pkg/models"
)

type stubRunner struct {
	mu          sync.Mutex
	turn        *models.Turn
	message     *models.Message
	err         error
	started     []string
	stopped     []string
	stoppedConv []string
}

func (r *stubRunner) StartTurn(_ context.Context, conversationID, content string) (*models.Turn, *models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, content)
	return r.turn, r.message, r.err
}

func (r *stubRunner) Stop(turnID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, turnID)
	return true
}

func (r *stubRunner) StopConversation(conversationID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stoppedConv = append(r.stoppedConv, conversationID)
	return 1
}

func (r *stubRunner) stoppedTurns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stopped...)
}

type stubArbiter struct {
	mu       sync.Mutex
	resolved []models.ApprovalResponse
	err      error
}

func (a *stubArbiter) Resolve(_ context.Context, resp models.ApprovalResponse) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resolved = append(a.resolved, resp)
	return a.err
}

func (a *stubArbiter) resolvedResponses() []models.ApprovalResponse {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.ApprovalResponse(nil), a.resolved...)
}

func newTestServer(runner TurnRunner, arbiter Arbiter) *Server {
	return New(Config{}, runner, eventbus.New(eventbus.DefaultBackpressureConfig()), arbiter, slog.Default())
}

func TestHandleConversationMessages_Accepted(t *testing.T) {
	runner := &stubRunner{
		turn:    &models.Turn{ID: "turn-1", Status: models.TurnStatusRunning, MessageID: "msg-1"},
		message: &models.Message{ID: "msg-1"},
	}
	s := newTestServer(runner, nil)

	body, _ := json.Marshal(sendMessageRequest{Content: "hello"})
	req := httptest.NewRequest("POST", "/conversations/conv-1/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleConversationMessages(rec, req)

	if rec.Code != 202 {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var resp sendMessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TurnID != "turn-1" || resp.MessageID != "msg-1" {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(runner.started) != 1 || runner.started[0] != "hello" {
		t.Errorf("StartTurn called with %+v", runner.started)
	}
}

func TestHandleConversationMessages_EmptyContent(t *testing.T) {
	s := newTestServer(&stubRunner{}, nil)

	body, _ := json.Marshal(sendMessageRequest{Content: "  "})
	req := httptest.NewRequest("POST", "/conversations/conv-1/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleConversationMessages(rec, req)

	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleConversationMessages_StartFailure(t *testing.T) {
	s := newTestServer(&stubRunner{err: errors.New("store down")}, nil)

	body, _ := json.Marshal(sendMessageRequest{Content: "hi"})
	req := httptest.NewRequest("POST", "/conversations/conv-1/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleConversationMessages(rec, req)

	if rec.Code != 500 {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestHandleTurnStop_ReturnsNoContent(t *testing.T) {
	runner := &stubRunner{}
	s := newTestServer(runner, nil)

	req := httptest.NewRequest("POST", "/turns/turn-1/stop", nil)
	rec := httptest.NewRecorder()
	s.handleTurnStop(rec, req)

	if rec.Code != 204 {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := runner.stoppedTurns(); len(got) != 1 || got[0] != "turn-1" {
		t.Errorf("expected Stop(turn-1), got %v", got)
	}

	// Repeated stop converges on the same result.
	rec2 := httptest.NewRecorder()
	s.handleTurnStop(rec2, httptest.NewRequest("POST", "/turns/turn-1/stop", nil))
	if rec2.Code != 204 {
		t.Fatalf("repeat status = %d, want 204", rec2.Code)
	}
}

func TestHandleApprovalResolve(t *testing.T) {
	arbiter := &stubArbiter{}
	s := newTestServer(&stubRunner{}, arbiter)

	body, _ := json.Marshal(models.ApprovalResponse{Decision: models.DecisionApprove, DecidedBy: "operator-1"})
	httpReq := httptest.NewRequest("POST", "/approvals/req-1/resolve", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleApprovalResolve(rec, httpReq)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	resolved := arbiter.resolvedResponses()
	if len(resolved) != 1 || resolved[0].RequestID != "req-1" || resolved[0].Decision != models.DecisionApprove {
		t.Errorf("unexpected resolutions %+v", resolved)
	}
}

func TestHandleApprovalResolve_DuplicateConflicts(t *testing.T) {
	arbiter := &stubArbiter{err: errors.New("no pending waiter")}
	s := newTestServer(&stubRunner{}, arbiter)

	body, _ := json.Marshal(models.ApprovalResponse{Decision: models.DecisionApprove})
	httpReq := httptest.NewRequest("POST", "/approvals/req-1/resolve", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleApprovalResolve(rec, httpReq)

	if rec.Code != 409 {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestPathSegment(t *testing.T) {
	tests := []struct {
		path, prefix, suffix string
		want                 string
		wantOK               bool
	}{
		{"/conversations/abc/messages", "/conversations/", "/messages", "abc", true},
		{"/conversations//messages", "/conversations/", "/messages", "", false},
		{"/conversations/a/b/messages", "/conversations/", "/messages", "", false},
		{"/turns/turn-1/stop", "/turns/", "/stop", "turn-1", true},
	}
	for _, tt := range tests {
		got, ok := pathSegment(tt.path, tt.prefix, tt.suffix)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("pathSegment(%q) = (%q, %v), want (%q, %v)", tt.path, got, ok, tt.want, tt.wantOK)
		}
	}
}
