package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/relaycore/agentcore/pkg/models"
)

type sendMessageRequest struct {
	Content string `json:"content"`
}

type sendMessageResponse struct {
	TurnID    string `json:"turn_id"`
	MessageID string `json:"message_id"`
}

// handleConversationMessages serves POST /conversations/{id}/messages: it
// persists the user message, creates the streaming assistant message, and
// enqueues the turn, answering 202 with both IDs. A repeated identical
// message inside the idempotency window returns the original turn's IDs.
func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := pathSegment(r.URL.Path, "/conversations/", "/messages")
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}

	t, assistant, err := s.coordinator.StartTurn(r.Context(), conversationID, req.Content)
	if err != nil {
		s.logger.Error("start turn", "error", err, "conversation_id", conversationID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to start turn"})
		return
	}
	writeJSON(w, http.StatusAccepted, sendMessageResponse{TurnID: t.ID, MessageID: assistant.ID})
}

// handleTurnStop serves POST /turns/{turn_id}/stop: the turn is cancelled
// asynchronously and the call returns 204. Stopping an unknown or already
// finished turn is also 204, so repeated stops converge on the same result.
func (s *Server) handleTurnStop(w http.ResponseWriter, r *http.Request) {
	turnID, ok := pathSegment(r.URL.Path, "/turns/", "/stop")
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.coordinator.Stop(turnID)
	w.WriteHeader(http.StatusNoContent)
}

// handleApprovalResolve serves POST /approvals/{id}/resolve, the HTTP
// alternative to answering an approval.request over the socket.
func (s *Server) handleApprovalResolve(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathSegment(r.URL.Path, "/approvals/", "/resolve")
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var resp models.ApprovalResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	resp.RequestID = requestID

	if err := s.arbiter.Resolve(r.Context(), resp); err != nil {
		// Duplicate or expired: the first response already won.
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// pathSegment extracts the path component between prefix and suffix, e.g.
// pathSegment("/conversations/abc/messages", "/conversations/", "/messages")
// returns ("abc", true).
func pathSegment(path, prefix, suffix string) (string, bool) {
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return "", false
	}
	seg := strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
	if seg == "" || strings.Contains(seg, "/") {
		return "", false
	}
	return seg, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
