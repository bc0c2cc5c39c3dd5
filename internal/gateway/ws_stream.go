package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaycore/agentcore/pkg/models"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsPingInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
)

// clientFrame is the envelope for client-originated socket events:
// approval.response and stop_generation.
type clientFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// handleWebSocket serves GET /ws?conversation_id=... as the bidirectional
// streaming connection: server events flow out as JSON frames; the client
// sends approval responses and stop requests back on the same socket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		http.Error(w, "conversation_id is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsMaxPayloadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	events, unsubscribe := s.bus.Subscribe(conversationID)
	defer func() {
		unsubscribe()
		if s.cfg.StopOnDisconnect && s.bus.SubscriberCount(conversationID) == 0 {
			if n := s.coordinator.StopConversation(conversationID); n > 0 {
				s.logger.Info("stopped turns on client disconnect", "conversation_id", conversationID, "turns", n)
			}
		}
	}()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.handleClientFrame(r.Context(), conversationID, payload)
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := s.writeEvent(conn, e); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readDone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// handleClientFrame dispatches one client-originated event.
func (s *Server) handleClientFrame(ctx context.Context, conversationID string, payload []byte) {
	var frame clientFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		s.logger.Warn("malformed client frame", "error", err, "conversation_id", conversationID)
		return
	}

	switch models.EventKind(frame.Event) {
	case models.EventApprovalResponse:
		var resp models.ApprovalResponse
		if err := json.Unmarshal(frame.Data, &resp); err != nil || resp.RequestID == "" {
			s.logger.Warn("malformed approval response", "conversation_id", conversationID)
			return
		}
		if err := s.arbiter.Resolve(ctx, resp); err != nil {
			s.logger.Info("approval response not delivered", "error", err, "request_id", resp.RequestID)
			return
		}
		s.publishApprovalResponse(conversationID, resp)
	case models.EventStopGeneration:
		var stop struct {
			TurnID string `json:"turn_id"`
		}
		if err := json.Unmarshal(frame.Data, &stop); err != nil || stop.TurnID == "" {
			s.logger.Warn("malformed stop_generation frame", "conversation_id", conversationID)
			return
		}
		s.coordinator.Stop(stop.TurnID)
	default:
		s.logger.Debug("ignoring unknown client frame", "event", frame.Event)
	}
}

// publishApprovalResponse echoes a delivered approval decision to every
// subscriber of the conversation, so a second client watching the same
// stream sees the request settle.
func (s *Server) publishApprovalResponse(conversationID string, resp models.ApprovalResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	s.bus.Publish(models.Event{
		Kind:           models.EventApprovalResponse,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
		Data:           payload,
	})
}

func (s *Server) writeEvent(conn *websocket.Conn, e models.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("marshal event", "error", err)
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}
