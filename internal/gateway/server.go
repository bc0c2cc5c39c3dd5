// Package gateway exposes the execution core over HTTP and WebSocket: one
// endpoint to send a message and kick off a turn, one to stop an in-flight
// turn, and a bidirectional streaming socket that forwards the event bus to
// a client and accepts approval responses and stop requests back.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaycore/agentcore/internal/eventbus"
	"github.com/relaycore/agentcore/pkg/models"
)

// Config configures a Server's listening address and disconnect policy.
type Config struct {
	Host string
	Port int

	// StopOnDisconnect cancels a conversation's in-flight turns when its
	// last streaming subscriber goes away. Off by default: a turn is
	// allowed to finish for a client that reconnects later.
	StopOnDisconnect bool
}

// TurnRunner is the subset of *turn.Coordinator the gateway depends on.
type TurnRunner interface {
	StartTurn(ctx context.Context, conversationID, content string) (*models.Turn, *models.Message, error)
	Stop(turnID string) bool
	StopConversation(conversationID string) int
}

// Arbiter is the subset of *approval.Arbiter the gateway depends on.
type Arbiter interface {
	Resolve(ctx context.Context, resp models.ApprovalResponse) error
}

// Server wires the execution core's components to the outside world.
type Server struct {
	cfg         Config
	coordinator TurnRunner
	bus         *eventbus.Bus
	arbiter     Arbiter
	logger      *slog.Logger
	startTime   time.Time

	httpServer   *http.Server
	httpListener net.Listener
	upgrader     websocket.Upgrader
}

// New builds a Server. logger may be nil, in which case slog.Default() is
// used.
func New(cfg Config, coordinator TurnRunner, bus *eventbus.Bus, arbiter Arbiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:         cfg,
		coordinator: coordinator,
		bus:         bus,
		arbiter:     arbiter,
		logger:      logger,
		startTime:   time.Now().UTC(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Start begins serving HTTP in the background. Call Stop to shut down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/conversations/", s.handleConversationMessages)
	mux.HandleFunc("/turns/", s.handleTurnStop)
	mux.HandleFunc("/approvals/", s.handleApprovalResolve)
	mux.HandleFunc("/ws", s.handleWebSocket)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpServer = server
	s.httpListener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("gateway listening", "addr", addr)
	return nil
}

// Stop shuts the HTTP server down, waiting up to the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"started_at": s.startTime,
	})
}
