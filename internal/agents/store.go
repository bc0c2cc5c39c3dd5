// Package agents resolves the agent configuration that governs a
// conversation's turns. Full agent CRUD and persistence is an external
// collaborator outside this system's scope; StaticStore covers the common
// single-agent deployment by binding every conversation to one configured
// default.
package agents

import (
	"context"

	"github.com/relaycore/agentcore/pkg/models"
)

// StaticStore returns the same Agent for every conversation. It satisfies
// turn.AgentStore.
type StaticStore struct {
	agent *models.Agent
}

// NewStaticStore returns a StaticStore bound to agent. A copy is taken so
// callers can't mutate it out from under in-flight turns.
func NewStaticStore(agent models.Agent) *StaticStore {
	a := agent
	return &StaticStore{agent: &a}
}

// GetAgent always returns the configured default agent; conversationID is
// accepted only to satisfy the interface a multi-agent store would need.
func (s *StaticStore) GetAgent(_ context.Context, _ string) (*models.Agent, error) {
	return s.agent, nil
}
