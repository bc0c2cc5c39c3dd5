package react

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/relaycore/agentcore/pkg/models"
)

// planTriggers are the user-message substrings that send a turn through the
// dedicated planning pass before its first reasoning step. Matching is
// case-insensitive on the user's text.
var planTriggers = []string{
	"create app", "build app", "setup project", "initialize project",
	"create react", "create next", "create vue",
	"react app", "next app", "vue app",
	"implement", "develop", "build a",
}

// MatchesPlanHeuristic reports whether userMessage looks like a multi-step
// build request that warrants a task plan.
func MatchesPlanHeuristic(userMessage string) bool {
	lower := strings.ToLower(userMessage)
	for _, t := range planTriggers {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// planPrompt is the instruction the dedicated planning call sends alongside
// the user's request.
const planPrompt = `Break the following request into an ordered task plan. Reply with a single JSON object, no prose:
{"objective": "...", "description": "...", "milestones": [{"title": "...", "description": "...", "type": "setup|install|configure|build|verify", "estimated_tool_calls": 1, "requires_approval": false}]}

Request: `

// planDocument is the lenient shape the planning response is decoded into.
type planDocument struct {
	Objective   string `json:"objective"`
	Description string `json:"description"`
	Milestones  []struct {
		Title              string `json:"title"`
		Description        string `json:"description"`
		Type               string `json:"type"`
		EstimatedToolCalls int    `json:"estimated_tool_calls"`
		RequiresApproval   bool   `json:"requires_approval"`
	} `json:"milestones"`
}

// ExtractPlan scans text for the first balanced JSON object and decodes it
// as a task plan. Models wrap JSON in prose and code fences more often than
// not, so extraction is positional rather than full-document. Returns nil
// when no parseable plan is present; the caller then skips planning
// entirely rather than failing the turn.
func ExtractPlan(text string) *models.TaskPlan {
	body, ok := firstBalancedObject(text)
	if !ok {
		return nil
	}
	var doc planDocument
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil
	}
	if len(doc.Milestones) == 0 {
		return nil
	}

	plan := &models.TaskPlan{
		ID:          uuid.NewString(),
		Objective:   doc.Objective,
		Description: doc.Description,
	}
	for _, m := range doc.Milestones {
		if strings.TrimSpace(m.Title) == "" {
			continue
		}
		plan.Milestones = append(plan.Milestones, models.Milestone{
			ID:                 uuid.NewString(),
			Title:              m.Title,
			Description:        m.Description,
			Type:               m.Type,
			EstimatedToolCalls: m.EstimatedToolCalls,
			RequiresApproval:   m.RequiresApproval,
			Status:             models.MilestonePending,
		})
	}
	if len(plan.Milestones) == 0 {
		return nil
	}
	return plan
}

// firstBalancedObject returns the first `{...}` span in text whose braces
// balance, skipping braces inside JSON string literals.
func firstBalancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// NextPending returns the first pending milestone, or nil when every
// milestone has started or finished.
func NextPending(plan *models.TaskPlan) *models.Milestone {
	if plan == nil {
		return nil
	}
	for i := range plan.Milestones {
		if plan.Milestones[i].Status == models.MilestonePending {
			return &plan.Milestones[i]
		}
	}
	return nil
}

// CurrentInProgress returns the milestone currently in progress, or nil.
func CurrentInProgress(plan *models.TaskPlan) *models.Milestone {
	if plan == nil {
		return nil
	}
	for i := range plan.Milestones {
		if plan.Milestones[i].Status == models.MilestoneInProgress {
			return &plan.Milestones[i]
		}
	}
	return nil
}

// IsComplete reports whether every milestone has reached a terminal state
// (completed or failed).
func IsComplete(plan *models.TaskPlan) bool {
	if plan == nil {
		return true
	}
	for _, m := range plan.Milestones {
		if m.Status != models.MilestoneCompleted && m.Status != models.MilestoneFailed {
			return false
		}
	}
	return true
}
