// Package policy classifies tool-call risk and enforces workspace path
// containment ahead of execution.
package policy

import (
	"strings"

	"github.com/relaycore/agentcore/pkg/models"
)

// riskRule binds a matcher to the risk level it assigns. Rules are checked
// in descending risk order; the first match wins, so a command containing
// both a critical and a medium trigger classifies critical.
type riskRule struct {
	match func(cmd string) bool
	risk  models.RiskLevel
}

func contains(sub string) func(string) bool {
	return func(cmd string) bool { return strings.Contains(cmd, sub) }
}

// shellRules is the ordered trigger table for shell commands. Matching is
// case-sensitive on the literal command string: `RM -RF /` is not the same
// command to a shell, so it isn't to the classifier either.
var shellRules = []riskRule{
	// critical: data-destroying or device-level commands
	{contains("rm -rf /"), models.RiskCritical},
	{contains("sudo rm"), models.RiskCritical},
	{contains("dd if="), models.RiskCritical},
	{contains("mkfs"), models.RiskCritical},
	{contains("format "), models.RiskCritical},
	{contains("> /dev/sd"), models.RiskCritical},

	// high: recursive deletes, global installs, force pushes, privilege use
	{contains("rm -rf "), models.RiskHigh},
	{contains("npm install -g"), models.RiskHigh},
	{matchNpxCreate, models.RiskHigh},
	{contains("git push --force"), models.RiskHigh},
	{contains("docker run"), models.RiskHigh},
	{contains("chmod 777"), models.RiskHigh},
	{contains("sudo"), models.RiskHigh},

	// medium: dependency installs and history-touching git operations
	{contains("npm install"), models.RiskMedium},
	{contains("yarn add"), models.RiskMedium},
	{contains("pnpm add"), models.RiskMedium},
	{contains("git push"), models.RiskMedium},
	{contains("git reset"), models.RiskMedium},
	{contains("git commit"), models.RiskMedium},
}

// matchNpxCreate matches `npx create-*` scaffolding commands (create-react-app,
// create-next-app, ...), which pull and execute arbitrary packages.
func matchNpxCreate(cmd string) bool {
	idx := strings.Index(cmd, "npx ")
	for idx != -1 {
		rest := strings.TrimLeft(cmd[idx+len("npx "):], " ")
		if strings.HasPrefix(rest, "create-") {
			return true
		}
		next := strings.Index(cmd[idx+1:], "npx ")
		if next == -1 {
			break
		}
		idx += 1 + next
	}
	return false
}

// ClassifyShellCommand runs cmd through the ordered trigger table and
// returns the risk of the first matching rule, or low when nothing matches
// (reads, lists, status checks, formatters).
func ClassifyShellCommand(cmd string) models.RiskLevel {
	for _, rule := range shellRules {
		if rule.match(cmd) {
			return rule.risk
		}
	}
	return models.RiskLow
}

// toolRisk fixes the base risk for non-shell tools by kind: deletes and
// overwrites are medium, everything read-only is low. execute_command is
// classified per-invocation by ClassifyShellCommand instead.
var toolRisk = map[string]models.RiskLevel{
	"write_file":  models.RiskMedium,
	"delete_file": models.RiskMedium,
	"git_commit":  models.RiskMedium,
	"git_push":    models.RiskMedium,
}

// ClassifyTool returns the baseline risk for a named tool absent any
// argument-level analysis. Callers combine this with ClassifyShellCommand
// for the execute_command tool.
func ClassifyTool(name string) models.RiskLevel {
	if risk, ok := toolRisk[name]; ok {
		return risk
	}
	return models.RiskLow
}

// installPrefixes mark commands whose approval should be presented as a
// dependency install rather than a generic command execution.
var installPrefixes = []string{"npm install", "npm i ", "yarn add", "pnpm add", "pip install", "go get"}

// ClassifyApprovalKind maps a tool call to the ApprovalKind a pending
// request is presented under, which also selects the kind-specific approval
// timeout.
func ClassifyApprovalKind(toolName, command string) models.ApprovalKind {
	switch toolName {
	case "write_file", "append_file", "create_directory":
		return models.ApprovalKindFileWrite
	case "delete_file":
		return models.ApprovalKindFileDelete
	case "git_status", "git_diff", "git_commit", "git_push":
		return models.ApprovalKindGitOp
	}
	for _, p := range installPrefixes {
		if strings.Contains(command, p) {
			return models.ApprovalKindDependencyInstall
		}
	}
	return models.ApprovalKindCommandExecution
}

// riskRank orders risk levels for comparisons.
func riskRank(r models.RiskLevel) int {
	switch r {
	case models.RiskCritical:
		return 3
	case models.RiskHigh:
		return 2
	case models.RiskMedium:
		return 1
	default:
		return 0
	}
}

// Max returns whichever of a, b ranks higher.
func Max(a, b models.RiskLevel) models.RiskLevel {
	if riskRank(b) > riskRank(a) {
		return b
	}
	return a
}

// AtLeast reports whether r ranks at or above threshold.
func AtLeast(r, threshold models.RiskLevel) bool {
	return riskRank(r) >= riskRank(threshold)
}

// actionTools are the side-effecting tools gated by
// workspace_policy.allow_actions; contextReadTools are the read-only ones
// gated by allow_context_reads.
var actionTools = map[string]struct{}{
	"write_file": {}, "append_file": {}, "delete_file": {}, "create_directory": {},
	"execute_command": {}, "git_commit": {}, "git_push": {},
}

var contextReadTools = map[string]struct{}{
	"read_file": {}, "list_files": {}, "git_status": {}, "git_diff": {},
}

// ToolPermitted reports whether an agent's workspace policy allows the
// named tool at all. Tools outside both sets (none in the canonical set)
// default to permitted.
func ToolPermitted(name string, wp models.WorkspacePolicy) bool {
	if _, ok := actionTools[name]; ok {
		return wp.AllowActions
	}
	if _, ok := contextReadTools[name]; ok {
		return wp.AllowContextReads
	}
	return true
}
