package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"

	"github.com/relaycore/agentcore/internal/policy"
	"github.com/relaycore/agentcore/internal/tools"
)

func runGit(ctx context.Context, dir string, args ...string) (*tools.Result, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return &tools.Result{Content: out.String() + "\n" + err.Error(), IsError: true}, nil
	}
	return &tools.Result{Content: out.String()}, nil
}

// GitStatusTool reports the workspace's working tree status.
type GitStatusTool struct {
	Resolver policy.WorkspaceResolver
}

func (t *GitStatusTool) Name() string            { return "git_status" }
func (t *GitStatusTool) Description() string     { return "Show the git working tree status." }
func (t *GitStatusTool) Schema() json.RawMessage { return schemaOf(map[string]any{}) }

func (t *GitStatusTool) Execute(ctx context.Context, _ json.RawMessage) (*tools.Result, error) {
	return runGit(ctx, t.Resolver.Root, "status", "--porcelain=v1", "-b")
}

// GitDiffTool reports the workspace's unstaged (or staged) diff.
type GitDiffTool struct {
	Resolver policy.WorkspaceResolver
}

func (t *GitDiffTool) Name() string        { return "git_diff" }
func (t *GitDiffTool) Description() string { return "Show the git diff of unstaged or staged changes." }
func (t *GitDiffTool) Schema() json.RawMessage {
	return schemaOf(map[string]any{
		"staged": map[string]any{"type": "boolean", "description": "Show staged changes instead of unstaged."},
	})
}

func (t *GitDiffTool) Execute(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
	var in struct {
		Staged bool `json:"staged"`
	}
	_ = json.Unmarshal(args, &in)
	if in.Staged {
		return runGit(ctx, t.Resolver.Root, "diff", "--staged")
	}
	return runGit(ctx, t.Resolver.Root, "diff")
}

// GitCommitTool stages all changes and creates a commit.
type GitCommitTool struct {
	Resolver policy.WorkspaceResolver
}

func (t *GitCommitTool) Name() string        { return "git_commit" }
func (t *GitCommitTool) Description() string { return "Stage all changes and create a git commit." }
func (t *GitCommitTool) Schema() json.RawMessage {
	return schemaOf(map[string]any{
		"message": map[string]any{"type": "string", "description": "Commit message."},
	}, "message")
}

func (t *GitCommitTool) Execute(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
	var in struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return errResult("invalid arguments: %v", err)
	}
	if res, err := runGit(ctx, t.Resolver.Root, "add", "-A"); err != nil || res.IsError {
		return res, err
	}
	return runGit(ctx, t.Resolver.Root, "commit", "-m", in.Message)
}

// GitPushTool pushes the current branch to its upstream remote.
type GitPushTool struct {
	Resolver policy.WorkspaceResolver
}

func (t *GitPushTool) Name() string        { return "git_push" }
func (t *GitPushTool) Description() string { return "Push the current branch to its remote." }
func (t *GitPushTool) Schema() json.RawMessage {
	return schemaOf(map[string]any{
		"remote": map[string]any{"type": "string", "description": "Remote name, defaults to origin."},
		"branch": map[string]any{"type": "string", "description": "Branch name, defaults to the current branch."},
	})
}

func (t *GitPushTool) Execute(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
	var in struct {
		Remote string `json:"remote"`
		Branch string `json:"branch"`
	}
	_ = json.Unmarshal(args, &in)
	if in.Remote == "" {
		in.Remote = "origin"
	}
	gitArgs := []string{"push", in.Remote}
	if in.Branch != "" {
		gitArgs = append(gitArgs, in.Branch)
	}
	return runGit(ctx, t.Resolver.Root, gitArgs...)
}
