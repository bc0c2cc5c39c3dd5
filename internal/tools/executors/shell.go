package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/relaycore/agentcore/internal/policy"
	"github.com/relaycore/agentcore/internal/tools"
)

// devServerRe matches npm lifecycle invocations that start a server and
// never exit on their own.
var devServerRe = regexp.MustCompile(`npm (run )?(dev|start|serve)`)

// longRunningPatterns are literal markers of commands expected to run
// indefinitely: dev servers, watchers, process supervisors.
var longRunningPatterns = []string{
	"vite", "next dev", "yarn dev", "pnpm dev",
	"react-scripts start", "ng serve", "nodemon",
	"watch", "webpack serve",
}

// IsLongRunning reports whether cmd matches a known dev-server or watcher
// invocation and should therefore be backgrounded rather than subjected to
// the short-command timeout.
func IsLongRunning(cmd string) bool {
	if devServerRe.MatchString(cmd) {
		return true
	}
	for _, p := range longRunningPatterns {
		if strings.Contains(cmd, p) {
			return true
		}
	}
	return false
}

const (
	// DefaultTimeout bounds an ordinary (non-long-running) command,
	// matching the SHORT_COMMAND_TIMEOUT_MS default.
	DefaultTimeout = 30 * time.Second

	// MaxTimeout caps any per-call timeout override. A command that needs
	// longer than this should be backgrounded instead.
	MaxTimeout = 300 * time.Second

	// CaptureWindow is how long a backgrounded command's initial output is
	// collected before the call returns with the captured prefix and a PID.
	CaptureWindow = 3 * time.Second

	// termGrace is how long a cancelled command gets between SIGTERM and
	// SIGKILL.
	termGrace = 2 * time.Second
)

// ExecuteCommandTool runs a shell command inside the workspace root. Its
// risk is classified per-invocation by internal/policy at the gateway
// layer, not hardcoded here.
type ExecuteCommandTool struct {
	Resolver policy.WorkspaceResolver

	// Timeout overrides DefaultTimeout when positive; serve wiring sets it
	// from SHORT_COMMAND_TIMEOUT_MS.
	Timeout time.Duration
}

func (t *ExecuteCommandTool) Name() string { return "execute_command" }
func (t *ExecuteCommandTool) Description() string {
	return "Run a shell command in the workspace. Commands matching a known dev-server pattern are started in the background: the first seconds of output are returned along with the process ID."
}
func (t *ExecuteCommandTool) Schema() json.RawMessage {
	return schemaOf(map[string]any{
		"command": map[string]any{"type": "string", "description": "Shell command to execute."},
		"cwd":     map[string]any{"type": "string", "description": "Working directory, relative to the workspace root."},
		"timeout_seconds": map[string]any{
			"type":        "integer",
			"minimum":     0,
			"description": "Override the default timeout in seconds (capped at 300, ignored for long-running commands).",
		},
	}, "command")
}

func (t *ExecuteCommandTool) Execute(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
	var in struct {
		Command        string `json:"command"`
		Cwd            string `json:"cwd"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return errResult("invalid arguments: %v", err)
	}
	command := strings.TrimSpace(in.Command)
	if command == "" {
		return errResult("command is required")
	}

	dir := t.Resolver.Root
	if in.Cwd != "" {
		resolved, err := t.Resolver.Resolve(in.Cwd)
		if err != nil {
			return resolveErrResult(err)
		}
		dir = resolved
	}

	if IsLongRunning(command) {
		return t.runBackground(command, dir)
	}
	return t.runForeground(ctx, command, dir, in.TimeoutSeconds)
}

func (t *ExecuteCommandTool) timeoutFor(timeoutSeconds int) time.Duration {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	return timeout
}

func (t *ExecuteCommandTool) runForeground(ctx context.Context, command, dir string, timeoutSeconds int) (*tools.Result, error) {
	timeout := t.timeoutFor(timeoutSeconds)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = dir
	// On cancellation, give the process SIGTERM and a short grace period
	// before the runtime falls back to SIGKILL.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = termGrace

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return &tools.Result{
			Content: out.String() + "\n[command timed out after " + timeout.String() + "]",
			IsError: true,
			Reason:  "timeout",
		}, nil
	}
	if err != nil {
		return &tools.Result{Content: out.String() + "\n" + err.Error(), IsError: true, ExitCode: &exitCode}, nil
	}
	return &tools.Result{Content: out.String(), ExitCode: &exitCode}, nil
}

// runBackground starts a long-running command detached from the call's
// deadline, captures its first CaptureWindow of combined output, and
// returns that prefix plus the PID without waiting for exit. The process
// keeps running after the tool call returns; a goroutine keeps draining
// and reaps it when it eventually exits.
func (t *ExecuteCommandTool) runBackground(command, dir string) (*tools.Result, error) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errResult("pipe stdout: %v", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return errResult("start background command: %v", err)
	}
	pid := cmd.Process.Pid

	var mu sync.Mutex
	var captured bytes.Buffer
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		buf := make([]byte, 4096)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				mu.Lock()
				captured.Write(buf[:n])
				mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()
	go func() {
		<-drained
		_ = cmd.Wait()
	}()

	select {
	case <-time.After(CaptureWindow):
	case <-drained:
	}

	mu.Lock()
	prefix := captured.String()
	mu.Unlock()

	content := fmt.Sprintf("started in background (pid %d)", pid)
	if prefix != "" {
		content += "\n" + strings.TrimRight(prefix, "\n")
	}
	return &tools.Result{Content: content, PID: pid}, nil
}
