package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TerminalLogName is the append-only log file the gateway writes inside the
// workspace so the user can watch what the agent ran.
const TerminalLogName = ".agent-terminal.log"

// TerminalLog appends tool activity to the workspace terminal log. Writes
// are best-effort: a log failure never fails the tool call it describes.
type TerminalLog struct {
	mu   sync.Mutex
	path string
}

// NewTerminalLog returns a TerminalLog writing to workspaceRoot's log file.
func NewTerminalLog(workspaceRoot string) *TerminalLog {
	return &TerminalLog{path: filepath.Join(workspaceRoot, TerminalLogName)}
}

// Command records a shell command and its captured output, shell-session
// style.
func (l *TerminalLog) Command(command, output string) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] $ %s\n", time.Now().UTC().Format(time.RFC3339), command)
	if output != "" {
		b.WriteString(strings.TrimRight(output, "\n"))
		b.WriteString("\n")
	}
	l.append(b.String())
}

// Tool records a non-shell tool invocation and a one-line summary of its
// result.
func (l *TerminalLog) Tool(name, summary string, isError bool) {
	status := "ok"
	if isError {
		status = "error"
	}
	if idx := strings.IndexByte(summary, '\n'); idx != -1 {
		summary = summary[:idx]
	}
	l.append(fmt.Sprintf("[%s] %s (%s): %s\n", time.Now().UTC().Format(time.RFC3339), name, status, summary))
}

func (l *TerminalLog) append(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(entry)
}
