// Package executors implements the concrete tools the gateway dispatches
// to: filesystem access, shell execution, and git plumbing, all constrained
// to a single workspace root.
package executors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/relaycore/agentcore/internal/policy"
	"github.com/relaycore/agentcore/internal/tools"
)

func schemaOf(properties map[string]any, required ...string) json.RawMessage {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func errResult(format string, args ...any) (*tools.Result, error) {
	return &tools.Result{Content: fmt.Sprintf(format, args...), IsError: true}, nil
}

// resolveErrResult converts a path-resolution failure into an error Result,
// tagging workspace escapes with the path_escape reason so callers can tell
// them apart from ordinary execution failures.
func resolveErrResult(err error) (*tools.Result, error) {
	res := &tools.Result{Content: err.Error(), IsError: true}
	if errors.Is(err, policy.ErrPathEscapesWorkspace) {
		res.Reason = "path_escape"
	}
	return res, nil
}

// ReadFileTool reads a file relative to the workspace root.
type ReadFileTool struct {
	Resolver policy.WorkspaceResolver
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read a UTF-8 text file from the workspace." }
func (t *ReadFileTool) Schema() json.RawMessage {
	return schemaOf(map[string]any{
		"path": map[string]any{"type": "string", "description": "Workspace-relative file path."},
	}, "path")
}

func (t *ReadFileTool) Execute(_ context.Context, args json.RawMessage) (*tools.Result, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return errResult("invalid arguments: %v", err)
	}
	path, err := t.Resolver.Resolve(in.Path)
	if err != nil {
		return resolveErrResult(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errResult("read file: %v", err)
	}
	return &tools.Result{Content: string(data)}, nil
}

// WriteFileTool overwrites a file relative to the workspace root, creating
// parent directories as needed.
type WriteFileTool struct {
	Resolver policy.WorkspaceResolver
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write (overwrite) a UTF-8 text file in the workspace."
}
func (t *WriteFileTool) Schema() json.RawMessage {
	return schemaOf(map[string]any{
		"path":    map[string]any{"type": "string", "description": "Workspace-relative file path."},
		"content": map[string]any{"type": "string", "description": "File content to write."},
	}, "path", "content")
}

func (t *WriteFileTool) Execute(_ context.Context, args json.RawMessage) (*tools.Result, error) {
	var in struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return errResult("invalid arguments: %v", err)
	}
	path, err := t.Resolver.Resolve(in.Path)
	if err != nil {
		return resolveErrResult(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errResult("create parent directories: %v", err)
	}
	if err := os.WriteFile(path, []byte(in.Content), 0o644); err != nil {
		return errResult("write file: %v", err)
	}
	return &tools.Result{Content: fmt.Sprintf("wrote %d bytes to %s", len(in.Content), in.Path)}, nil
}

// AppendFileTool appends to a file relative to the workspace root, creating
// it if it does not exist.
type AppendFileTool struct {
	Resolver policy.WorkspaceResolver
}

func (t *AppendFileTool) Name() string        { return "append_file" }
func (t *AppendFileTool) Description() string { return "Append text to a file in the workspace." }
func (t *AppendFileTool) Schema() json.RawMessage {
	return schemaOf(map[string]any{
		"path":    map[string]any{"type": "string"},
		"content": map[string]any{"type": "string"},
	}, "path", "content")
}

func (t *AppendFileTool) Execute(_ context.Context, args json.RawMessage) (*tools.Result, error) {
	var in struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return errResult("invalid arguments: %v", err)
	}
	path, err := t.Resolver.Resolve(in.Path)
	if err != nil {
		return resolveErrResult(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errResult("create parent directories: %v", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errResult("open file: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(in.Content); err != nil {
		return errResult("append file: %v", err)
	}
	return &tools.Result{Content: fmt.Sprintf("appended %d bytes to %s", len(in.Content), in.Path)}, nil
}

// DeleteFileTool removes a file relative to the workspace root.
type DeleteFileTool struct {
	Resolver policy.WorkspaceResolver
}

func (t *DeleteFileTool) Name() string        { return "delete_file" }
func (t *DeleteFileTool) Description() string { return "Delete a file in the workspace." }
func (t *DeleteFileTool) Schema() json.RawMessage {
	return schemaOf(map[string]any{"path": map[string]any{"type": "string"}}, "path")
}

func (t *DeleteFileTool) Execute(_ context.Context, args json.RawMessage) (*tools.Result, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return errResult("invalid arguments: %v", err)
	}
	path, err := t.Resolver.Resolve(in.Path)
	if err != nil {
		return resolveErrResult(err)
	}
	if err := os.Remove(path); err != nil {
		return errResult("delete file: %v", err)
	}
	return &tools.Result{Content: fmt.Sprintf("deleted %s", in.Path)}, nil
}

// ListFilesTool lists a directory's immediate children relative to the
// workspace root.
type ListFilesTool struct {
	Resolver policy.WorkspaceResolver
}

func (t *ListFilesTool) Name() string        { return "list_files" }
func (t *ListFilesTool) Description() string { return "List files and directories in a workspace directory." }
func (t *ListFilesTool) Schema() json.RawMessage {
	return schemaOf(map[string]any{"path": map[string]any{"type": "string", "description": "Directory path, defaults to workspace root."}})
}

func (t *ListFilesTool) Execute(_ context.Context, args json.RawMessage) (*tools.Result, error) {
	var in struct {
		Path string `json:"path"`
	}
	_ = json.Unmarshal(args, &in)
	if in.Path == "" {
		in.Path = "."
	}
	path, err := t.Resolver.Resolve(in.Path)
	if err != nil {
		return resolveErrResult(err)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return errResult("list directory: %v", err)
	}
	var content string
	for _, e := range entries {
		if e.IsDir() {
			content += e.Name() + "/\n"
		} else {
			content += e.Name() + "\n"
		}
	}
	return &tools.Result{Content: content}, nil
}

// CreateDirectoryTool creates a directory (and its parents) in the
// workspace.
type CreateDirectoryTool struct {
	Resolver policy.WorkspaceResolver
}

func (t *CreateDirectoryTool) Name() string        { return "create_directory" }
func (t *CreateDirectoryTool) Description() string { return "Create a directory in the workspace, including parents." }
func (t *CreateDirectoryTool) Schema() json.RawMessage {
	return schemaOf(map[string]any{"path": map[string]any{"type": "string"}}, "path")
}

func (t *CreateDirectoryTool) Execute(_ context.Context, args json.RawMessage) (*tools.Result, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return errResult("invalid arguments: %v", err)
	}
	path, err := t.Resolver.Resolve(in.Path)
	if err != nil {
		return resolveErrResult(err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errResult("create directory: %v", err)
	}
	return &tools.Result{Content: fmt.Sprintf("created %s", in.Path)}, nil
}
