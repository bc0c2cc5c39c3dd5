package executors

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/relaycore/agentcore/internal/policy"
)

func newWorkspace(t *testing.T) policy.WorkspaceResolver {
	t.Helper()
	dir := t.TempDir()
	return policy.WorkspaceResolver{Root: dir}
}

func TestWriteThenReadFile(t *testing.T) {
	ws := newWorkspace(t)
	write := &WriteFileTool{Resolver: ws}
	read := &ReadFileTool{Resolver: ws}

	args, _ := json.Marshal(map[string]string{"path": "notes/a.txt", "content": "hello"})
	if res, err := write.Execute(context.Background(), args); err != nil || res.IsError {
		t.Fatalf("write failed: %v %+v", err, res)
	}

	args, _ = json.Marshal(map[string]string{"path": "notes/a.txt"})
	res, err := read.Execute(context.Background(), args)
	if err != nil || res.IsError {
		t.Fatalf("read failed: %v %+v", err, res)
	}
	if res.Content != "hello" {
		t.Errorf("got %q, want hello", res.Content)
	}
}

func TestReadFile_PathEscape(t *testing.T) {
	ws := newWorkspace(t)
	read := &ReadFileTool{Resolver: ws}

	args, _ := json.Marshal(map[string]string{"path": "../../etc/passwd"})
	res, err := read.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected Go error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected error result for a path escaping the workspace")
	}
	if res.Reason != "path_escape" {
		t.Errorf("Reason = %q, want path_escape", res.Reason)
	}
}

func TestWriteFile_PathEscape(t *testing.T) {
	ws := newWorkspace(t)
	write := &WriteFileTool{Resolver: ws}

	args, _ := json.Marshal(map[string]string{"path": "../outside.txt", "content": "x"})
	res, err := write.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected Go error: %v", err)
	}
	if !res.IsError || res.Reason != "path_escape" {
		t.Fatalf("expected path_escape result, got %+v", res)
	}
}

func TestDeleteFile(t *testing.T) {
	ws := newWorkspace(t)
	target := filepath.Join(ws.Root, "doomed.txt")
	if err := os.WriteFile(target, []byte("bye"), 0o644); err != nil {
		t.Fatal(err)
	}

	del := &DeleteFileTool{Resolver: ws}
	args, _ := json.Marshal(map[string]string{"path": "doomed.txt"})
	if res, err := del.Execute(context.Background(), args); err != nil || res.IsError {
		t.Fatalf("delete failed: %v %+v", err, res)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatal("expected file to be deleted")
	}
}

func TestListFiles(t *testing.T) {
	ws := newWorkspace(t)
	if err := os.WriteFile(filepath.Join(ws.Root, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(ws.Root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	list := &ListFilesTool{Resolver: ws}
	res, err := list.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil || res.IsError {
		t.Fatalf("list failed: %v %+v", err, res)
	}
	if res.Content == "" {
		t.Fatal("expected non-empty listing")
	}
}

func TestCreateDirectory(t *testing.T) {
	ws := newWorkspace(t)
	create := &CreateDirectoryTool{Resolver: ws}
	args, _ := json.Marshal(map[string]string{"path": "a/b/c"})
	if res, err := create.Execute(context.Background(), args); err != nil || res.IsError {
		t.Fatalf("create failed: %v %+v", err, res)
	}
	info, err := os.Stat(filepath.Join(ws.Root, "a", "b", "c"))
	if err != nil || !info.IsDir() {
		t.Fatal("expected nested directory to exist")
	}
}
