package executors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRemoteClient_Execute(t *testing.T) {
	var gotPath string
	var gotReq remoteExecuteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		exit := 0
		_ = json.NewEncoder(w).Encode(remoteExecuteResponse{Success: true, Output: "three files", ExitCode: &exit})
	}))
	defer srv.Close()

	client := NewRemoteClient(srv.URL, 0)
	res, err := client.Execute(context.Background(), "list_files", json.RawMessage(`{"path":"src"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError || res.Content != "three files" {
		t.Fatalf("unexpected result %+v", res)
	}
	if gotPath != "/tools/execute" {
		t.Errorf("path = %q, want /tools/execute", gotPath)
	}
	if gotReq.Tool != "list_files" {
		t.Errorf("tool = %q", gotReq.Tool)
	}
}

func TestRemoteClient_ExecuteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		exit := 2
		_ = json.NewEncoder(w).Encode(remoteExecuteResponse{Success: false, Output: "partial", Error: "command failed", ExitCode: &exit})
	}))
	defer srv.Close()

	client := NewRemoteClient(srv.URL, 0)
	res, err := client.Execute(context.Background(), "execute_command", json.RawMessage(`{"command":"false"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected error result")
	}
	if res.Content != "partial\ncommand failed" {
		t.Errorf("content = %q", res.Content)
	}
	if res.ExitCode == nil || *res.ExitCode != 2 {
		t.Errorf("exit code = %v", res.ExitCode)
	}
}

func TestRemoteTool_ForwardsToClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(remoteExecuteResponse{Success: true, Output: "ok"})
	}))
	defer srv.Close()

	tool := &RemoteTool{
		ToolName:        "read_file",
		ToolDescription: "remote read",
		ToolSchema:      json.RawMessage(`{"type":"object"}`),
		Client:          NewRemoteClient(srv.URL, 0),
	}
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"a"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError || res.Content != "ok" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRemoteClient_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewRemoteClient(srv.URL, 0)
	res, err := client.Execute(context.Background(), "read_file", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected error result for non-200 status")
	}
}
