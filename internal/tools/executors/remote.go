package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/relaycore/agentcore/internal/tools"
)

// RemoteClient speaks the local executor service's HTTP interface:
// POST {base_url}/tools/execute with a tool name and parameters, getting
// back output, an error string, and an exit code. Deployments that isolate
// tool execution in a separate container register RemoteTools bound to one
// client instead of the in-process executors.
type RemoteClient struct {
	baseURL string
	client  *http.Client
}

// NewRemoteClient builds a client for baseURL. timeout <= 0 uses a default
// slightly above the executor's own command timeout so the remote side
// times out first and reports cleanly.
func NewRemoteClient(baseURL string, timeout time.Duration) *RemoteClient {
	if timeout <= 0 {
		timeout = MaxTimeout + 10*time.Second
	}
	return &RemoteClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type remoteExecuteRequest struct {
	Tool       string          `json:"tool"`
	Parameters json.RawMessage `json:"parameters"`
}

type remoteExecuteResponse struct {
	Success    bool   `json:"success"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// Execute forwards one tool invocation to the executor service.
func (c *RemoteClient) Execute(ctx context.Context, tool string, parameters json.RawMessage) (*tools.Result, error) {
	payload, err := json.Marshal(remoteExecuteRequest{Tool: tool, Parameters: parameters})
	if err != nil {
		return nil, fmt.Errorf("marshal execute request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tools/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build execute request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call executor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &tools.Result{Content: fmt.Sprintf("executor returned status %d", resp.StatusCode), IsError: true}, nil
	}

	var decoded remoteExecuteResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode executor response: %w", err)
	}

	content := decoded.Output
	if !decoded.Success && decoded.Error != "" {
		if content != "" {
			content += "\n"
		}
		content += decoded.Error
	}
	return &tools.Result{Content: content, IsError: !decoded.Success, ExitCode: decoded.ExitCode}, nil
}

// RemoteTool is a tools.Tool whose execution is forwarded to a RemoteClient.
// Name, description, and schema mirror the in-process tool it stands in
// for; only the execution side moves across the HTTP boundary.
type RemoteTool struct {
	ToolName        string
	ToolDescription string
	ToolSchema      json.RawMessage
	Client          *RemoteClient
}

func (t *RemoteTool) Name() string            { return t.ToolName }
func (t *RemoteTool) Description() string     { return t.ToolDescription }
func (t *RemoteTool) Schema() json.RawMessage { return t.ToolSchema }

func (t *RemoteTool) Execute(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
	return t.Client.Execute(ctx, t.ToolName, args)
}
