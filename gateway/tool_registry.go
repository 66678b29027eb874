// Copyright 2025 ToolGate
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"toolgate/platform/shared/logger"
	"toolgate/platform/shared/types"
)

// RegisteredTool is one externally-served tool the gateway can dispatch to
type RegisteredTool struct {
	Definition types.ToolDefinition
	Endpoint   string
	Capability ToolCapability
	Trust      ToolTrust
}

// Privileged reports whether calls to this tool go through quarantine
// evaluation on tainted sessions
func (t RegisteredTool) Privileged() bool {
	return t.Capability == CapabilityAction
}

// ToolRegistry is a thread-safe registry of external tools keyed by name
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]RegisteredTool
}

// NewToolRegistry creates an empty registry
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]RegisteredTool)}
}

// Register adds or replaces a tool. Names in the built-in namespace are
// reserved and rejected.
func (r *ToolRegistry) Register(tool RegisteredTool) error {
	if tool.Definition.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if IsBuiltinTool(tool.Definition.Name) {
		return fmt.Errorf("tool name %q is in the reserved %s namespace", tool.Definition.Name, BuiltinNamespace)
	}
	if tool.Endpoint == "" {
		return fmt.Errorf("tool %q has no endpoint", tool.Definition.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition.Name] = tool
	return nil
}

// Get returns the tool registered under name
func (r *ToolRegistry) Get(name string) (RegisteredTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Len returns the number of registered tools
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Executor dispatches a tool call to its backing implementation
type Executor interface {
	Execute(ctx context.Context, tool RegisteredTool, call ToolCall, agentID string, authCtx *AuthorizationContext) (*types.ToolCallResponse, error)
}

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPToolExecutor POSTs tool calls to external tool servers.
//
// The gateway passes the AuthorizationContext verbatim; per-team and
// per-user credential resolution is the tool server's job.
type HTTPToolExecutor struct {
	client HTTPClient
	log    *logger.Logger
}

// NewHTTPToolExecutor creates an executor with the given timeout
func NewHTTPToolExecutor(timeout time.Duration, log *logger.Logger) *HTTPToolExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPToolExecutor{
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// NewHTTPToolExecutorWithClient wraps an existing client (used in tests)
func NewHTTPToolExecutorWithClient(client HTTPClient, log *logger.Logger) *HTTPToolExecutor {
	return &HTTPToolExecutor{client: client, log: log}
}

// toolServerRequest is the envelope sent to external tool servers
type toolServerRequest struct {
	ToolCall    ToolCall              `json:"tool_call"`
	AgentID     string                `json:"agent_id"`
	AuthContext *AuthorizationContext `json:"auth_context"`
}

// toolServerReply is what external tool servers may answer with. Servers
// either return content blocks directly, a plain result string, or an
// error string; everything normalizes into the {content, isError} shape.
type toolServerReply struct {
	Content []types.ContentBlock `json:"content"`
	Result  string               `json:"result"`
	Error   string               `json:"error"`
	IsError bool                 `json:"isError"`
}

// Execute dispatches the call and normalizes the reply
func (e *HTTPToolExecutor) Execute(ctx context.Context, tool RegisteredTool, call ToolCall, agentID string, authCtx *AuthorizationContext) (*types.ToolCallResponse, error) {
	payload, err := json.Marshal(toolServerRequest{
		ToolCall:    call,
		AgentID:     agentID,
		AuthContext: authCtx,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", tool.Endpoint, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create tool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tool-Call-ID", call.ID)

	resp, err := e.client.Do(req)
	if err != nil {
		// Transport failure is an in-band tool error: the agent asked, the
		// tool did not answer
		e.log.Warn(authCtx.OrgID, call.ID, "Tool server unreachable", map[string]interface{}{
			"tool":     call.Name,
			"endpoint": tool.Endpoint,
			"error":    err.Error(),
		})
		return &types.ToolCallResponse{
			Content: []types.ContentBlock{types.TextBlock(fmt.Sprintf("tool %s is unreachable", call.Name))},
			IsError: true,
		}, nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool reply: %w", err)
	}

	if resp.StatusCode >= 500 {
		e.log.Warn(authCtx.OrgID, call.ID, "Tool server error", map[string]interface{}{
			"tool":   call.Name,
			"status": resp.StatusCode,
		})
		return &types.ToolCallResponse{
			Content: []types.ContentBlock{types.TextBlock(fmt.Sprintf("tool %s failed (status %d)", call.Name, resp.StatusCode))},
			IsError: true,
		}, nil
	}

	return normalizeReply(body), nil
}

// normalizeReply maps any tool server reply into the {content, isError}
// envelope. Non-JSON and non-array replies wrap as a single text block.
func normalizeReply(body []byte) *types.ToolCallResponse {
	var reply toolServerReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return &types.ToolCallResponse{
			Content: []types.ContentBlock{types.TextBlock(string(body))},
			IsError: false,
		}
	}

	if reply.Error != "" {
		return &types.ToolCallResponse{
			Content: []types.ContentBlock{types.TextBlock(reply.Error)},
			IsError: true,
		}
	}

	if len(reply.Content) > 0 {
		return &types.ToolCallResponse{Content: reply.Content, IsError: reply.IsError}
	}

	if reply.Result != "" {
		return &types.ToolCallResponse{
			Content: []types.ContentBlock{types.TextBlock(reply.Result)},
			IsError: reply.IsError,
		}
	}

	return &types.ToolCallResponse{Content: []types.ContentBlock{}, IsError: reply.IsError}
}

// flattenContent renders content blocks as one string for taint recording
func flattenContent(blocks []types.ContentBlock) string {
	var buf bytes.Buffer
	for i, block := range blocks {
		if i > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(block.Text)
	}
	return buf.String()
}
