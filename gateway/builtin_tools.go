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
	"context"
	"fmt"
	"strings"

	"toolgate/platform/gateway/quarantine"
	"toolgate/platform/shared/types"
)

// BuiltinNamespace is the reserved prefix for gateway-served tools.
// Built-ins never ingest external content, so they bypass taint tracking
// and quarantine evaluation entirely.
const BuiltinNamespace = "toolgate."

// Built-in tool names
const (
	BuiltinEcho             = BuiltinNamespace + "echo"
	BuiltinSessionInfo      = BuiltinNamespace + "session_info"
	BuiltinListCapabilities = BuiltinNamespace + "list_capabilities"
)

// IsBuiltinTool reports whether name is in the reserved namespace
func IsBuiltinTool(name string) bool {
	return strings.HasPrefix(name, BuiltinNamespace)
}

// BuiltinTools serves the reserved toolgate.* namespace
type BuiltinTools struct {
	tracker  quarantine.Tracker
	registry *ToolRegistry
}

// NewBuiltinTools creates the built-in dispatcher
func NewBuiltinTools(tracker quarantine.Tracker, registry *ToolRegistry) *BuiltinTools {
	return &BuiltinTools{tracker: tracker, registry: registry}
}

// Definitions returns the built-in tool definitions advertised to agents
func (b *BuiltinTools) Definitions() []types.ToolDefinition {
	return []types.ToolDefinition{
		{
			Name:        BuiltinEcho,
			Description: "Echo back the provided message",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"message": map[string]interface{}{"type": "string"},
				},
				"required": []interface{}{"message"},
			},
		},
		{
			Name:        BuiltinSessionInfo,
			Description: "Report the current session id and whether it holds tainted context",
			InputSchema: map[string]interface{}{"type": "object"},
		},
		{
			Name:        BuiltinListCapabilities,
			Description: "List gateway capabilities and registered external tool count",
			InputSchema: map[string]interface{}{"type": "object"},
		},
	}
}

// Dispatch runs a built-in tool call. Unknown names in the namespace are
// in-band errors.
func (b *BuiltinTools) Dispatch(ctx context.Context, call ToolCall) *types.ToolCallResponse {
	switch call.Name {
	case BuiltinEcho:
		message, _ := call.Arguments["message"].(string)
		if message == "" {
			return &types.ToolCallResponse{
				Content: []types.ContentBlock{types.TextBlock("echo requires a message argument")},
				IsError: true,
			}
		}
		return &types.ToolCallResponse{
			Content: []types.ContentBlock{types.TextBlock(message)},
		}

	case BuiltinSessionInfo:
		tainted, err := b.tracker.HasTaint(ctx, call.SessionID)
		if err != nil {
			return &types.ToolCallResponse{
				Content: []types.ContentBlock{types.TextBlock("session state unavailable")},
				IsError: true,
			}
		}
		return &types.ToolCallResponse{
			Content: []types.ContentBlock{types.TextBlock(fmt.Sprintf("session=%s tainted=%t", call.SessionID, tainted))},
		}

	case BuiltinListCapabilities:
		return &types.ToolCallResponse{
			Content: []types.ContentBlock{types.TextBlock(fmt.Sprintf(
				"capabilities: tool routing, layered credentials, taint quarantine; external tools registered: %d",
				b.registry.Len()))},
		}

	default:
		return &types.ToolCallResponse{
			Content: []types.ContentBlock{types.TextBlock(fmt.Sprintf("unknown built-in tool: %s", call.Name))},
			IsError: true,
		}
	}
}
