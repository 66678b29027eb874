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
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolgate/platform/shared/logger"
	"toolgate/platform/shared/types"
)

func TestRegistryRegister(t *testing.T) {
	registry := NewToolRegistry()

	tests := []struct {
		name    string
		tool    RegisteredTool
		wantErr bool
	}{
		{
			name: "valid tool",
			tool: RegisteredTool{
				Definition: types.ToolDefinition{Name: "search_docs"},
				Endpoint:   "http://tools.internal/search",
			},
		},
		{
			name:    "empty name",
			tool:    RegisteredTool{Endpoint: "http://tools.internal/x"},
			wantErr: true,
		},
		{
			name: "reserved namespace",
			tool: RegisteredTool{
				Definition: types.ToolDefinition{Name: "toolgate.sneaky"},
				Endpoint:   "http://tools.internal/x",
			},
			wantErr: true,
		},
		{
			name: "missing endpoint",
			tool: RegisteredTool{
				Definition: types.ToolDefinition{Name: "no_endpoint"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.Register(tt.tool)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Equal(t, 1, registry.Len())
	_, ok := registry.Get("search_docs")
	assert.True(t, ok)
}

func TestPrivileged(t *testing.T) {
	assert.True(t, RegisteredTool{Capability: CapabilityAction}.Privileged())
	assert.False(t, RegisteredTool{Capability: CapabilityRead}.Privileged())
}

// fakeHTTPClient captures the outbound request and replays a canned reply
type fakeHTTPClient struct {
	status  int
	body    string
	err     error
	lastReq *http.Request
	lastRaw []byte
}

func (f *fakeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	f.lastReq = req
	if req.Body != nil {
		f.lastRaw, _ = io.ReadAll(req.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(f.body)),
	}, nil
}

func testExecutorCall() (RegisteredTool, ToolCall, *AuthorizationContext) {
	tool := RegisteredTool{
		Definition: types.ToolDefinition{Name: "search_docs"},
		Endpoint:   "http://tools.internal/search",
		Capability: CapabilityRead,
		Trust:      TrustUntrusted,
	}
	call := ToolCall{
		ID:        "call-1",
		Name:      "search_docs",
		Arguments: map[string]interface{}{"query": "refunds"},
		SessionID: "sess-1",
	}
	authCtx := &AuthorizationContext{TokenID: "tok-1", OrgID: "org-a", IsOrganizationToken: true}
	return tool, call, authCtx
}

func TestExecuteSendsEnvelope(t *testing.T) {
	client := &fakeHTTPClient{body: `{"result":"3 documents found"}`}
	executor := NewHTTPToolExecutorWithClient(client, logger.New("test"))
	tool, call, authCtx := testExecutorCall()

	resp, err := executor.Execute(context.Background(), tool, call, "agent-1", authCtx)
	require.NoError(t, err)
	assert.False(t, resp.IsError)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "3 documents found", resp.Content[0].Text)

	assert.Equal(t, "http://tools.internal/search", client.lastReq.URL.String())
	assert.Equal(t, "call-1", client.lastReq.Header.Get("X-Tool-Call-ID"))

	var sent toolServerRequest
	require.NoError(t, json.Unmarshal(client.lastRaw, &sent))
	assert.Equal(t, "agent-1", sent.AgentID)
	assert.Equal(t, "org-a", sent.AuthContext.OrgID)
	assert.Equal(t, "refunds", sent.ToolCall.Arguments["query"])
}

func TestExecuteTransportFailureIsInBand(t *testing.T) {
	client := &fakeHTTPClient{err: assert.AnError}
	executor := NewHTTPToolExecutorWithClient(client, logger.New("test"))
	tool, call, authCtx := testExecutorCall()

	resp, err := executor.Execute(context.Background(), tool, call, "agent-1", authCtx)
	require.NoError(t, err)
	assert.True(t, resp.IsError)
	assert.Contains(t, resp.Content[0].Text, "unreachable")
}

func TestExecuteServerErrorIsInBand(t *testing.T) {
	client := &fakeHTTPClient{status: http.StatusBadGateway, body: "upstream exploded"}
	executor := NewHTTPToolExecutorWithClient(client, logger.New("test"))
	tool, call, authCtx := testExecutorCall()

	resp, err := executor.Execute(context.Background(), tool, call, "agent-1", authCtx)
	require.NoError(t, err)
	assert.True(t, resp.IsError)
	assert.Contains(t, resp.Content[0].Text, "status 502")
}

func TestNormalizeReply(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantError bool
		wantText  string
	}{
		{
			name:     "content blocks pass through",
			body:     `{"content":[{"type":"text","text":"hello"}],"isError":false}`,
			wantText: "hello",
		},
		{
			name:      "error field wins",
			body:      `{"error":"quota exceeded"}`,
			wantError: true,
			wantText:  "quota exceeded",
		},
		{
			name:     "plain result string",
			body:     `{"result":"done"}`,
			wantText: "done",
		},
		{
			name:     "non-JSON wraps as text",
			body:     "plain text reply",
			wantText: "plain text reply",
		},
		{
			name:      "isError carried with content",
			body:      `{"content":[{"type":"text","text":"nope"}],"isError":true}`,
			wantError: true,
			wantText:  "nope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := normalizeReply([]byte(tt.body))
			assert.Equal(t, tt.wantError, resp.IsError)
			require.NotEmpty(t, resp.Content)
			assert.Equal(t, tt.wantText, resp.Content[0].Text)
		})
	}
}

func TestFlattenContent(t *testing.T) {
	flat := flattenContent([]types.ContentBlock{
		types.TextBlock("one"),
		types.TextBlock("two"),
	})
	assert.Equal(t, "one\ntwo", flat)
}
