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

// Package types provides the wire types shared between the gateway and
// SDK consumers. This file defines the tool protocol envelopes.
package types

// ContentBlock is a single piece of tool result content. Text is the only
// block type the gateway emits today; the Type discriminator leaves room
// for images and resources later.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextBlock wraps a plain string as a single text content block
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ToolDefinition describes a tool an agent is allowed to invoke
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

// ToolListResponse is the reply envelope for a tool listing
type ToolListResponse struct {
	Tools []ToolDefinition `json:"tools"`
}

// ToolCallRequest is the inbound envelope for a tool invocation.
// UserRequest is the user's original instruction driving this call; the
// quarantine decision stage sees a sanitized preview of it.
type ToolCallRequest struct {
	Name        string                 `json:"name"`
	Arguments   map[string]interface{} `json:"arguments,omitempty"`
	UserRequest string                 `json:"user_request,omitempty"`
}

// ToolCallResponse is the reply envelope for a tool invocation.
//
// IsError marks in-band tool failures (the tool ran, or was blocked, and
// said no). Protocol faults never use this envelope; they are reported as
// ProtocolError with an HTTP error status.
type ToolCallResponse struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

// ErrorResponse wraps a protocol-level fault. Code is machine-readable;
// internal faults always use CodeInternalError regardless of cause.
type ErrorResponse struct {
	Error ProtocolError `json:"error"`
}

// ProtocolError is a protocol-level fault distinct from in-band tool errors
type ProtocolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Protocol error codes
const (
	CodeUnauthorized  = "unauthorized"
	CodeInvalidParams = "invalid_params"
	CodeInternalError = "internal_error"
)

func (e *ProtocolError) Error() string {
	return e.Code + ": " + e.Message
}
