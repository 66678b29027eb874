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

/*
Package types provides shared type definitions used across ToolGate
components and SDKs.

# Overview

This package is the single source of truth for the tool protocol wire
format: tool definitions, call request/response envelopes, content
blocks, and protocol error codes. The gateway serves these shapes over
HTTP and SDK clients decode into them.

# Error model

Two failure channels exist and never mix:

  - In-band tool errors: the tool ran (or was blocked by policy) and the
    result is a ToolCallResponse with IsError set and a human-readable
    text block. HTTP status stays 200.
  - Protocol faults: malformed requests, auth failures, and internal
    errors are an ErrorResponse with an HTTP error status. Internal
    faults always carry CodeInternalError and a message with no stack
    traces or secret material.

# Thread Safety

All types in this package are value types and are safe for concurrent use.
*/
package types
