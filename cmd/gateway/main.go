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

// Package main is the entry point for the ToolGate gateway service.
//
// The gateway is the single entry point AI agents use to discover and
// invoke tools. It:
// - Authorizes every call against layered org/team/user credentials
// - Tracks untrusted tool output as session taint
// - Quarantines privileged calls in tainted sessions behind a dual-LLM check
// - Provides comprehensive audit logging
//
// Usage:
//
//	./gateway
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	GATEWAY_CONFIG - path to gateway.yaml (default: gateway.yaml)
//	DATABASE_URL - PostgreSQL connection string (or DATABASE_HOST et al.)
//	REDIS_URL - optional Redis URL for shared taint tracking
//	ANTHROPIC_API_KEY / OPENAI_API_KEY - quarantine provider credentials
//	CONFIRMATION_SECRET - HMAC secret for user-confirmation tokens
package main

import (
	"toolgate/platform/gateway"
)

func main() {
	gateway.Run()
}
