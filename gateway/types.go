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
	"errors"
	"time"
)

// ErrUnauthorized is the single rejection every authorization failure maps
// to at the API boundary. Callers never learn which step rejected; the
// internal audit log does.
var ErrUnauthorized = errors.New("unauthorized")

// ErrCredentialNotFound is returned by the store when no credential
// matches a presented secret
var ErrCredentialNotFound = errors.New("credential not found")

// ErrAgentNotFound is returned by the store when an agent id is unknown
var ErrAgentNotFound = errors.New("agent not found")

// CredentialKind discriminates the credential variants
type CredentialKind string

const (
	CredentialKindOrganization CredentialKind = "organization"
	CredentialKindTeam         CredentialKind = "team"
	CredentialKindUser         CredentialKind = "user"
)

// Credential is the closed set of token variants the gateway accepts.
// Secrets are stored only as SHA-256 hex hashes and never logged.
type Credential interface {
	Kind() CredentialKind
	Organization() string
}

// OrganizationToken grants access to every agent in its organization
type OrganizationToken struct {
	ID         string
	OrgID      string
	SecretHash string
}

func (t OrganizationToken) Kind() CredentialKind { return CredentialKindOrganization }
func (t OrganizationToken) Organization() string { return t.OrgID }

// TeamToken grants access to agents assigned to its team
type TeamToken struct {
	ID         string
	OrgID      string
	TeamID     string
	SecretHash string
}

func (t TeamToken) Kind() CredentialKind { return CredentialKindTeam }
func (t TeamToken) Organization() string { return t.OrgID }

// UserToken grants access through the user's team memberships or an
// org-level admin permission
type UserToken struct {
	ID         string
	OrgID      string
	UserID     string
	SecretHash string
}

func (t UserToken) Kind() CredentialKind { return CredentialKindUser }
func (t UserToken) Organization() string { return t.OrgID }

// AuthorizationContext is the immutable per-request product of a
// successful authorization. It travels with the tool call and is passed
// verbatim to external tool servers for their own credential resolution.
type AuthorizationContext struct {
	TokenID             string `json:"token_id"`
	OrgID               string `json:"org_id"`
	TeamID              string `json:"team_id,omitempty"`
	UserID              string `json:"user_id,omitempty"`
	IsOrganizationToken bool   `json:"is_organization_token"`
	IsUserToken         bool   `json:"is_user_token"`
}

// Agent is a registered AI agent that invokes tools through the gateway
type Agent struct {
	ID      string
	OrgID   string
	Name    string
	Enabled bool
}

// ToolCall is one tool invocation in flight through the router
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	SessionID string                 `json:"session_id"`
	StartedAt time.Time              `json:"started_at"`
}

// Tool capability classes. Action tools are privileged: they mutate state
// outside the gateway and go through quarantine evaluation on tainted
// sessions.
type ToolCapability string

const (
	CapabilityRead   ToolCapability = "read"
	CapabilityAction ToolCapability = "action"
)

// Tool trust levels. Output of untrusted tools is recorded in the
// session's taint set.
type ToolTrust string

const (
	TrustTrusted   ToolTrust = "trusted"
	TrustUntrusted ToolTrust = "untrusted"
)
