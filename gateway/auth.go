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

	"toolgate/platform/shared/logger"
)

// adminResourceAgents is the permission resource that grants a user token
// org-wide agent access
const adminResourceAgents = "agents"

// Authorizer decides whether a presented credential may act as a given
// agent. Every failure surfaces as ErrUnauthorized; the step that rejected
// is logged internally and never leaks to the caller.
type Authorizer struct {
	store CredentialStore
	log   *logger.Logger
}

// NewAuthorizer creates an Authorizer over the given store
func NewAuthorizer(store CredentialStore, log *logger.Logger) *Authorizer {
	return &Authorizer{store: store, log: log}
}

// Authorize resolves the secret and checks it against the agent.
//
// Priority order by credential kind:
//   - organization token: any enabled agent in the token's org
//   - team token: the agent's fresh team set must contain the token's team
//   - user token: org-level "agents" admin permission, otherwise a
//     non-empty intersection of the user's teams and the agent's teams
//
// Team and permission reads happen fresh inside this call and are never
// cached across calls.
func (a *Authorizer) Authorize(ctx context.Context, agentID, secret string) (*AuthorizationContext, error) {
	if secret == "" {
		a.deny("", agentID, "missing credential")
		return nil, ErrUnauthorized
	}

	cred, err := a.store.FindCredentialBySecret(ctx, secret)
	if err != nil {
		if err == ErrCredentialNotFound {
			a.deny("", agentID, "unknown credential")
		} else {
			a.log.Error("", agentID, "Credential lookup failed", map[string]interface{}{"error": err.Error()})
		}
		return nil, ErrUnauthorized
	}

	agent, err := a.store.GetAgent(ctx, agentID)
	if err != nil {
		if err == ErrAgentNotFound {
			a.deny(cred.Organization(), agentID, "unknown agent")
		} else {
			a.log.Error(cred.Organization(), agentID, "Agent lookup failed", map[string]interface{}{"error": err.Error()})
		}
		return nil, ErrUnauthorized
	}

	if !agent.Enabled {
		a.deny(cred.Organization(), agentID, "agent disabled")
		return nil, ErrUnauthorized
	}

	if agent.OrgID != cred.Organization() {
		a.deny(cred.Organization(), agentID, "organization mismatch")
		return nil, ErrUnauthorized
	}

	switch token := cred.(type) {
	case OrganizationToken:
		return &AuthorizationContext{
			TokenID:             token.ID,
			OrgID:               token.OrgID,
			IsOrganizationToken: true,
		}, nil

	case TeamToken:
		return a.authorizeTeamToken(ctx, token, agent)

	case UserToken:
		return a.authorizeUserToken(ctx, token, agent)

	default:
		a.deny(cred.Organization(), agentID, "unknown credential kind")
		return nil, ErrUnauthorized
	}
}

// authorizeTeamToken requires the agent to be assigned to the token's team
func (a *Authorizer) authorizeTeamToken(ctx context.Context, token TeamToken, agent *Agent) (*AuthorizationContext, error) {
	agentTeams, err := a.store.TeamsForAgent(ctx, agent.ID)
	if err != nil {
		a.log.Error(token.OrgID, agent.ID, "Agent team lookup failed", map[string]interface{}{"error": err.Error()})
		return nil, ErrUnauthorized
	}

	for _, team := range agentTeams {
		if team == token.TeamID {
			return &AuthorizationContext{
				TokenID: token.ID,
				OrgID:   token.OrgID,
				TeamID:  token.TeamID,
			}, nil
		}
	}

	a.deny(token.OrgID, agent.ID, "agent not in token team")
	return nil, ErrUnauthorized
}

// authorizeUserToken grants through an org-level admin permission or a
// shared team between the user and the agent
func (a *Authorizer) authorizeUserToken(ctx context.Context, token UserToken, agent *Agent) (*AuthorizationContext, error) {
	admin, err := a.store.UserHasAdminPermission(ctx, token.UserID, token.OrgID, adminResourceAgents)
	if err != nil {
		a.log.Error(token.OrgID, agent.ID, "Permission lookup failed", map[string]interface{}{"error": err.Error()})
		return nil, ErrUnauthorized
	}
	if admin {
		return &AuthorizationContext{
			TokenID:     token.ID,
			OrgID:       token.OrgID,
			UserID:      token.UserID,
			IsUserToken: true,
		}, nil
	}

	userTeams, err := a.store.TeamsForUser(ctx, token.UserID)
	if err != nil {
		a.log.Error(token.OrgID, agent.ID, "User team lookup failed", map[string]interface{}{"error": err.Error()})
		return nil, ErrUnauthorized
	}

	agentTeams, err := a.store.TeamsForAgent(ctx, agent.ID)
	if err != nil {
		a.log.Error(token.OrgID, agent.ID, "Agent team lookup failed", map[string]interface{}{"error": err.Error()})
		return nil, ErrUnauthorized
	}

	agentTeamSet := make(map[string]struct{}, len(agentTeams))
	for _, team := range agentTeams {
		agentTeamSet[team] = struct{}{}
	}

	for _, team := range userTeams {
		if _, ok := agentTeamSet[team]; ok {
			return &AuthorizationContext{
				TokenID:     token.ID,
				OrgID:       token.OrgID,
				TeamID:      team,
				UserID:      token.UserID,
				IsUserToken: true,
			}, nil
		}
	}

	a.deny(token.OrgID, agent.ID, "no shared team")
	return nil, ErrUnauthorized
}

// deny records which step rejected. The caller only ever sees
// ErrUnauthorized.
func (a *Authorizer) deny(orgID, agentID, step string) {
	a.log.Warn(orgID, agentID, "Authorization denied", map[string]interface{}{
		"step": step,
	})
}
