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
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"toolgate/platform/shared/types"
)

// CredentialStore is the authorizer's view of credential and agent data.
// Every read is fresh; nothing is cached across authorization calls, so a
// revoked token or removed team assignment takes effect on the next call.
type CredentialStore interface {
	// FindCredentialBySecret resolves a presented secret to its credential.
	// Organization and team tokens are checked before user tokens.
	// Returns ErrCredentialNotFound when nothing matches.
	FindCredentialBySecret(ctx context.Context, secret string) (Credential, error)

	// GetAgent returns the agent record, or ErrAgentNotFound.
	GetAgent(ctx context.Context, agentID string) (*Agent, error)

	// TeamsForAgent returns the agent's current team assignments.
	TeamsForAgent(ctx context.Context, agentID string) ([]string, error)

	// TeamsForUser returns the user's current team memberships.
	TeamsForUser(ctx context.Context, userID string) ([]string, error)

	// UserHasAdminPermission reports whether the user holds an org-level
	// admin permission on the given resource.
	UserHasAdminPermission(ctx context.Context, userID, orgID, resource string) (bool, error)

	// ToolsForAgent returns the tool definitions assigned to the agent.
	ToolsForAgent(ctx context.Context, agentID string) ([]types.ToolDefinition, error)
}

// PostgresCredentialStore implements CredentialStore over lib/pq
type PostgresCredentialStore struct {
	db *sql.DB
}

// NewPostgresCredentialStore wraps db and bootstraps the schema
func NewPostgresCredentialStore(ctx context.Context, db *sql.DB) (*PostgresCredentialStore, error) {
	store := &PostgresCredentialStore{db: db}
	if err := store.bootstrapSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to bootstrap credential schema: %w", err)
	}
	return store, nil
}

// bootstrapSchema creates the credential tables if they don't exist
func (s *PostgresCredentialStore) bootstrapSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS org_tokens (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			secret_hash TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS team_tokens (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			team_id TEXT NOT NULL,
			secret_hash TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS user_tokens (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			secret_hash TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			name TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS agent_team_assignments (
			agent_id TEXT NOT NULL,
			team_id TEXT NOT NULL,
			PRIMARY KEY (agent_id, team_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_team_memberships (
			user_id TEXT NOT NULL,
			team_id TEXT NOT NULL,
			PRIMARY KEY (user_id, team_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_permissions (
			user_id TEXT NOT NULL,
			org_id TEXT NOT NULL,
			resource TEXT NOT NULL,
			level TEXT NOT NULL,
			PRIMARY KEY (user_id, org_id, resource)
		)`,
		`CREATE TABLE IF NOT EXISTS agent_tools (
			agent_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			input_schema JSONB,
			PRIMARY KEY (agent_id, tool_name)
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// hashSecret hashes a presented secret the same way secrets are stored
func hashSecret(secret string) string {
	hash := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(hash[:])
}

// FindCredentialBySecret hashes the secret and looks it up, org/team
// tokens first, then user tokens. The fetched hash is re-compared in
// constant time before the credential is returned.
func (s *PostgresCredentialStore) FindCredentialBySecret(ctx context.Context, secret string) (Credential, error) {
	secretHash := hashSecret(secret)

	var (
		id, orgID, teamID, storedHash, kind string
	)

	query := `
		SELECT id, org_id, '' AS team_id, secret_hash, 'organization' AS kind
		FROM org_tokens WHERE secret_hash = $1
		UNION ALL
		SELECT id, org_id, team_id, secret_hash, 'team' AS kind
		FROM team_tokens WHERE secret_hash = $1
		LIMIT 1
	`
	err := s.db.QueryRowContext(ctx, query, secretHash).Scan(&id, &orgID, &teamID, &storedHash, &kind)
	if err == sql.ErrNoRows {
		var userID string
		userQuery := `
			SELECT id, org_id, user_id, secret_hash
			FROM user_tokens WHERE secret_hash = $1
		`
		err = s.db.QueryRowContext(ctx, userQuery, secretHash).Scan(&id, &orgID, &userID, &storedHash)
		if err == sql.ErrNoRows {
			return nil, ErrCredentialNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("user token lookup failed: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(storedHash), []byte(secretHash)) != 1 {
			return nil, ErrCredentialNotFound
		}
		return UserToken{ID: id, OrgID: orgID, UserID: userID, SecretHash: storedHash}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("token lookup failed: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(storedHash), []byte(secretHash)) != 1 {
		return nil, ErrCredentialNotFound
	}

	if kind == "team" {
		return TeamToken{ID: id, OrgID: orgID, TeamID: teamID, SecretHash: storedHash}, nil
	}
	return OrganizationToken{ID: id, OrgID: orgID, SecretHash: storedHash}, nil
}

// GetAgent returns the agent record
func (s *PostgresCredentialStore) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	var agent Agent
	query := `SELECT id, org_id, name, enabled FROM agents WHERE id = $1`
	err := s.db.QueryRowContext(ctx, query, agentID).Scan(&agent.ID, &agent.OrgID, &agent.Name, &agent.Enabled)
	if err == sql.ErrNoRows {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("agent lookup failed: %w", err)
	}
	return &agent, nil
}

// TeamsForAgent reads the agent's team assignments fresh
func (s *PostgresCredentialStore) TeamsForAgent(ctx context.Context, agentID string) ([]string, error) {
	return s.queryTeams(ctx,
		`SELECT team_id FROM agent_team_assignments WHERE agent_id = $1 ORDER BY team_id`, agentID)
}

// TeamsForUser reads the user's team memberships fresh
func (s *PostgresCredentialStore) TeamsForUser(ctx context.Context, userID string) ([]string, error) {
	return s.queryTeams(ctx,
		`SELECT team_id FROM user_team_memberships WHERE user_id = $1 ORDER BY team_id`, userID)
}

func (s *PostgresCredentialStore) queryTeams(ctx context.Context, query, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("team lookup failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	teams := []string{}
	for rows.Next() {
		var team string
		if err := rows.Scan(&team); err != nil {
			return nil, fmt.Errorf("team scan failed: %w", err)
		}
		teams = append(teams, team)
	}
	return teams, rows.Err()
}

// UserHasAdminPermission checks for an org-level admin grant on resource
func (s *PostgresCredentialStore) UserHasAdminPermission(ctx context.Context, userID, orgID, resource string) (bool, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM user_permissions
		WHERE user_id = $1 AND org_id = $2 AND resource = $3 AND level = 'admin'
	`
	if err := s.db.QueryRowContext(ctx, query, userID, orgID, resource).Scan(&count); err != nil {
		return false, fmt.Errorf("permission lookup failed: %w", err)
	}
	return count > 0, nil
}

// ToolsForAgent reads the agent's assigned tool definitions fresh
func (s *PostgresCredentialStore) ToolsForAgent(ctx context.Context, agentID string) ([]types.ToolDefinition, error) {
	query := `
		SELECT tool_name, description, input_schema
		FROM agent_tools WHERE agent_id = $1 ORDER BY tool_name
	`
	rows, err := s.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("tool lookup failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	tools := []types.ToolDefinition{}
	for rows.Next() {
		var (
			tool      types.ToolDefinition
			rawSchema []byte
		)
		if err := rows.Scan(&tool.Name, &tool.Description, &rawSchema); err != nil {
			return nil, fmt.Errorf("tool scan failed: %w", err)
		}
		if len(rawSchema) > 0 {
			if err := json.Unmarshal(rawSchema, &tool.InputSchema); err != nil {
				return nil, fmt.Errorf("corrupt input schema for tool %s: %w", tool.Name, err)
			}
		}
		tools = append(tools, tool)
	}
	return tools, rows.Err()
}
