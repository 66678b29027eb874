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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ConfirmationTTL bounds how long a user-confirmation token stays valid
const ConfirmationTTL = 5 * time.Minute

// ConfirmationSigner issues and verifies the short-lived tokens returned
// when the quarantine decision asks for user confirmation. A token binds
// exactly one {session, agent, tool, arguments} tuple; replaying the same
// call with a valid token skips re-evaluation.
type ConfirmationSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewConfirmationSigner creates a signer over the shared HS256 secret
func NewConfirmationSigner(secret []byte) (*ConfirmationSigner, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("confirmation secret too short (%d bytes, need 16+)", len(secret))
	}
	return &ConfirmationSigner{secret: secret, ttl: ConfirmationTTL}, nil
}

// confirmationClaims are the custom claims bound into a token
type confirmationClaims struct {
	SessionID string `json:"sid"`
	AgentID   string `json:"agent"`
	ToolName  string `json:"tool"`
	ArgsHash  string `json:"args_hash"`
	jwt.RegisteredClaims
}

// Issue signs a token for the given call tuple
func (s *ConfirmationSigner) Issue(sessionID, agentID, toolName string, args map[string]interface{}) (string, error) {
	now := time.Now()
	claims := confirmationClaims{
		SessionID: sessionID,
		AgentID:   agentID,
		ToolName:  toolName,
		ArgsHash:  HashArguments(args),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "toolgate",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign confirmation token: %w", err)
	}
	return signed, nil
}

// Verify reports whether tokenString is a valid, unexpired confirmation
// for exactly this call tuple
func (s *ConfirmationSigner) Verify(tokenString, sessionID, agentID, toolName string, args map[string]interface{}) bool {
	var claims confirmationClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return false
	}

	return claims.SessionID == sessionID &&
		claims.AgentID == agentID &&
		claims.ToolName == toolName &&
		claims.ArgsHash == HashArguments(args)
}

// HashArguments produces a stable digest of a tool call's arguments.
// Keys are sorted so logically equal argument maps hash identically.
func HashArguments(args map[string]interface{}) string {
	if len(args) == 0 {
		return hashString("{}")
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf []byte
	for _, k := range keys {
		v, _ := json.Marshal(args[k])
		buf = append(buf, k...)
		buf = append(buf, '=')
		buf = append(buf, v...)
		buf = append(buf, ';')
	}
	return hashString(string(buf))
}

// hashString returns the hex SHA-256 of s
func hashString(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])
}
