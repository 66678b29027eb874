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
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"toolgate/platform/gateway/quarantine"
	"toolgate/platform/shared/types"
)

// ToolConfig is one external tool entry in gateway.yaml
type ToolConfig struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Endpoint    string                 `yaml:"endpoint"`
	Capability  string                 `yaml:"capability"` // read | action
	Trust       string                 `yaml:"trust"`      // trusted | untrusted
	InputSchema map[string]interface{} `yaml:"input_schema"`
}

// LLMConfig selects the reasoning-role provider
type LLMConfig struct {
	Provider string `yaml:"provider"` // anthropic | openai
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
}

// Config is the structured configuration loaded from gateway.yaml.
// Environment variables override: PORT, DATABASE_URL (or the DATABASE_*
// parts), REDIS_URL, ANTHROPIC_API_KEY / OPENAI_API_KEY,
// CONFIRMATION_SECRET.
type Config struct {
	Port       string            `yaml:"port"`
	Quarantine quarantine.Config `yaml:"quarantine"`
	LLM        LLMConfig         `yaml:"llm"`
	Tools      []ToolConfig      `yaml:"tools"`
	AuditQueue struct {
		Size         int    `yaml:"size"`
		Workers      int    `yaml:"workers"`
		FallbackPath string `yaml:"fallback_path"`
	} `yaml:"audit_queue"`
}

// DefaultConfig returns the configuration used when gateway.yaml is absent
func DefaultConfig() Config {
	cfg := Config{
		Port:       "8080",
		Quarantine: quarantine.DefaultConfig(),
		LLM:        LLMConfig{Provider: "anthropic"},
	}
	cfg.AuditQueue.Size = 1000
	cfg.AuditQueue.Workers = 4
	cfg.AuditQueue.FallbackPath = "/tmp/toolgate-audit-fallback.jsonl"
	return cfg
}

// LoadConfig reads gateway.yaml from path, applying defaults for anything
// unset. A missing file is not an error; defaults apply.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Quarantine.FastAllowThreshold <= 0 {
		cfg.Quarantine.FastAllowThreshold = quarantine.DefaultConfig().FastAllowThreshold
	}
	if cfg.Quarantine.ConservativeConfidence <= 0 {
		cfg.Quarantine.ConservativeConfidence = quarantine.DefaultConfig().ConservativeConfidence
	}
	if cfg.Quarantine.PreviewBudget <= 0 {
		cfg.Quarantine.PreviewBudget = quarantine.DefaultPreviewBudget
	}
	if cfg.AuditQueue.Size <= 0 {
		cfg.AuditQueue.Size = 1000
	}
	if cfg.AuditQueue.Workers <= 0 {
		cfg.AuditQueue.Workers = 4
	}
	if cfg.AuditQueue.FallbackPath == "" {
		cfg.AuditQueue.FallbackPath = "/tmp/toolgate-audit-fallback.jsonl"
	}

	return cfg, nil
}

// RegisteredTools converts the config entries into registry entries
func (c Config) RegisteredTools() ([]RegisteredTool, error) {
	tools := make([]RegisteredTool, 0, len(c.Tools))
	for _, tc := range c.Tools {
		capability := ToolCapability(tc.Capability)
		switch capability {
		case CapabilityRead, CapabilityAction:
		case "":
			capability = CapabilityRead
		default:
			return nil, fmt.Errorf("tool %q has invalid capability %q", tc.Name, tc.Capability)
		}

		trust := ToolTrust(tc.Trust)
		switch trust {
		case TrustTrusted, TrustUntrusted:
		case "":
			trust = TrustUntrusted
		default:
			return nil, fmt.Errorf("tool %q has invalid trust %q", tc.Name, tc.Trust)
		}

		tools = append(tools, RegisteredTool{
			Definition: types.ToolDefinition{
				Name:        tc.Name,
				Description: tc.Description,
				InputSchema: tc.InputSchema,
			},
			Endpoint:   tc.Endpoint,
			Capability: capability,
			Trust:      trust,
		})
	}
	return tools, nil
}
