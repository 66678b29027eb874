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

package quarantine

import (
	"context"
	"fmt"

	"toolgate/platform/llm"
	"toolgate/platform/shared/logger"
)

// DenyReasonEvaluationFailed is returned whenever the pipeline cannot
// produce a trustworthy decision. Fixed wording; carries no internal detail.
const DenyReasonEvaluationFailed = "unable to evaluate privileged action safely"

// Config holds the evaluator's tunables. Defaults match production
// behavior; deployments override them in gateway.yaml.
type Config struct {
	// FastAllowThreshold short-circuits the Decision Maker when the
	// Analyzer finds no injection with confidence below this value.
	FastAllowThreshold float64 `yaml:"fast_allow_threshold"`

	// ConservativeConfidence is the confidence assigned when the Analyzer
	// fails and the pipeline assumes injection.
	ConservativeConfidence float64 `yaml:"conservative_confidence"`

	// PreviewBudget is the sanitized-preview character budget.
	PreviewBudget int `yaml:"preview_budget"`

	// Temperature for both reasoning roles. Kept low for reproducibility.
	Temperature float64 `yaml:"temperature"`

	// AnalyzerModel / DecisionModel override the provider default model.
	AnalyzerModel string `yaml:"analyzer_model"`
	DecisionModel string `yaml:"decision_model"`
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		FastAllowThreshold:     0.3,
		ConservativeConfidence: 0.6,
		PreviewBudget:          DefaultPreviewBudget,
		Temperature:            0.1,
	}
}

// Verdict is the evaluator's answer for one privileged tool call
type Verdict struct {
	IsAllowed                bool
	DenyReason               string
	RequiresUserConfirmation bool
	SuggestedAction          string

	// Analysis is nil when the session had no tainted context.
	Analysis *AnalysisResult

	// ModelCalls counts LLM invocations made for this verdict.
	ModelCalls int
}

// Evaluator runs the dual-LLM quarantine pipeline for privileged tool
// calls on sessions with tainted context.
type Evaluator struct {
	tracker  Tracker
	analyzer *Analyzer
	decider  *DecisionMaker
	cfg      Config
	log      *logger.Logger
}

// NewEvaluator wires the two reasoning roles onto a shared provider
func NewEvaluator(provider llm.Provider, tracker Tracker, cfg Config, log *logger.Logger) *Evaluator {
	if cfg.FastAllowThreshold <= 0 {
		cfg.FastAllowThreshold = DefaultConfig().FastAllowThreshold
	}
	if cfg.ConservativeConfidence <= 0 {
		cfg.ConservativeConfidence = DefaultConfig().ConservativeConfidence
	}
	if cfg.PreviewBudget <= 0 {
		cfg.PreviewBudget = DefaultPreviewBudget
	}

	return &Evaluator{
		tracker:  tracker,
		analyzer: NewAnalyzer(provider, cfg, log),
		decider:  NewDecisionMaker(provider, cfg, log),
		cfg:      cfg,
		log:      log,
	}
}

// Evaluate decides whether a privileged tool call on sessionID may proceed.
//
// A session without tainted context is allowed immediately with zero model
// calls. Otherwise the Analyzer inspects the tainted content (degrading to
// a conservative analysis on failure) and, unless the fast-allow shortcut
// applies, the Decision Maker rules on the call. Decision Maker failure
// denies the call. Evaluation never mutates the taint set.
func (e *Evaluator) Evaluate(ctx context.Context, orgID, sessionID, userRequest string) *Verdict {
	entries, err := e.tracker.Entries(ctx, sessionID)
	if err != nil {
		e.log.Error(orgID, sessionID, "Taint tracker read failed, denying privileged call", map[string]interface{}{
			"error": err.Error(),
		})
		return &Verdict{IsAllowed: false, DenyReason: DenyReasonEvaluationFailed}
	}

	if len(entries) == 0 {
		return &Verdict{IsAllowed: true}
	}

	analysis := e.analyzer.Analyze(ctx, orgID, sessionID, entries)
	verdict := &Verdict{Analysis: &analysis, ModelCalls: 1}

	if !analysis.HasPromptInjection && analysis.Confidence < e.cfg.FastAllowThreshold {
		e.log.Debug(orgID, sessionID, "Quarantine fast-allow", map[string]interface{}{
			"confidence": analysis.Confidence,
		})
		verdict.IsAllowed = true
		return verdict
	}

	decision, err := e.decider.Decide(ctx, userRequest, analysis)
	verdict.ModelCalls++
	if err != nil {
		e.log.Warn(orgID, sessionID, "Decision maker failed, denying privileged call", map[string]interface{}{
			"error": err.Error(),
		})
		verdict.IsAllowed = false
		verdict.DenyReason = DenyReasonEvaluationFailed
		return verdict
	}

	verdict.IsAllowed = decision.IsAllowed
	verdict.DenyReason = decision.DenyReason
	verdict.RequiresUserConfirmation = decision.RequiresUserConfirmation
	verdict.SuggestedAction = decision.SuggestedAction

	if !verdict.IsAllowed && verdict.DenyReason == "" {
		verdict.DenyReason = denyReasonFromAnalysis(analysis)
	}

	return verdict
}

// denyReasonFromAnalysis synthesizes a user-facing reason when the
// Decision Maker denies without one
func denyReasonFromAnalysis(analysis AnalysisResult) string {
	injectionType := analysis.InjectionType
	if injectionType == "" {
		injectionType = InjectionTypeUnknown
	}
	return fmt.Sprintf("Potential %s injection detected (confidence: %d%%)",
		injectionType, int(analysis.Confidence*100))
}
