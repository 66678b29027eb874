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

// Package llm provides a unified interface and types for LLM providers.
// The quarantine evaluator's reasoning roles are built on this abstraction,
// enabling pluggable provider implementations.
package llm

import (
	"fmt"
	"time"
)

// ProviderType identifies the type of LLM provider
type ProviderType string

// Standard provider types supported out of the box
const (
	// ProviderTypeAnthropic represents Anthropic's Claude models
	ProviderTypeAnthropic ProviderType = "anthropic"

	// ProviderTypeOpenAI represents OpenAI's GPT models
	ProviderTypeOpenAI ProviderType = "openai"

	// ProviderTypeCustom represents a custom/third-party provider
	ProviderTypeCustom ProviderType = "custom"
)

// CompletionRequest encapsulates all parameters for an LLM completion request.
// This is the unified request type used across all providers.
type CompletionRequest struct {
	// Prompt is the user's input text.
	Prompt string `json:"prompt"`

	// SystemPrompt is an optional system message that sets context/behavior.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// MaxTokens limits the maximum number of tokens in the response.
	// If 0, provider defaults are used.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0 = deterministic).
	// Negative means unset; 0.0 is a valid deterministic setting.
	Temperature float64 `json:"temperature,omitempty"`

	// TopP is the nucleus sampling parameter (alternative to temperature).
	TopP float64 `json:"top_p,omitempty"`

	// Model overrides the provider's default model.
	Model string `json:"model,omitempty"`

	// StopSequences are strings that cause generation to stop.
	StopSequences []string `json:"stop_sequences,omitempty"`
}

// CompletionResponse contains the result of an LLM completion
type CompletionResponse struct {
	// Content is the generated text response.
	Content string `json:"content"`

	// Model is the actual model used (may differ from requested).
	Model string `json:"model"`

	// Usage contains token usage statistics.
	Usage UsageStats `json:"usage"`

	// Latency is the time taken to generate the response.
	Latency time.Duration `json:"latency"`

	// FinishReason indicates why generation stopped.
	// Common values: "stop", "max_tokens", "content_filter".
	FinishReason string `json:"finish_reason,omitempty"`
}

// UsageStats tracks token usage for billing and monitoring
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// HealthStatus represents the health state of a provider
type HealthStatus string

const (
	// HealthStatusHealthy indicates the provider is operational
	HealthStatusHealthy HealthStatus = "healthy"

	// HealthStatusUnhealthy indicates the provider is not operational
	HealthStatusUnhealthy HealthStatus = "unhealthy"

	// HealthStatusUnknown indicates health status hasn't been checked
	HealthStatusUnknown HealthStatus = "unknown"
)

// HealthCheckResult contains detailed health check information
type HealthCheckResult struct {
	// Status is the overall health status.
	Status HealthStatus `json:"status"`

	// Latency is the time taken for the health check.
	Latency time.Duration `json:"latency"`

	// Message provides additional context about the status.
	Message string `json:"message,omitempty"`

	// LastChecked is when the health check was performed.
	LastChecked time.Time `json:"last_checked"`
}

// ProviderError represents an error from an LLM provider
type ProviderError struct {
	// Provider is the name of the provider that returned the error.
	Provider string `json:"provider"`

	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// StatusCode is the HTTP status code (if applicable).
	StatusCode int `json:"status_code,omitempty"`

	// Retryable indicates if the request can be retried.
	Retryable bool `json:"retryable"`

	// Cause is the underlying error (if any).
	Cause error `json:"-"`
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Common error codes
const (
	// ErrCodeRateLimit indicates rate limiting.
	ErrCodeRateLimit = "rate_limit"

	// ErrCodeAuth indicates authentication failure.
	ErrCodeAuth = "authentication_error"

	// ErrCodeInvalidRequest indicates a malformed request.
	ErrCodeInvalidRequest = "invalid_request"

	// ErrCodeModelNotFound indicates the requested model doesn't exist.
	ErrCodeModelNotFound = "model_not_found"

	// ErrCodeContextLength indicates input exceeds the context window.
	ErrCodeContextLength = "context_length_exceeded"

	// ErrCodeServerError indicates a provider server error.
	ErrCodeServerError = "server_error"

	// ErrCodeTimeout indicates a request timeout.
	ErrCodeTimeout = "timeout"

	// ErrCodeUnavailable indicates the provider is unavailable.
	ErrCodeUnavailable = "unavailable"
)

// NewProviderError creates a new ProviderError
func NewProviderError(provider, code, message string) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Retryable: isRetryableCode(code),
	}
}

// isRetryableCode determines if an error code is retryable
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeRateLimit, ErrCodeServerError, ErrCodeTimeout, ErrCodeUnavailable:
		return true
	default:
		return false
	}
}
