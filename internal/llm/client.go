package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/trackline/issue-api/internal/domain"
)

// Enricher is the capability the worker needs from a text-analysis provider.
// Implementations are a closed set (OpenAI, Anthropic) selected once at
// startup; a failed call is a single best-effort attempt with no retry loop,
// redelivery is the queue's job.
type Enricher interface {
	Enrich(ctx context.Context, title, description string) (domain.EnrichmentResult, error)
}

type ErrorCause string

const (
	CauseNetwork           ErrorCause = "network"
	CauseHTTPStatus        ErrorCause = "http-status"
	CauseMalformedResponse ErrorCause = "malformed-response"
	CauseUnexpected        ErrorCause = "unexpected"
)

// ProviderError is the only error type Enrich returns. The worker treats every
// cause the same way (fall back locally); the cause tag exists for logs.
type ProviderError struct {
	Provider   string
	Cause      ErrorCause
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s provider error (%s, status %d): %v", e.Provider, e.Cause, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s provider error (%s): %v", e.Provider, e.Cause, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

const systemPrompt = `You are a technical issue analyser. Analyse the given issue and provide a response.

DO NOT use markdown formatting. Return ONLY a raw JSON object with no code blocks, no backticks, and no additional text.`

const userPromptFormat = `Analyse this issue and respond with ONLY valid JSON (no markdown):

Title: %s
Description: %s

Respond with this exact JSON format:
{
  "summary": "A clear 1-2 sentence summary of the issue.",
  "tags": ["tag1", "tag2", "tag3"]
}

Common tags: bug, feature-request, frontend, backend, documentation, performance, security, database, api, ui/ux, urgent, needs-review`

func buildUserPrompt(title, description string) string {
	return fmt.Sprintf(userPromptFormat, title, description)
}

// parseEnrichment decodes the JSON text a provider returns into an
// EnrichmentResult. Models sometimes wrap the JSON in a markdown code fence
// despite the instructions, so fences are stripped before decoding. A missing
// summary or empty tag list is a malformed response, not a partial success.
func parseEnrichment(provider, content string) (domain.EnrichmentResult, error) {
	content = stripCodeFence(content)

	var result domain.EnrichmentResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return domain.EnrichmentResult{}, &ProviderError{
			Provider: provider,
			Cause:    CauseMalformedResponse,
			Err:      fmt.Errorf("decode enrichment JSON: %w", err),
		}
	}
	if strings.TrimSpace(result.Summary) == "" {
		return domain.EnrichmentResult{}, &ProviderError{
			Provider: provider,
			Cause:    CauseMalformedResponse,
			Err:      errors.New("enrichment response missing summary"),
		}
	}
	if len(result.Tags) == 0 {
		return domain.EnrichmentResult{}, &ProviderError{
			Provider: provider,
			Cause:    CauseMalformedResponse,
			Err:      errors.New("enrichment response missing tags"),
		}
	}
	return result, nil
}

func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	parts := strings.SplitN(content, "```", 3)
	if len(parts) < 2 {
		return content
	}
	inner := parts[1]
	inner = strings.TrimPrefix(inner, "json")
	return strings.TrimSpace(inner)
}

func classifyStatus(provider string, statusCode int, body string) *ProviderError {
	message := strings.TrimSpace(body)
	if len(message) > 700 {
		message = message[:700]
	}
	return &ProviderError{
		Provider:   provider,
		Cause:      CauseHTTPStatus,
		StatusCode: statusCode,
		Err:        fmt.Errorf("unexpected status: %s", message),
	}
}

func defaultHTTPClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{}
}

func defaultTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 30 * time.Second
	}
	return timeout
}
