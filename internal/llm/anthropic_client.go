package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/trackline/issue-api/internal/domain"
)

const (
	anthropicProviderName = "anthropic"

	anthropicAPIVersion = "2023-06-01"
)

type AnthropicClientConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// AnthropicClient enriches issues through the messages API. It exposes the
// same Enricher surface as OpenAIClient; only the endpoint, auth headers and
// response envelope differ.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

func NewAnthropicClient(config AnthropicClientConfig) *AnthropicClient {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.anthropic.com/v1"
	}
	if strings.TrimSpace(config.Model) == "" {
		config.Model = "claude-3-5-sonnet-latest"
	}

	return &AnthropicClient{
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		model:      config.Model,
		timeout:    defaultTimeout(config.Timeout),
		httpClient: defaultHTTPClient(config.HTTPClient),
	}
}

func (c *AnthropicClient) Enrich(ctx context.Context, title, description string) (domain.EnrichmentResult, error) {
	payload := map[string]any{
		"model":      c.model,
		"max_tokens": 250,
		"messages": []map[string]string{
			{"role": "user", "content": systemPrompt + "\n\n" + buildUserPrompt(title, description)},
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return domain.EnrichmentResult{}, &ProviderError{
			Provider: anthropicProviderName,
			Cause:    CauseUnexpected,
			Err:      fmt.Errorf("marshal anthropic payload: %w", err),
		}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodPost,
		c.baseURL+"/messages",
		bytes.NewReader(encoded),
	)
	if err != nil {
		return domain.EnrichmentResult{}, &ProviderError{
			Provider: anthropicProviderName,
			Cause:    CauseUnexpected,
			Err:      fmt.Errorf("create anthropic request: %w", err),
		}
	}
	httpRequest.Header.Set("x-api-key", c.apiKey)
	httpRequest.Header.Set("anthropic-version", anthropicAPIVersion)
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return domain.EnrichmentResult{}, &ProviderError{
			Provider: anthropicProviderName,
			Cause:    CauseNetwork,
			Err:      fmt.Errorf("anthropic transport error: %w", err),
		}
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return domain.EnrichmentResult{}, &ProviderError{
			Provider: anthropicProviderName,
			Cause:    CauseNetwork,
			Err:      fmt.Errorf("read anthropic body: %w", err),
		}
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		return domain.EnrichmentResult{}, classifyStatus(anthropicProviderName, httpResponse.StatusCode, string(body))
	}

	var raw anthropicMessagesResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.EnrichmentResult{}, &ProviderError{
			Provider: anthropicProviderName,
			Cause:    CauseMalformedResponse,
			Err:      fmt.Errorf("decode anthropic response: %w", err),
		}
	}
	if len(raw.Content) == 0 || strings.TrimSpace(raw.Content[0].Text) == "" {
		return domain.EnrichmentResult{}, &ProviderError{
			Provider: anthropicProviderName,
			Cause:    CauseMalformedResponse,
			Err:      errors.New("anthropic response without text content"),
		}
	}

	return parseEnrichment(anthropicProviderName, raw.Content[0].Text)
}

type anthropicMessagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}
