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

const openAIProviderName = "openai"

type OpenAIClientConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OpenAIClient enriches issues through the chat completions API.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

func NewOpenAIClient(config OpenAIClientConfig) *OpenAIClient {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(config.Model) == "" {
		config.Model = "gpt-4o"
	}

	return &OpenAIClient{
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		model:      config.Model,
		timeout:    defaultTimeout(config.Timeout),
		httpClient: defaultHTTPClient(config.HTTPClient),
	}
}

func (c *OpenAIClient) Enrich(ctx context.Context, title, description string) (domain.EnrichmentResult, error) {
	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": buildUserPrompt(title, description)},
		},
		"temperature": 0.7,
		"max_tokens":  250,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return domain.EnrichmentResult{}, &ProviderError{
			Provider: openAIProviderName,
			Cause:    CauseUnexpected,
			Err:      fmt.Errorf("marshal openai payload: %w", err),
		}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodPost,
		c.baseURL+"/chat/completions",
		bytes.NewReader(encoded),
	)
	if err != nil {
		return domain.EnrichmentResult{}, &ProviderError{
			Provider: openAIProviderName,
			Cause:    CauseUnexpected,
			Err:      fmt.Errorf("create openai request: %w", err),
		}
	}
	httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return domain.EnrichmentResult{}, &ProviderError{
			Provider: openAIProviderName,
			Cause:    CauseNetwork,
			Err:      fmt.Errorf("openai transport error: %w", err),
		}
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return domain.EnrichmentResult{}, &ProviderError{
			Provider: openAIProviderName,
			Cause:    CauseNetwork,
			Err:      fmt.Errorf("read openai body: %w", err),
		}
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		return domain.EnrichmentResult{}, classifyStatus(openAIProviderName, httpResponse.StatusCode, string(body))
	}

	var raw openAIChatCompletionsResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.EnrichmentResult{}, &ProviderError{
			Provider: openAIProviderName,
			Cause:    CauseMalformedResponse,
			Err:      fmt.Errorf("decode openai response: %w", err),
		}
	}
	if len(raw.Choices) == 0 || strings.TrimSpace(raw.Choices[0].Message.Content) == "" {
		return domain.EnrichmentResult{}, &ProviderError{
			Provider: openAIProviderName,
			Cause:    CauseMalformedResponse,
			Err:      errors.New("openai response without message content"),
		}
	}

	return parseEnrichment(openAIProviderName, raw.Choices[0].Message.Content)
}

type openAIChatCompletionsResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}
