package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

func TestAnthropicClientEnrichSuccess(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.Header.Get("anthropic-version"); got == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"missing version header"}`))
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model":"claude-3-5-sonnet-latest",
			"content":[{"type":"text","text":"{\"summary\":\"Checkout crashes on submit.\",\"tags\":[\"bug\",\"backend\",\"urgent\"]}"}]
		}`))
	}))
	defer server.Close()

	client := NewAnthropicClient(AnthropicClientConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 2 * time.Second,
	})

	result, err := client.Enrich(context.Background(), "Checkout crash", "Submitting the checkout form crashes")
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if result.Summary != "Checkout crashes on submit." {
		t.Fatalf("unexpected summary %q", result.Summary)
	}
	if !reflect.DeepEqual(result.Tags, []string{"bug", "backend", "urgent"}) {
		t.Fatalf("unexpected tags %v", result.Tags)
	}

	if _, ok := captured["max_tokens"]; !ok {
		t.Fatalf("expected max_tokens in payload")
	}
	if _, ok := captured["temperature"]; ok {
		t.Fatalf("did not expect temperature in anthropic payload")
	}
	messages, ok := captured["messages"].([]any)
	if !ok || len(messages) != 1 {
		t.Fatalf("expected a single user message, got %v", captured["messages"])
	}
}

func TestAnthropicClientEnrichRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error"}}`))
	}))
	defer server.Close()

	client := NewAnthropicClient(AnthropicClientConfig{APIKey: "k", BaseURL: server.URL})

	_, err := client.Enrich(context.Background(), "t", "d")
	assertProviderCause(t, err, CauseHTTPStatus)
}

func TestAnthropicClientEnrichEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer server.Close()

	client := NewAnthropicClient(AnthropicClientConfig{APIKey: "k", BaseURL: server.URL})

	_, err := client.Enrich(context.Background(), "t", "d")
	assertProviderCause(t, err, CauseMalformedResponse)
}

func TestAnthropicClientEnrichMalformedContentJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		response := map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": `{"summary": truncated`},
			},
		}
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	client := NewAnthropicClient(AnthropicClientConfig{APIKey: "k", BaseURL: server.URL})

	_, err := client.Enrich(context.Background(), "t", "d")
	assertProviderCause(t, err, CauseMalformedResponse)
}

func TestAnthropicClientEnrichNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	server.Close()

	client := NewAnthropicClient(AnthropicClientConfig{APIKey: "k", BaseURL: server.URL})

	_, err := client.Enrich(context.Background(), "t", "d")
	assertProviderCause(t, err, CauseNetwork)
}
