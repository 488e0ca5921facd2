package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/trackline/issue-api/internal/domain"
)

type SlackNotifierConfig struct {
	WebhookURL string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// SlackNotifier posts a Block Kit message to an incoming webhook when an issue
// is created. Notification failures are the caller's to log; they never affect
// the issue itself.
type SlackNotifier struct {
	webhookURL string
	timeout    time.Duration
	httpClient *http.Client
}

func NewSlackNotifier(config SlackNotifierConfig) *SlackNotifier {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &SlackNotifier{
		webhookURL: strings.TrimSpace(config.WebhookURL),
		timeout:    config.Timeout,
		httpClient: config.HTTPClient,
	}
}

func (n *SlackNotifier) Enabled() bool {
	return n.webhookURL != ""
}

func (n *SlackNotifier) IssueCreated(ctx context.Context, issue *domain.Issue) error {
	if !n.Enabled() {
		return nil
	}

	description := issue.Description
	if strings.TrimSpace(description) == "" {
		description = "_No description provided_"
	}

	payload := map[string]any{
		"blocks": []map[string]any{
			{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": "New Issue Created",
				},
			},
			{
				"type": "section",
				"fields": []map[string]any{
					{"type": "mrkdwn", "text": "*Title:*\n" + issue.Title},
					{"type": "mrkdwn", "text": "*Priority:*\n" + string(issue.Priority)},
				},
			},
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": "*Description:*\n" + description,
				},
			},
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, n.webhookURL, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := n.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("slack transport error: %w", err)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("slack webhook status %d", response.StatusCode)
	}
	return nil
}
