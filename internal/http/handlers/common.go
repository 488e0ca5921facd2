package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/trackline/issue-api/internal/domain"
	"github.com/trackline/issue-api/internal/http/middleware"
	"github.com/trackline/issue-api/internal/service"
)

var errInvalidPayload = errors.New("invalid payload")

type API struct {
	issues *service.IssuesService
}

func NewAPI(issues *service.IssuesService) *API {
	return &API{issues: issues}
}

type createIssueRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority,omitempty"`
}

type updateIssueRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	Priority    *string `json:"priority,omitempty"`
}

type issueResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	AISummary   *string   `json:"ai_summary"`
	Tags        []string  `json:"tags"`
	CreatedAt   string    `json:"created_at"`
	UpdatedAt   string    `json:"updated_at"`
}

func toIssueResponse(issue *domain.Issue) issueResponse {
	return issueResponse{
		ID:          issue.ID,
		Title:       issue.Title,
		Description: issue.Description,
		Status:      string(issue.Status),
		Priority:    string(issue.Priority),
		AISummary:   issue.AISummary,
		Tags:        issue.Tags,
		CreatedAt:   issue.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		UpdatedAt:   issue.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

func validateTitle(title string) error {
	// Limits are in characters, not bytes; multibyte titles count once per rune.
	length := utf8.RuneCountInString(strings.TrimSpace(title))
	if length < 3 || length > 100 {
		return errInvalidPayload
	}
	return nil
}

func validateDescription(description string) error {
	length := utf8.RuneCountInString(strings.TrimSpace(description))
	if length < 5 || length > 1000 {
		return errInvalidPayload
	}
	return nil
}

func parsePositiveInt(value string, fallback int) int {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
