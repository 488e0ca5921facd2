package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/trackline/issue-api/internal/domain"
	"github.com/trackline/issue-api/internal/repository"
	"github.com/trackline/issue-api/internal/service"
)

// Issues handles the collection routes: GET /v1/issues and POST /v1/issues.
func (api *API) Issues(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		api.listIssues(w, r)
	case http.MethodPost:
		api.createIssue(w, r)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

// IssueByID handles GET/PUT/DELETE /v1/issues/{id}.
func (api *API) IssueByID(w http.ResponseWriter, r *http.Request) {
	issueID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/v1/issues/"))
	if issueID == "" || strings.Contains(issueID, "/") {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "issue id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		api.getIssue(w, r, issueID)
	case http.MethodPut:
		api.updateIssue(w, r, issueID)
	case http.MethodDelete:
		api.deleteIssue(w, r, issueID)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (api *API) createIssue(w http.ResponseWriter, r *http.Request) {
	var request createIssueRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if err := validateTitle(request.Title); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "title must be between 3 and 100 characters")
		return
	}
	if err := validateDescription(request.Description); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "description must be between 5 and 1000 characters")
		return
	}

	priority := domain.IssuePriorityMedium
	if strings.TrimSpace(request.Priority) != "" {
		priority = domain.IssuePriority(request.Priority)
		if !domain.ValidIssuePriority(priority) {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "priority must be one of low, medium, high, critical")
			return
		}
	}

	issue, err := api.issues.Create(r.Context(), service.CreateIssueInput{
		Title:       strings.TrimSpace(request.Title),
		Description: strings.TrimSpace(request.Description),
		Priority:    priority,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to create issue")
		return
	}

	writeJSON(w, http.StatusCreated, toIssueResponse(issue))
}

func (api *API) listIssues(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := domain.IssueListFilter{
		Search:   strings.TrimSpace(query.Get("search")),
		Page:     parsePositiveInt(query.Get("page"), 1),
		PageSize: parsePositiveInt(query.Get("page_size"), 20),
	}
	if status := strings.TrimSpace(query.Get("status")); status != "" {
		filter.Status = domain.IssueStatus(status)
		if !domain.ValidIssueStatus(filter.Status) {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "unknown status filter")
			return
		}
	}
	if priority := strings.TrimSpace(query.Get("priority")); priority != "" {
		filter.Priority = domain.IssuePriority(priority)
		if !domain.ValidIssuePriority(filter.Priority) {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "unknown priority filter")
			return
		}
	}

	issues, total, err := api.issues.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to list issues")
		return
	}

	items := make([]issueResponse, 0, len(issues))
	for _, issue := range issues {
		items = append(items, toIssueResponse(issue))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":     items,
		"total":     total,
		"page":      filter.Page,
		"page_size": filter.PageSize,
	})
}

func (api *API) getIssue(w http.ResponseWriter, r *http.Request, issueID string) {
	issue, err := api.issues.Get(r.Context(), issueID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "issue not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load issue")
		return
	}
	writeJSON(w, http.StatusOK, toIssueResponse(issue))
}

func (api *API) updateIssue(w http.ResponseWriter, r *http.Request, issueID string) {
	var request updateIssueRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	input := service.UpdateIssueInput{}
	if request.Title != nil {
		if err := validateTitle(*request.Title); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "title must be between 3 and 100 characters")
			return
		}
		trimmed := strings.TrimSpace(*request.Title)
		input.Title = &trimmed
	}
	if request.Description != nil {
		if err := validateDescription(*request.Description); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "description must be between 5 and 1000 characters")
			return
		}
		trimmed := strings.TrimSpace(*request.Description)
		input.Description = &trimmed
	}
	if request.Status != nil {
		status := domain.IssueStatus(*request.Status)
		if !domain.ValidIssueStatus(status) {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "unknown status")
			return
		}
		input.Status = &status
	}
	if request.Priority != nil {
		priority := domain.IssuePriority(*request.Priority)
		if !domain.ValidIssuePriority(priority) {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "unknown priority")
			return
		}
		input.Priority = &priority
	}

	issue, err := api.issues.Update(r.Context(), issueID, input)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "issue not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to update issue")
		return
	}
	writeJSON(w, http.StatusOK, toIssueResponse(issue))
}

func (api *API) deleteIssue(w http.ResponseWriter, r *http.Request, issueID string) {
	if err := api.issues.Delete(r.Context(), issueID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "issue not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to delete issue")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
