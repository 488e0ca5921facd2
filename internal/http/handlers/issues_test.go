package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/trackline/issue-api/internal/domain"
	"github.com/trackline/issue-api/internal/repository"
	"github.com/trackline/issue-api/internal/service"
)

type noopProducer struct{}

func (noopProducer) Enqueue(_ context.Context, _ domain.EnrichmentMessage) error {
	return nil
}

func newTestAPI() (*API, repository.IssueRepository) {
	repo := repository.NewMemoryIssueRepository()
	svc := service.NewIssuesService(repo, noopProducer{}, nil, log.New(io.Discard, "", 0))
	return NewAPI(svc), repo
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.NewDecoder(recorder.Body).Decode(target); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestCreateIssueReturnsCreated(t *testing.T) {
	api, _ := newTestAPI()

	body := `{"title":"Login button broken","description":"The login button does not respond","priority":"high"}`
	request := httptest.NewRequest(http.MethodPost, "/v1/issues", strings.NewReader(body))
	recorder := httptest.NewRecorder()

	api.Issues(recorder, request)

	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var response issueResponse
	decodeBody(t, recorder, &response)
	if response.ID == "" {
		t.Fatal("expected a generated issue id")
	}
	if response.Status != "open" {
		t.Fatalf("expected status open, got %q", response.Status)
	}
	if response.Priority != "high" {
		t.Fatalf("expected priority high, got %q", response.Priority)
	}
	if response.AISummary != nil {
		t.Fatalf("ai_summary must be null on creation, got %v", response.AISummary)
	}
	if response.Tags != nil {
		t.Fatalf("tags must be null on creation, got %v", response.Tags)
	}
}

func TestCreateIssueValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"title too short", `{"title":"ab","description":"valid description"}`},
		{"description too short", `{"title":"valid title","description":"abcd"}`},
		{"unknown priority", `{"title":"valid title","description":"valid description","priority":"whenever"}`},
		{"malformed json", `{"title":`},
		{"unknown field", `{"title":"valid title","description":"valid description","reporter":"x"}`},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			api, _ := newTestAPI()
			request := httptest.NewRequest(http.MethodPost, "/v1/issues", strings.NewReader(testCase.body))
			recorder := httptest.NewRecorder()

			api.Issues(recorder, request)

			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", recorder.Code, recorder.Body.String())
			}
			var payload errorPayload
			decodeBody(t, recorder, &payload)
			if payload.Error.Code != "invalid_request" {
				t.Fatalf("expected invalid_request code, got %q", payload.Error.Code)
			}
		})
	}
}

func TestCreateIssueAcceptsMultibyteTitleAtCharacterLimit(t *testing.T) {
	api, _ := newTestAPI()

	// 60 characters but 180 bytes; the limits count characters.
	title := strings.Repeat("障", 60)
	description := strings.Repeat("画面が固まる", 80)
	body := fmt.Sprintf(`{"title":%q,"description":%q}`, title, description)
	request := httptest.NewRequest(http.MethodPost, "/v1/issues", strings.NewReader(body))
	recorder := httptest.NewRecorder()

	api.Issues(recorder, request)

	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var response issueResponse
	decodeBody(t, recorder, &response)
	if response.Title != title {
		t.Fatalf("title was altered: %q", response.Title)
	}
}

func TestGetIssueNotFound(t *testing.T) {
	api, _ := newTestAPI()

	request := httptest.NewRequest(http.MethodGet, "/v1/issues/does-not-exist", nil)
	recorder := httptest.NewRecorder()

	api.IssueByID(recorder, request)

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestGetIssueReturnsEnrichmentFields(t *testing.T) {
	api, repo := newTestAPI()

	created := createIssueViaAPI(t, api, `{"title":"Slow dashboard","description":"Dashboard takes 20 seconds to load"}`)
	if err := repo.SetEnrichment(context.Background(), created.ID, "a summary", []string{"needs-review", "performance"}); err != nil {
		t.Fatalf("seed enrichment: %v", err)
	}

	request := httptest.NewRequest(http.MethodGet, "/v1/issues/"+created.ID, nil)
	recorder := httptest.NewRecorder()
	api.IssueByID(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var response issueResponse
	decodeBody(t, recorder, &response)
	if response.AISummary == nil || *response.AISummary != "a summary" {
		t.Fatalf("expected enriched summary, got %v", response.AISummary)
	}
	if len(response.Tags) != 2 || response.Tags[0] != "needs-review" {
		t.Fatalf("expected enriched tags, got %v", response.Tags)
	}
}

func TestUpdateIssue(t *testing.T) {
	api, _ := newTestAPI()
	created := createIssueViaAPI(t, api, `{"title":"Original title","description":"Original description text"}`)

	body := `{"status":"resolved","priority":"low"}`
	request := httptest.NewRequest(http.MethodPut, "/v1/issues/"+created.ID, strings.NewReader(body))
	recorder := httptest.NewRecorder()
	api.IssueByID(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var response issueResponse
	decodeBody(t, recorder, &response)
	if response.Status != "resolved" || response.Priority != "low" {
		t.Fatalf("edits not applied: %+v", response)
	}
	if response.Title != "Original title" {
		t.Fatalf("unset fields must be preserved, got %q", response.Title)
	}
}

func TestUpdateIssueRejectsUnknownStatus(t *testing.T) {
	api, _ := newTestAPI()
	created := createIssueViaAPI(t, api, `{"title":"Status check","description":"Validating status transitions"}`)

	request := httptest.NewRequest(http.MethodPut, "/v1/issues/"+created.ID, strings.NewReader(`{"status":"archived"}`))
	recorder := httptest.NewRecorder()
	api.IssueByID(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestDeleteIssue(t *testing.T) {
	api, _ := newTestAPI()
	created := createIssueViaAPI(t, api, `{"title":"Short lived","description":"Deleted right after creation"}`)

	request := httptest.NewRequest(http.MethodDelete, "/v1/issues/"+created.ID, nil)
	recorder := httptest.NewRecorder()
	api.IssueByID(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}

	request = httptest.NewRequest(http.MethodGet, "/v1/issues/"+created.ID, nil)
	recorder = httptest.NewRecorder()
	api.IssueByID(recorder, request)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", recorder.Code)
	}
}

func TestListIssuesFiltersByStatus(t *testing.T) {
	api, repo := newTestAPI()
	created := createIssueViaAPI(t, api, `{"title":"Open issue","description":"This one stays open"}`)
	other := createIssueViaAPI(t, api, `{"title":"Closed issue","description":"This one gets closed"}`)

	closed, err := repo.GetIssue(context.Background(), other.ID)
	if err != nil {
		t.Fatalf("load issue: %v", err)
	}
	closed.Status = domain.IssueStatusClosed
	if err := repo.UpdateIssue(context.Background(), closed); err != nil {
		t.Fatalf("update issue: %v", err)
	}

	request := httptest.NewRequest(http.MethodGet, "/v1/issues?status=open", nil)
	recorder := httptest.NewRecorder()
	api.Issues(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var response struct {
		Items []issueResponse `json:"items"`
		Total int             `json:"total"`
	}
	decodeBody(t, recorder, &response)
	if response.Total != 1 || len(response.Items) != 1 {
		t.Fatalf("expected one open issue, got total=%d items=%d", response.Total, len(response.Items))
	}
	if response.Items[0].ID != created.ID {
		t.Fatalf("expected the open issue, got %q", response.Items[0].ID)
	}
}

func TestListIssuesRejectsUnknownFilter(t *testing.T) {
	api, _ := newTestAPI()

	request := httptest.NewRequest(http.MethodGet, "/v1/issues?status=archived", nil)
	recorder := httptest.NewRecorder()
	api.Issues(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func createIssueViaAPI(t *testing.T, api *API, body string) issueResponse {
	t.Helper()
	request := httptest.NewRequest(http.MethodPost, "/v1/issues", strings.NewReader(body))
	recorder := httptest.NewRecorder()
	api.Issues(recorder, request)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create fixture issue: %d %s", recorder.Code, recorder.Body.String())
	}
	var response issueResponse
	decodeBody(t, recorder, &response)
	return response
}
