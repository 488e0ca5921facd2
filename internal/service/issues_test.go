package service

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/trackline/issue-api/internal/domain"
	"github.com/trackline/issue-api/internal/repository"
)

type recordingProducer struct {
	mu       sync.Mutex
	messages []domain.EnrichmentMessage
	err      error
}

func (p *recordingProducer) Enqueue(_ context.Context, message domain.EnrichmentMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, message)
	return nil
}

func (p *recordingProducer) enqueued() []domain.EnrichmentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.EnrichmentMessage(nil), p.messages...)
}

func newTestService(repo repository.IssueRepository, producer *recordingProducer) *IssuesService {
	return NewIssuesService(repo, producer, nil, log.New(io.Discard, "", 0))
}

func TestCreateEnqueuesExactlyOneJob(t *testing.T) {
	repo := repository.NewMemoryIssueRepository()
	producer := &recordingProducer{}
	svc := newTestService(repo, producer)

	issue, err := svc.Create(context.Background(), CreateIssueInput{
		Title:       "Login button broken",
		Description: "The login button does not respond when clicked",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	messages := producer.enqueued()
	if len(messages) != 1 {
		t.Fatalf("expected exactly one enrichment job, got %d", len(messages))
	}
	if messages[0].IssueID != issue.ID {
		t.Fatalf("job references %q, issue is %q", messages[0].IssueID, issue.ID)
	}
	if messages[0].Attempt != 0 {
		t.Fatalf("fresh job must start at attempt 0, got %d", messages[0].Attempt)
	}
}

func TestCreateDefaults(t *testing.T) {
	repo := repository.NewMemoryIssueRepository()
	svc := newTestService(repo, &recordingProducer{})

	issue, err := svc.Create(context.Background(), CreateIssueInput{
		Title:       "Export CSV",
		Description: "Please add a CSV export for the issue list",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if issue.Status != domain.IssueStatusOpen {
		t.Fatalf("expected new issues to open as %q, got %q", domain.IssueStatusOpen, issue.Status)
	}
	if issue.Priority != domain.IssuePriorityMedium {
		t.Fatalf("expected default priority medium, got %q", issue.Priority)
	}
	if issue.AISummary != nil || issue.Tags != nil {
		t.Fatalf("enrichment fields must start null, got summary=%v tags=%v", issue.AISummary, issue.Tags)
	}
}

func TestCreateSucceedsWhenEnqueueFails(t *testing.T) {
	repo := repository.NewMemoryIssueRepository()
	producer := &recordingProducer{err: errors.New("broker unreachable")}
	svc := newTestService(repo, producer)

	issue, err := svc.Create(context.Background(), CreateIssueInput{
		Title:       "Broker outage",
		Description: "Issue creation must survive a dead broker",
	})
	if err != nil {
		t.Fatalf("create should not surface enqueue failures, got %v", err)
	}

	stored, err := repo.GetIssue(context.Background(), issue.ID)
	if err != nil {
		t.Fatalf("issue was not persisted: %v", err)
	}
	if stored.AISummary != nil {
		t.Fatalf("expected ai_summary to remain null, got %v", stored.AISummary)
	}
}

func TestUpdatePreservesEnrichmentFields(t *testing.T) {
	repo := repository.NewMemoryIssueRepository()
	svc := newTestService(repo, &recordingProducer{})

	issue, err := svc.Create(context.Background(), CreateIssueInput{
		Title:       "Original title",
		Description: "Original description for the update test",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.SetEnrichment(context.Background(), issue.ID, "a summary", []string{"needs-review"}); err != nil {
		t.Fatalf("seed enrichment: %v", err)
	}

	newTitle := "Edited title"
	newStatus := domain.IssueStatusInProgress
	updated, err := svc.Update(context.Background(), issue.ID, UpdateIssueInput{
		Title:  &newTitle,
		Status: &newStatus,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if updated.Title != "Edited title" || updated.Status != domain.IssueStatusInProgress {
		t.Fatalf("edits were not applied: %+v", updated)
	}
	if updated.Description != "Original description for the update test" {
		t.Fatalf("unset fields must be preserved, got %q", updated.Description)
	}

	stored, _ := repo.GetIssue(context.Background(), issue.ID)
	if stored.AISummary == nil || *stored.AISummary != "a summary" {
		t.Fatalf("update must never touch ai_summary, got %v", stored.AISummary)
	}
	if len(stored.Tags) != 1 || stored.Tags[0] != "needs-review" {
		t.Fatalf("update must never touch tags, got %v", stored.Tags)
	}
}

func TestUpdateMissingIssue(t *testing.T) {
	repo := repository.NewMemoryIssueRepository()
	svc := newTestService(repo, &recordingProducer{})

	title := "whatever"
	_, err := svc.Update(context.Background(), "missing", UpdateIssueInput{Title: &title})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRemovesIssue(t *testing.T) {
	repo := repository.NewMemoryIssueRepository()
	svc := newTestService(repo, &recordingProducer{})

	issue, err := svc.Create(context.Background(), CreateIssueInput{
		Title:       "Short lived",
		Description: "This issue is deleted right after creation",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Delete(context.Background(), issue.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(context.Background(), issue.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected deleted issue to be gone, got %v", err)
	}
}
