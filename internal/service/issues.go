package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/trackline/issue-api/internal/domain"
	"github.com/trackline/issue-api/internal/notify"
	"github.com/trackline/issue-api/internal/queue"
	"github.com/trackline/issue-api/internal/repository"
)

type CreateIssueInput struct {
	Title       string
	Description string
	Priority    domain.IssuePriority
}

type UpdateIssueInput struct {
	Title       *string
	Description *string
	Status      *domain.IssueStatus
	Priority    *domain.IssuePriority
}

// IssuesService owns the issue lifecycle on the request side: persistence,
// the enrichment handoff, and the creation notification.
type IssuesService struct {
	repo     repository.IssueRepository
	producer queue.Producer
	notifier *notify.SlackNotifier
	logger   *log.Logger
}

func NewIssuesService(
	repo repository.IssueRepository,
	producer queue.Producer,
	notifier *notify.SlackNotifier,
	logger *log.Logger,
) *IssuesService {
	return &IssuesService{
		repo:     repo,
		producer: producer,
		notifier: notifier,
		logger:   logger,
	}
}

// Create persists the issue and enqueues exactly one enrichment job for it.
// Enrichment and notification problems are logged, never surfaced: the caller
// sees the created issue with ai_summary/tags still null.
func (s *IssuesService) Create(ctx context.Context, input CreateIssueInput) (*domain.Issue, error) {
	now := time.Now().UTC()
	issue := &domain.Issue{
		ID:          uuid.NewString(),
		Title:       input.Title,
		Description: input.Description,
		Status:      domain.IssueStatusOpen,
		Priority:    input.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if issue.Priority == "" {
		issue.Priority = domain.IssuePriorityMedium
	}

	if err := s.repo.CreateIssue(ctx, issue); err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}

	message := domain.EnrichmentMessage{
		IssueID:    issue.ID,
		Attempt:    0,
		EnqueuedAt: now,
	}
	if err := s.producer.Enqueue(ctx, message); err != nil && s.logger != nil {
		s.logger.Printf("failed to enqueue enrichment issue_id=%s err=%v", issue.ID, err)
	}

	if s.notifier != nil && s.notifier.Enabled() {
		go func(created domain.Issue) {
			notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.notifier.IssueCreated(notifyCtx, &created); err != nil && s.logger != nil {
				s.logger.Printf("failed to send slack notification issue_id=%s err=%v", created.ID, err)
			}
		}(*issue)
	}

	return issue, nil
}

func (s *IssuesService) Get(ctx context.Context, issueID string) (*domain.Issue, error) {
	return s.repo.GetIssue(ctx, issueID)
}

func (s *IssuesService) List(
	ctx context.Context,
	filter domain.IssueListFilter,
) ([]*domain.Issue, int, error) {
	return s.repo.ListIssues(ctx, filter)
}

// Update applies partial edits to the request-owned fields. Enrichment fields
// are untouched; they belong to the worker's atomic write.
func (s *IssuesService) Update(ctx context.Context, issueID string, input UpdateIssueInput) (*domain.Issue, error) {
	issue, err := s.repo.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}

	if input.Title != nil {
		issue.Title = *input.Title
	}
	if input.Description != nil {
		issue.Description = *input.Description
	}
	if input.Status != nil {
		issue.Status = *input.Status
	}
	if input.Priority != nil {
		issue.Priority = *input.Priority
	}
	issue.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpdateIssue(ctx, issue); err != nil {
		return nil, fmt.Errorf("update issue: %w", err)
	}
	return issue, nil
}

func (s *IssuesService) Delete(ctx context.Context, issueID string) error {
	return s.repo.DeleteIssue(ctx, issueID)
}
