package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/trackline/issue-api/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// IssueRepository abstracts issue persistence for the API and the worker.
//
// SetEnrichment is the only write the enrichment pipeline performs: it updates
// ai_summary and tags together in a single statement, never the rest of the
// row, so concurrent edits from the request layer are not clobbered.
type IssueRepository interface {
	CreateIssue(ctx context.Context, issue *domain.Issue) error
	GetIssue(ctx context.Context, issueID string) (*domain.Issue, error)
	UpdateIssue(ctx context.Context, issue *domain.Issue) error
	DeleteIssue(ctx context.Context, issueID string) error
	ListIssues(ctx context.Context, filter domain.IssueListFilter) ([]*domain.Issue, int, error)
	SetEnrichment(ctx context.Context, issueID string, summary string, tags []string) error
}

// MemoryIssueRepository stores issues in memory for local development and tests.
type MemoryIssueRepository struct {
	mu     sync.RWMutex
	issues map[string]*domain.Issue
}

func NewMemoryIssueRepository() *MemoryIssueRepository {
	return &MemoryIssueRepository{
		issues: make(map[string]*domain.Issue),
	}
}

func (r *MemoryIssueRepository) CreateIssue(_ context.Context, issue *domain.Issue) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.issues[issue.ID] = cloneIssue(issue)
	return nil
}

func (r *MemoryIssueRepository) GetIssue(_ context.Context, issueID string) (*domain.Issue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	issue, ok := r.issues[issueID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneIssue(issue), nil
}

func (r *MemoryIssueRepository) UpdateIssue(_ context.Context, issue *domain.Issue) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.issues[issue.ID]
	if !ok {
		return ErrNotFound
	}

	// Mutable request-layer fields only; enrichment fields are owned by
	// SetEnrichment.
	current.Title = issue.Title
	current.Description = issue.Description
	current.Status = issue.Status
	current.Priority = issue.Priority
	current.UpdatedAt = issue.UpdatedAt
	return nil
}

func (r *MemoryIssueRepository) DeleteIssue(_ context.Context, issueID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.issues[issueID]; !ok {
		return ErrNotFound
	}
	delete(r.issues, issueID)
	return nil
}

func (r *MemoryIssueRepository) ListIssues(
	_ context.Context,
	filter domain.IssueListFilter,
) ([]*domain.Issue, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	items := make([]*domain.Issue, 0, len(r.issues))
	for _, issue := range r.issues {
		if filter.Status != "" && issue.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && issue.Priority != filter.Priority {
			continue
		}
		if filter.Search != "" {
			haystack := strings.ToLower(issue.Title + " " + issue.Description)
			if !strings.Contains(haystack, strings.ToLower(filter.Search)) {
				continue
			}
		}
		items = append(items, cloneIssue(issue))
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	total := len(items)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return []*domain.Issue{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return items[start:end], total, nil
}

func (r *MemoryIssueRepository) SetEnrichment(
	_ context.Context,
	issueID string,
	summary string,
	tags []string,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	issue, ok := r.issues[issueID]
	if !ok {
		return ErrNotFound
	}

	issue.AISummary = &summary
	issue.Tags = append([]string(nil), tags...)
	issue.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneIssue(issue *domain.Issue) *domain.Issue {
	if issue == nil {
		return nil
	}
	clone := *issue
	if issue.AISummary != nil {
		summary := *issue.AISummary
		clone.AISummary = &summary
	}
	if issue.Tags != nil {
		clone.Tags = append([]string(nil), issue.Tags...)
	}
	return &clone
}
