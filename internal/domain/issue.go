package domain

import "time"

type IssueStatus string

const (
	IssueStatusOpen       IssueStatus = "open"
	IssueStatusInProgress IssueStatus = "in_progress"
	IssueStatusResolved   IssueStatus = "resolved"
	IssueStatusClosed     IssueStatus = "closed"
)

type IssuePriority string

const (
	IssuePriorityLow      IssuePriority = "low"
	IssuePriorityMedium   IssuePriority = "medium"
	IssuePriorityHigh     IssuePriority = "high"
	IssuePriorityCritical IssuePriority = "critical"
)

// Issue is the record shared with the request layer. The enrichment pipeline
// only ever writes AISummary and Tags, always both together.
type Issue struct {
	ID          string
	Title       string
	Description string
	Status      IssueStatus
	Priority    IssuePriority
	AISummary   *string
	Tags        []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Enriched reports whether an enrichment attempt has completed for the issue.
func (i *Issue) Enriched() bool {
	return i.AISummary != nil && i.Tags != nil
}

func ValidIssueStatus(value IssueStatus) bool {
	switch value {
	case IssueStatusOpen, IssueStatusInProgress, IssueStatusResolved, IssueStatusClosed:
		return true
	default:
		return false
	}
}

func ValidIssuePriority(value IssuePriority) bool {
	switch value {
	case IssuePriorityLow, IssuePriorityMedium, IssuePriorityHigh, IssuePriorityCritical:
		return true
	default:
		return false
	}
}

type IssueListFilter struct {
	Status   IssueStatus
	Priority IssuePriority
	Search   string
	Page     int
	PageSize int
}

// EnrichmentResult is the single output type of the pipeline, whether it came
// from a provider or from the local fallback.
type EnrichmentResult struct {
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

// EnrichmentMessage is the transport format for queued enrichment jobs.
// The producer/consumer payload contract is the issue id alone; Attempt and
// EnqueuedAt are broker-side metadata carried next to the payload.
type EnrichmentMessage struct {
	IssueID    string    `json:"issue_id"`
	Attempt    int       `json:"-"`
	EnqueuedAt time.Time `json:"-"`
}
