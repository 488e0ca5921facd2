package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/trackline/issue-api/internal/domain"
	"github.com/trackline/issue-api/internal/enrich"
	"github.com/trackline/issue-api/internal/llm"
	"github.com/trackline/issue-api/internal/policy"
	"github.com/trackline/issue-api/internal/queue"
	"github.com/trackline/issue-api/internal/repository"
	"github.com/trackline/issue-api/internal/retry"
)

// Processor consumes enrichment jobs and applies exactly one atomic write of
// ai_summary+tags per completed attempt. The whole job body is safe to re-run:
// a redelivered message simply overwrites both fields with a fresh result.
type Processor struct {
	consumer queue.Consumer
	repo     repository.IssueRepository
	enricher llm.Enricher
	policy   retry.Policy
	logger   *log.Logger
}

// NewProcessor wires the job runner. enricher may be nil, meaning no provider
// is configured and every job uses the local fallback.
func NewProcessor(
	consumer queue.Consumer,
	repo repository.IssueRepository,
	enricher llm.Enricher,
	policy retry.Policy,
	logger *log.Logger,
) *Processor {
	return &Processor{
		consumer: consumer,
		repo:     repo,
		enricher: enricher,
		policy:   policy,
		logger:   logger,
	}
}

func (p *Processor) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.ProcessMessage)
		if err == nil || ctx.Err() != nil {
			return
		}
		if p.logger != nil {
			p.logger.Printf("worker consume loop error: %v", err)
		}

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// ProcessMessage runs one enrichment job to a terminal disposition.
//
// Provider failures degrade to the fallback result and never fail the job;
// only infrastructure failures (issue store unreachable) produce a retry
// outcome, and the retry policy decides when those become terminal.
func (p *Processor) ProcessMessage(ctx context.Context, message domain.EnrichmentMessage) queue.Outcome {
	issue, err := p.repo.GetIssue(ctx, message.IssueID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// The referenced issue vanished; the job is a successful no-op.
			if p.logger != nil {
				p.logger.Printf("issue %s not found for enrichment, skipping", message.IssueID)
			}
			return queue.Completed()
		}
		return p.retryOrTerminal(message, fmt.Errorf("load issue %s: %w", message.IssueID, err))
	}

	result := p.buildResult(ctx, issue)

	if err := p.repo.SetEnrichment(ctx, issue.ID, result.Summary, result.Tags); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Deleted mid-job; nothing left to enrich.
			return queue.Completed()
		}
		return p.retryOrTerminal(message, fmt.Errorf("persist enrichment for issue %s: %w", issue.ID, err))
	}

	if p.logger != nil {
		p.logger.Printf("issue enriched issue_id=%s tags=%d attempt=%d", issue.ID, len(result.Tags), message.Attempt)
	}
	return queue.Completed()
}

func (p *Processor) buildResult(ctx context.Context, issue *domain.Issue) domain.EnrichmentResult {
	if p.enricher == nil {
		return enrich.Fallback(issue.Title, issue.Description)
	}

	result, err := p.enricher.Enrich(
		ctx,
		policy.MaskPII(issue.Title),
		policy.MaskPII(issue.Description),
	)
	if err != nil {
		if p.logger != nil {
			p.logger.Printf("provider enrichment failed, using fallback issue_id=%s err=%v", issue.ID, err)
		}
		return enrich.Fallback(issue.Title, issue.Description)
	}
	return result
}

func (p *Processor) retryOrTerminal(message domain.EnrichmentMessage, err error) queue.Outcome {
	delay, ok := p.policy.Next(message.Attempt)
	if !ok {
		if p.logger != nil {
			p.logger.Printf("enrichment terminally failed issue_id=%s attempts=%d err=%v", message.IssueID, message.Attempt+1, err)
		}
		return queue.Terminal(err)
	}
	if p.logger != nil {
		p.logger.Printf("enrichment failed, scheduling retry issue_id=%s attempt=%d delay=%s err=%v", message.IssueID, message.Attempt, delay, err)
	}
	return queue.Retry(delay, err)
}
