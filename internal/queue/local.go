package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/trackline/issue-api/internal/domain"
)

// LocalQueue is a single-process fallback used when Redis is not configured.
// Retry delays run on in-process timers, which is fine here because the local
// queue only ever serves one process by definition.
type LocalQueue struct {
	ch     chan domain.EnrichmentMessage
	logger *log.Logger

	dlqMu sync.Mutex
	dlq   []DeadLetter
}

// DeadLetter records a terminally failed job for operator inspection.
type DeadLetter struct {
	Message domain.EnrichmentMessage
	Reason  string
	MovedAt time.Time
}

func NewLocalQueue(bufferSize int, logger *log.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	return &LocalQueue{
		ch:     make(chan domain.EnrichmentMessage, bufferSize),
		logger: logger,
		dlq:    make([]DeadLetter, 0),
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, message domain.EnrichmentMessage) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- message:
		return nil
	}
}

func (q *LocalQueue) EnqueueBatch(ctx context.Context, messages []domain.EnrichmentMessage) error {
	for _, message := range messages {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case q.ch <- message:
		}
	}
	return nil
}

func (q *LocalQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message := <-q.ch:
			outcome := handler(ctx, message)
			switch outcome.Kind {
			case OutcomeCompleted:
			case OutcomeRetry:
				message.Attempt++
				q.scheduleRetry(ctx, message, outcome.Delay)
			case OutcomeTerminal:
				reason := "retry budget exhausted"
				if outcome.Err != nil {
					reason = outcome.Err.Error()
				}
				q.moveToDLQ(message, reason)
			}
		}
	}
}

func (q *LocalQueue) scheduleRetry(ctx context.Context, message domain.EnrichmentMessage, delay time.Duration) {
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			select {
			case <-ctx.Done():
			case q.ch <- message:
			}
		}
	}()
}

func (q *LocalQueue) moveToDLQ(message domain.EnrichmentMessage, reason string) {
	q.dlqMu.Lock()
	q.dlq = append(q.dlq, DeadLetter{
		Message: message,
		Reason:  reason,
		MovedAt: time.Now().UTC(),
	})
	q.dlqMu.Unlock()
	if q.logger != nil {
		q.logger.Printf("local queue moved message to DLQ issue_id=%s reason=%s", message.IssueID, reason)
	}
}

func (q *LocalQueue) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}

// DeadLetters returns a snapshot of the dead-letter queue.
func (q *LocalQueue) DeadLetters() []DeadLetter {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return append([]DeadLetter(nil), q.dlq...)
}
