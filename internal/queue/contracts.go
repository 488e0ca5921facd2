package queue

import (
	"context"
	"time"

	"github.com/trackline/issue-api/internal/domain"
)

// Producer sends enrichment jobs to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, message domain.EnrichmentMessage) error
}

// Handler executes one delivered job and reports its terminal disposition.
// The queue interprets the outcome: Completed acks, Retry schedules a delayed
// redelivery, Terminal moves the message to the dead-letter stream. The
// handler itself never sleeps or requeues.
type Handler func(ctx context.Context, message domain.EnrichmentMessage) Outcome

// Consumer delivers enrichment jobs to a handler, acking each message only
// after the handler's outcome has been applied (at-least-once delivery).
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
}

type OutcomeKind int

const (
	OutcomeCompleted OutcomeKind = iota
	OutcomeRetry
	OutcomeTerminal
)

// Outcome is the explicit result of one job execution.
type Outcome struct {
	Kind  OutcomeKind
	Delay time.Duration
	Err   error
}

func Completed() Outcome {
	return Outcome{Kind: OutcomeCompleted}
}

func Retry(delay time.Duration, err error) Outcome {
	return Outcome{Kind: OutcomeRetry, Delay: delay, Err: err}
}

func Terminal(err error) Outcome {
	return Outcome{Kind: OutcomeTerminal, Err: err}
}
