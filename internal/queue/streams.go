package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/trackline/issue-api/internal/domain"
)

type StreamsConfig struct {
	Addr      string
	Password  string
	DB        int
	Stream    string
	DLQStream string
	RetrySet  string
	Group     string
	Consumer  string
	// ClaimMinIdle is how long a delivered-but-unacked entry must sit idle
	// before another consumer may take it over.
	ClaimMinIdle time.Duration
	// ReadBlock bounds how long a single XREADGROUP call blocks.
	ReadBlock time.Duration
}

// StreamsQueue implements Producer+Consumer backed by Redis Streams with a
// consumer group. Delayed redelivery is broker-side: retry messages are parked
// in a sorted set scored by their ready-time and promoted back into the stream
// by the consume loop, so no worker slot is held while a retry waits.
type StreamsQueue struct {
	client       *redis.Client
	stream       string
	dlqStream    string
	retrySet     string
	group        string
	consumer     string
	claimMinIdle time.Duration
	readBlock    time.Duration
}

func NewStreamsQueue(ctx context.Context, cfg StreamsConfig) (*StreamsQueue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "issue_enrich"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = "issue_enrich_dlq"
	}
	if cfg.RetrySet == "" {
		cfg.RetrySet = "issue_enrich_retry"
	}
	if cfg.Group == "" {
		cfg.Group = "issue_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = 60 * time.Second
	}
	if cfg.ReadBlock <= 0 {
		cfg.ReadBlock = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	queue := &StreamsQueue{
		client:       client,
		stream:       cfg.Stream,
		dlqStream:    cfg.DLQStream,
		retrySet:     cfg.RetrySet,
		group:        cfg.Group,
		consumer:     cfg.Consumer,
		claimMinIdle: cfg.ClaimMinIdle,
		readBlock:    cfg.ReadBlock,
	}
	if err := queue.ensureGroup(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return queue, nil
}

func (q *StreamsQueue) Close() error {
	return q.client.Close()
}

func (q *StreamsQueue) Enqueue(ctx context.Context, message domain.EnrichmentMessage) error {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: messageValues(message),
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) EnqueueBatch(ctx context.Context, messages []domain.EnrichmentMessage) error {
	if len(messages) == 0 {
		return nil
	}

	pipeline := q.client.Pipeline()
	for _, message := range messages {
		pipeline.XAdd(ctx, &redis.XAddArgs{
			Stream: q.stream,
			Values: messageValues(message),
		})
	}

	if _, err := pipeline.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue batch to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) Consume(ctx context.Context, handler Handler) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := q.promoteDueRetries(ctx); err != nil && !isContextErr(err) {
			return err
		}

		if err := q.reclaimPending(ctx, handler); err != nil && !isContextErr(err) {
			return err
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    10,
			Block:    q.readBlock,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if isContextErr(err) {
				return err
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, item := range stream.Messages {
				q.dispatch(ctx, handler, item)
			}
		}
	}
}

// dispatch runs the handler for one stream entry and settles it according to
// the outcome. The entry is only acked once its terminal record (DLQ write or
// retry parking) is durable; on a failed DLQ write it stays pending so the
// reclaim pass delivers it again.
func (q *StreamsQueue) dispatch(ctx context.Context, handler Handler, item redis.XMessage) {
	message, parseErr := parseStreamMessage(item)
	if parseErr != nil {
		if err := q.sendToDLQ(ctx, domain.EnrichmentMessage{}, item.ID, parseErr.Error()); err != nil {
			return
		}
		_ = q.ackAndDelete(ctx, item.ID)
		return
	}

	outcome := handler(ctx, message)
	switch outcome.Kind {
	case OutcomeCompleted:
		_ = q.ackAndDelete(ctx, item.ID)
	case OutcomeRetry:
		message.Attempt++
		if scheduleErr := q.scheduleRetry(ctx, message, outcome.Delay); scheduleErr != nil {
			if err := q.sendToDLQ(ctx, message, item.ID, fmt.Sprintf("schedule retry failed: %v", scheduleErr)); err != nil {
				return
			}
		}
		_ = q.ackAndDelete(ctx, item.ID)
	case OutcomeTerminal:
		reason := "retry budget exhausted"
		if outcome.Err != nil {
			reason = outcome.Err.Error()
		}
		if err := q.sendToDLQ(ctx, message, item.ID, reason); err != nil {
			return
		}
		_ = q.ackAndDelete(ctx, item.ID)
	}
}

// reclaimPending takes over entries that another consumer read but never
// acked, which is what the pending list looks like after a worker crash
// mid-job. Claimed entries run through the same dispatch path as fresh ones.
func (q *StreamsQueue) reclaimPending(ctx context.Context, handler Handler) error {
	start := "0-0"
	for {
		messages, next, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: q.consumer,
			MinIdle:  q.claimMinIdle,
			Start:    start,
			Count:    10,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if isContextErr(err) {
				return err
			}
			return fmt.Errorf("xautoclaim: %w", err)
		}

		for _, item := range messages {
			q.dispatch(ctx, handler, item)
		}

		if next == "0-0" || len(messages) == 0 {
			return nil
		}
		start = next
	}
}

type retryEnvelope struct {
	RetryID    string    `json:"retry_id"`
	IssueID    string    `json:"issue_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// scheduleRetry parks the message in the retry set; the score is the unix
// millisecond timestamp at which it becomes deliverable again.
func (q *StreamsQueue) scheduleRetry(
	ctx context.Context,
	message domain.EnrichmentMessage,
	delay time.Duration,
) error {
	envelope := retryEnvelope{
		RetryID:    uuid.NewString(),
		IssueID:    message.IssueID,
		Attempt:    message.Attempt,
		EnqueuedAt: message.EnqueuedAt,
	}
	member, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal retry envelope: %w", err)
	}

	readyAt := time.Now().Add(delay).UnixMilli()
	if err := q.client.ZAdd(ctx, q.retrySet, redis.Z{
		Score:  float64(readyAt),
		Member: string(member),
	}).Err(); err != nil {
		return fmt.Errorf("zadd retry set: %w", err)
	}
	return nil
}

// promoteDueRetries moves ripe retry messages from the sorted set back into
// the stream. Runs at the top of every consume iteration; any consumer in the
// group may promote any due retry.
func (q *StreamsQueue) promoteDueRetries(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := q.client.ZRangeByScore(ctx, q.retrySet, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: 100,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("zrangebyscore retry set: %w", err)
	}

	for _, member := range members {
		// Claim the member first; a zero removal means another consumer
		// already promoted it.
		removed, err := q.client.ZRem(ctx, q.retrySet, member).Result()
		if err != nil {
			return fmt.Errorf("zrem retry set: %w", err)
		}
		if removed == 0 {
			continue
		}

		var envelope retryEnvelope
		if err := json.Unmarshal([]byte(member), &envelope); err != nil {
			_ = q.sendToDLQ(ctx, domain.EnrichmentMessage{}, "", fmt.Sprintf("malformed retry envelope: %v", err))
			continue
		}

		message := domain.EnrichmentMessage{
			IssueID:    envelope.IssueID,
			Attempt:    envelope.Attempt,
			EnqueuedAt: envelope.EnqueuedAt,
		}
		if err := q.Enqueue(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) ackAndDelete(ctx context.Context, streamID string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, streamID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := q.client.XDel(ctx, q.stream, streamID).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func (q *StreamsQueue) sendToDLQ(
	ctx context.Context,
	message domain.EnrichmentMessage,
	streamID string,
	errorMessage string,
) error {
	payload, _ := json.Marshal(message)
	values := map[string]any{
		"stream_id": streamID,
		"payload":   string(payload),
		"attempt":   message.Attempt,
		"error":     errorMessage,
		"moved_at":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if _, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.dlqStream, Values: values}).Result(); err != nil {
		return fmt.Errorf("send to dlq: %w", err)
	}
	return nil
}

func messageValues(message domain.EnrichmentMessage) map[string]any {
	payload, _ := json.Marshal(message)
	return map[string]any{
		"payload":     string(payload),
		"attempt":     message.Attempt,
		"enqueued_at": message.EnqueuedAt.Format(time.RFC3339Nano),
	}
}

func parseStreamMessage(item redis.XMessage) (domain.EnrichmentMessage, error) {
	getString := func(key string) (string, error) {
		value, ok := item.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}

	payloadString, err := getString("payload")
	if err != nil {
		return domain.EnrichmentMessage{}, err
	}
	var message domain.EnrichmentMessage
	if err := json.Unmarshal([]byte(payloadString), &message); err != nil {
		return domain.EnrichmentMessage{}, fmt.Errorf("invalid payload: %w", err)
	}
	if strings.TrimSpace(message.IssueID) == "" {
		return domain.EnrichmentMessage{}, errors.New("payload missing issue_id")
	}

	attemptString, err := getString("attempt")
	if err != nil {
		return domain.EnrichmentMessage{}, err
	}
	attempt, err := strconv.Atoi(attemptString)
	if err != nil {
		return domain.EnrichmentMessage{}, fmt.Errorf("invalid attempt: %w", err)
	}
	message.Attempt = attempt

	enqueuedAtString, err := getString("enqueued_at")
	if err != nil {
		return domain.EnrichmentMessage{}, err
	}
	enqueuedAt, err := time.Parse(time.RFC3339Nano, enqueuedAtString)
	if err != nil {
		return domain.EnrichmentMessage{}, fmt.Errorf("invalid enqueued_at: %w", err)
	}
	message.EnqueuedAt = enqueuedAt

	return message, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
