package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qflowhq/bandscan/internal/geometry"
)

// Client provides run-scoped Redis operations for the ledger.
// All keys and channels are automatically namespaced with the run name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb     *redis.Client
	runName string
}

// NewClient creates a new ledger client for the specified run.
// Returns an error if runName is empty.
func NewClient(redisOpts *redis.Options, runName string) (*Client, error) {
	if runName == "" {
		return nil, fmt.Errorf("run name cannot be empty")
	}

	return &Client{
		rdb:     redis.NewClient(redisOpts),
		runName: runName,
	}, nil
}

// RunName returns the run this client is scoped to.
func (c *Client) RunName() string {
	return c.runName
}

// Close closes the Redis connection. Implements io.Closer.
// After calling Close(), the client should not be used.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
// Returns an error if Redis is not reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SetStage writes a stage record and indexes its name. Writing the same stage
// twice replaces the record, which is how a stage moves pending → running →
// completed/failed.
func (c *Client) SetStage(ctx context.Context, r *StageRecord) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid stage record: %w", err)
	}

	key := StageKey(c.runName, r.Name)
	if err := c.rdb.HSet(ctx, key, StageRecordToHash(r)).Err(); err != nil {
		return fmt.Errorf("failed to write stage record to Redis: %w", err)
	}
	if err := c.rdb.SAdd(ctx, StageIndexKey(c.runName), r.Name).Err(); err != nil {
		return fmt.Errorf("failed to index stage name: %w", err)
	}
	return nil
}

// GetStage retrieves one stage record. Returns redis.Nil if the stage has
// never been written; use IsNotFound to test for that.
func (c *Client) GetStage(ctx context.Context, stageName string) (*StageRecord, error) {
	key := StageKey(c.runName, stageName)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stage record from Redis: %w", err)
	}

	// HGetAll returns an empty map for non-existent keys
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	record, err := HashToStageRecord(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize stage record: %w", err)
	}
	return record, nil
}

// ListStages retrieves every stage record written for this run.
func (c *Client) ListStages(ctx context.Context) ([]*StageRecord, error) {
	names, err := c.rdb.SMembers(ctx, StageIndexKey(c.runName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list stage names: %w", err)
	}

	records := make([]*StageRecord, 0, len(names))
	for _, name := range names {
		record, err := c.GetStage(ctx, name)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// SaveCheckpoint persists one iteration's serialized refinement state and
// adds it to the checkpoint index. State is opaque to the store; the
// refinement loop owns its encoding.
func (c *Client) SaveCheckpoint(ctx context.Context, iteration int, state []byte) error {
	if iteration < 0 {
		return fmt.Errorf("iteration cannot be negative: %d", iteration)
	}

	key := CheckpointKey(c.runName, iteration)
	if err := c.rdb.Set(ctx, key, state, 0).Err(); err != nil {
		return fmt.Errorf("failed to write checkpoint to Redis: %w", err)
	}

	z := redis.Z{Score: float64(iteration), Member: iteration}
	if err := c.rdb.ZAdd(ctx, CheckpointIndexKey(c.runName), z).Err(); err != nil {
		return fmt.Errorf("failed to index checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves the serialized state of one iteration.
// Returns redis.Nil if the iteration was never checkpointed.
func (c *Client) GetCheckpoint(ctx context.Context, iteration int) ([]byte, error) {
	state, err := c.rdb.Get(ctx, CheckpointKey(c.runName, iteration)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to read checkpoint from Redis: %w", err)
	}
	return state, nil
}

// LatestCheckpoint retrieves the highest-iteration checkpoint.
// Returns (0, nil, redis.Nil) if no checkpoint exists.
func (c *Client) LatestCheckpoint(ctx context.Context) (iteration int, state []byte, err error) {
	results, err := c.rdb.ZRevRangeWithScores(ctx, CheckpointIndexKey(c.runName), 0, 0).Result()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read checkpoint index: %w", err)
	}
	if len(results) == 0 {
		return 0, nil, redis.Nil
	}

	iteration = int(results[0].Score)
	state, err = c.GetCheckpoint(ctx, iteration)
	if err != nil {
		return 0, nil, err
	}
	return iteration, state, nil
}

// SaveCrossings persists the final crossing set as a JSON array.
func (c *Client) SaveCrossings(ctx context.Context, crossings []geometry.Vec3) error {
	data, err := json.Marshal(crossings)
	if err != nil {
		return fmt.Errorf("failed to marshal crossing set: %w", err)
	}
	if err := c.rdb.Set(ctx, CrossingsKey(c.runName), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write crossing set to Redis: %w", err)
	}
	return nil
}

// GetCrossings retrieves the final crossing set.
// Returns redis.Nil if no crossing set has been written.
func (c *Client) GetCrossings(ctx context.Context) ([]geometry.Vec3, error) {
	data, err := c.rdb.Get(ctx, CrossingsKey(c.runName)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to read crossing set from Redis: %w", err)
	}

	var crossings []geometry.Vec3
	if err := json.Unmarshal(data, &crossings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal crossing set: %w", err)
	}
	return crossings, nil
}

// PublishIteration publishes an iteration event for live monitoring.
// Stamps CreatedAtMs if the caller left it zero.
func (c *Client) PublishIteration(ctx context.Context, ev *IterationEvent) error {
	if ev.CreatedAtMs == 0 {
		ev.CreatedAtMs = time.Now().UnixMilli()
	}
	ev.RunName = c.runName

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal iteration event: %w", err)
	}
	if err := c.rdb.Publish(ctx, IterationEventsChannel(c.runName), data).Err(); err != nil {
		return fmt.Errorf("failed to publish iteration event: %w", err)
	}
	return nil
}

// Subscription represents an active Pub/Sub subscription to iteration events.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *IterationEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of iteration events.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *IterationEvent {
	return s.events
}

// Errors returns the channel of subscription errors.
// Errors include JSON unmarshaling failures and other non-fatal issues.
// The subscription continues after errors - messages are skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeIterations subscribes to iteration events for this run.
// Caller must call subscription.Close() when done.
// Context cancellation also stops the subscription.
//
// Events are delivered on a buffered channel (size 10) to prevent blocking.
// If the subscriber is too slow, events may be dropped by Redis Pub/Sub
// (at-most-once delivery).
func (c *Client) SubscribeIterations(ctx context.Context) (*Subscription, error) {
	channel := IterationEventsChannel(c.runName)
	pubsub := c.rdb.Subscribe(ctx, channel)

	eventsChan := make(chan *IterationEvent, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var ev IterationEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal iteration event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
// Use this to check if GetStage, GetCheckpoint, or GetCrossings returned "not found".
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
