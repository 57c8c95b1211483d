// Package journal provides a Redis-backed record of task outcomes.
// It supports:
//   - Claiming a fetched task instance with SET NX so it is reported at most once
//   - Bounded history lists per outcome kind
//   - An unacknowledged list for outcome reports the engine never accepted
//   - A Lua token bucket used to throttle topics
//
// The Client type is the main entry point for interacting with the journal.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/guido-cesarano/claimworker/pkg/logger"
	"github.com/guido-cesarano/claimworker/pkg/tasks"
	"github.com/redis/go-redis/v9"
)

// Redis keys.
const (
	ListCompleted      = "outcomes:completed"
	ListFailed         = "outcomes:failed"
	ListBusinessError  = "outcomes:business_error"
	ListUnacknowledged = "outcomes:unacknowledged"

	claimPrefix = "claim:"
)

// Lists enumerates every list kept by the journal.
var Lists = []string{ListCompleted, ListFailed, ListBusinessError, ListUnacknowledged}

const (
	// historySize is how many entries each list keeps.
	historySize = 100

	// claimTTL bounds how long a claim marker lives. Redelivered tasks carry
	// a new lock expiration and therefore a new key, so this only caps memory.
	claimTTL = 24 * time.Hour
)

// Entry is one recorded outcome.
type Entry struct {
	TaskID            string    `json:"task_id"`
	Topic             string    `json:"topic"`
	ActivityID        string    `json:"activity_id,omitempty"`
	BusinessKey       string    `json:"business_key,omitempty"`
	ProcessInstanceID string    `json:"process_instance_id,omitempty"`
	Outcome           string    `json:"outcome"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	ErrorCode         string    `json:"error_code,omitempty"`
	Retries           int       `json:"retries,omitempty"`
	ReportError       string    `json:"report_error,omitempty"`
	RecordedAt        time.Time `json:"recorded_at"`
}

// Client manages the connection to Redis. All operations are context-aware.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a journal connected to the Redis at addr ("host:port").
//
// Example:
//
//	j := journal.NewClient("localhost:6379")
func NewClient(addr string) *Client {
	return New(redis.NewClient(&redis.Options{Addr: addr}))
}

// New wraps an existing Redis client.
func New(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Claim marks the fetched instance of task as being handled. It returns
// false when somebody already claimed the same instance.
func (c *Client) Claim(ctx context.Context, task tasks.ExternalTask) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, claimPrefix+task.InstanceKey(), time.Now().UTC().Format(time.RFC3339Nano), claimTTL).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", task.InstanceKey(), err)
	}
	return ok, nil
}

// Record appends the outcome to its history list, and to the
// unacknowledged list when reportErr is set. Failures are logged only.
func (c *Client) Record(ctx context.Context, task tasks.ExternalTask, outcome tasks.Outcome, reportErr error) {
	entry := Entry{
		TaskID:            task.ID,
		Topic:             task.Topic,
		ActivityID:        task.ActivityID,
		BusinessKey:       task.BusinessKey,
		ProcessInstanceID: task.ProcessInstanceID,
		Outcome:           outcome.Kind.String(),
		ErrorMessage:      outcome.ErrorMessage,
		ErrorCode:         outcome.ErrorCode,
		Retries:           outcome.Retries,
		RecordedAt:        time.Now().UTC(),
	}
	if reportErr != nil {
		entry.ReportError = reportErr.Error()
	}

	if err := c.Append(ctx, entry); err != nil {
		logger.Log.Error().Err(err).Str("task_id", task.ID).Msg("Failed to record outcome in journal")
	}
}

// Append stores entry atomically via a transaction pipeline.
func (c *Client) Append(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	pipe := c.rdb.TxPipeline()
	list := listFor(entry.Outcome)
	pipe.RPush(ctx, list, data)
	pipe.LTrim(ctx, list, -historySize, -1)
	if entry.ReportError != "" {
		pipe.RPush(ctx, ListUnacknowledged, data)
		pipe.LTrim(ctx, ListUnacknowledged, -historySize, -1)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func listFor(outcome string) string {
	switch outcome {
	case tasks.OutcomeCompleted.String():
		return ListCompleted
	case tasks.OutcomeBusinessError.String():
		return ListBusinessError
	default:
		return ListFailed
	}
}

// Depths returns the length of every journal list.
func (c *Client) Depths(ctx context.Context) map[string]int64 {
	depths := make(map[string]int64, len(Lists))
	for _, l := range Lists {
		if n, err := c.rdb.LLen(ctx, l).Result(); err == nil {
			depths[l] = n
		}
	}
	return depths
}

// Inspect returns up to limit of the most recent entries of list, newest first.
func (c *Client) Inspect(ctx context.Context, list string, limit int64) ([]Entry, error) {
	if !knownList(list) {
		return nil, fmt.Errorf("unknown journal list %q", list)
	}
	raw, err := c.rdb.LRange(ctx, list, -limit, -1).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var e Entry
		if err := json.Unmarshal([]byte(raw[i]), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func knownList(list string) bool {
	for _, l := range Lists {
		if l == list {
			return true
		}
	}
	return false
}

// tokenBucket refills at ARGV[1] tokens/sec up to ARGV[2] and takes one token.
var tokenBucket = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])
	local burst = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])

	local tokens = tonumber(redis.call('HGET', key, 'tokens'))
	local last = tonumber(redis.call('HGET', key, 'last_refill'))
	if not tokens then
		tokens = burst
		last = now
	end

	tokens = math.min(burst, tokens + math.max(0, now - last) * rate)

	local allowed = 0
	if tokens >= 1 then
		tokens = tokens - 1
		allowed = 1
	end
	redis.call('HSET', key, 'tokens', tokens, 'last_refill', now)
	redis.call('EXPIRE', key, 3600)
	return allowed
`)

// Allow takes one token from the bucket at key. rate is tokens per second,
// burst the bucket capacity.
func (c *Client) Allow(ctx context.Context, key string, rate, burst int) (bool, error) {
	res, err := tokenBucket.Run(ctx, c.rdb, []string{key}, rate, burst, time.Now().Unix()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
