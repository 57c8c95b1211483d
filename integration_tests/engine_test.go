package integration_tests

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/guido-cesarano/claimworker/pkg/engine"
	"github.com/guido-cesarano/claimworker/pkg/journal"
	"github.com/guido-cesarano/claimworker/pkg/tasks"
	"github.com/redis/go-redis/v9"
)

// setupIntegrationEngine connects to a running engine.
// Set CLAIMWORKER_ENGINE__BASE_URL or start one on localhost:8080.
func setupIntegrationEngine(t *testing.T) *engine.Client {
	baseURL := os.Getenv("CLAIMWORKER_ENGINE__BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080/engine-rest"
	}
	client, err := engine.NewClient(engine.Options{
		BaseURL:        baseURL,
		WorkerID:       "integration-" + uuid.NewString(),
		RequestTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	// Check if the engine is reachable
	_, err = client.FetchAndLock(context.Background(), engine.FetchRequest{
		MaxTasks: 1,
		Topics:   []engine.TopicSubscription{{TopicName: "integration-probe", LockDuration: 1000}},
	})
	if engine.IsConnectionError(err) {
		t.Skipf("Skipping integration test: engine not reachable at %s (%v)", baseURL, err)
	}
	return client
}

// setupIntegrationRedis connects to the local Redis instance.
// Requires docker-compose up -d to be running.
func setupIntegrationRedis(t *testing.T) *journal.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: Redis not reachable at localhost:6379 (%v)", err)
	}

	// Clear lists for clean state
	rdb.Del(context.Background(), journal.Lists...)

	return journal.New(rdb)
}

func TestIntegrationFetchUnknownTopic(t *testing.T) {
	client := setupIntegrationEngine(t)

	fetched, err := client.FetchAndLock(context.Background(), engine.FetchRequest{
		MaxTasks:             5,
		AsyncResponseTimeout: 200,
		Topics:               []engine.TopicSubscription{{TopicName: "no-such-topic-" + uuid.NewString(), LockDuration: 1000}},
	})
	if err != nil {
		t.Fatalf("FetchAndLock failed: %v", err)
	}
	if len(fetched) != 0 {
		t.Errorf("Expected no tasks, got %d", len(fetched))
	}
}

func TestIntegrationCorrelateUnknownMessage(t *testing.T) {
	client := setupIntegrationEngine(t)

	err := client.Correlate(context.Background(), engine.CorrelationMessage{
		MessageName: "NoSuchMessage-" + uuid.NewString(),
		BusinessKey: "CLAIM-" + uuid.NewString(),
	})

	var appErr *engine.ApplicationError
	if !errors.As(err, &appErr) {
		t.Fatalf("Expected ApplicationError, got %v", err)
	}
	if appErr.Kind != engine.KindNotFound {
		t.Errorf("Expected not found, got %s (%s)", appErr.Kind, appErr.Body)
	}
}

func TestIntegrationCompleteUnknownTask(t *testing.T) {
	client := setupIntegrationEngine(t)

	err := client.Complete(context.Background(), tasks.ExternalTask{ID: uuid.NewString()}, nil)
	var appErr *engine.ApplicationError
	if !errors.As(err, &appErr) {
		t.Fatalf("Expected ApplicationError, got %v", err)
	}
	if appErr.Retryable() {
		t.Errorf("Expected non-retryable error for unknown task, got %s", appErr.Kind)
	}
}

func TestIntegrationJournalFlow(t *testing.T) {
	j := setupIntegrationRedis(t)
	ctx := context.Background()

	task := tasks.ExternalTask{
		ID:                 "integration-" + uuid.NewString(),
		Topic:              "validate-policy",
		LockExpirationTime: time.Now().Add(time.Minute).Format("2006-01-02T15:04:05.000-0700"),
	}

	// 1. Claim the fetched instance
	ok, err := j.Claim(ctx, task)
	if err != nil || !ok {
		t.Fatalf("Claim failed: ok=%v err=%v", ok, err)
	}

	// 2. A second claim is rejected
	if ok, _ := j.Claim(ctx, task); ok {
		t.Error("Expected duplicate claim to be rejected")
	}

	// 3. Record the outcome
	j.Record(ctx, task, tasks.Completed(nil), nil)

	depths := j.Depths(ctx)
	if depths[journal.ListCompleted] != 1 {
		t.Errorf("Expected 1 completed entry, got %d", depths[journal.ListCompleted])
	}
	if depths[journal.ListUnacknowledged] != 0 {
		t.Errorf("Expected no unacknowledged entries, got %d", depths[journal.ListUnacknowledged])
	}
}
