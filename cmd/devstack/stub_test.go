package main

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/guido-cesarano/claimworker/pkg/correlation"
	"github.com/guido-cesarano/claimworker/pkg/dispatcher"
	"github.com/guido-cesarano/claimworker/pkg/engine"
	"github.com/guido-cesarano/claimworker/pkg/handlers"
	"github.com/guido-cesarano/claimworker/pkg/logger"
	"github.com/guido-cesarano/claimworker/pkg/services"
	"github.com/guido-cesarano/claimworker/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *stubEngine) outstanding() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending) + len(e.locked)
}

// TestWorkerDrainsStubEngine runs the full worker stack against the stub.
func TestWorkerDrainsStubEngine(t *testing.T) {
	t.Cleanup(logger.Nop())

	eng := newStubEngine()
	eng.seed(3)
	srv := httptest.NewServer(eng.routes())
	defer srv.Close()

	client, err := engine.NewClient(engine.Options{BaseURL: srv.URL + "/engine-rest", RequestTimeout: 2 * time.Second})
	require.NoError(t, err)

	opts := services.Options{BaseURL: srv.URL, Timeout: time.Second}
	policies, err := services.NewPolicyClient(opts, 16, time.Minute)
	require.NoError(t, err)
	claims, err := services.NewClaimClient(opts)
	require.NoError(t, err)
	employees, err := services.NewEmployeeClient(opts)
	require.NoError(t, err)

	registry := dispatcher.NewRegistry(handlers.All(handlers.Dependencies{
		Policies:  policies,
		Claims:    claims,
		Employees: employees,
		Notifier:  services.LogNotifier{},
	})...)
	require.Equal(t, 6, registry.Len())

	d := dispatcher.New(client, worker.NewRunner(client), registry, dispatcher.Options{
		LockDuration:         10 * time.Second,
		AsyncResponseTimeout: 50 * time.Millisecond,
		MaxTasks:             5,
		Concurrency:          4,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return eng.outstanding() == 0 }, 5*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestStubCorrelation(t *testing.T) {
	t.Cleanup(logger.Nop())

	eng := newStubEngine()
	eng.seed(1)
	srv := httptest.NewServer(eng.routes())
	defer srv.Close()

	client, err := engine.NewClient(engine.Options{BaseURL: srv.URL + "/engine-rest/"})
	require.NoError(t, err)
	svc := correlation.NewService(client, nil)

	require.NoError(t, svc.NotifyDocumentReceived(context.Background(), "CLAIM-1", "https://docs/1.pdf"))

	err = svc.NotifyDocumentReceived(context.Background(), "CLAIM-404", "https://docs/404.pdf")
	var appErr *engine.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, engine.KindNotFound, appErr.Kind)
	assert.Contains(t, err.Error(), "No process definition or execution matches")
}
