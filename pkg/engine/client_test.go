package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/guido-cesarano/claimworker/pkg/config"
	"github.com/guido-cesarano/claimworker/pkg/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	body   map[string]any
}

// newEngine starts a fake engine under /engine-rest that answers every call
// with status and body, recording the last request.
func newEngine(t *testing.T, status int, body string) (*httptest.Server, *atomic.Pointer[recorded]) {
	t.Helper()
	last := &atomic.Pointer[recorded]{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		rec := &recorded{method: r.Method, path: r.URL.Path}
		_ = json.Unmarshal(raw, &rec.body)
		last.Store(rec)

		if body != "" {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, last
}

func newTestClient(t *testing.T, base string) *Client {
	t.Helper()
	c, err := NewClient(Options{BaseURL: base, WorkerID: "test-worker", RequestTimeout: time.Second})
	require.NoError(t, err)
	return c
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://engine:8080/engine-rest/", "http://engine:8080/engine-rest"},
		{"http://engine:8080/engine-rest", "http://engine:8080/engine-rest"},
		{"http://engine:8080/engine-rest///", "http://engine:8080/engine-rest"},
		{"  http://engine/  ", "http://engine"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := NormalizeBaseURL(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, NormalizeBaseURL(got), "normalization must be idempotent")
		})
	}
}

func TestNewClientRejectsBlankBaseURL(t *testing.T) {
	for _, base := range []string{"", "   ", "/"} {
		_, err := NewClient(Options{BaseURL: base})
		var cfgErr *config.ConfigurationError
		assert.True(t, errors.As(err, &cfgErr), "base %q", base)
	}
}

func TestNewClientDefaultsWorkerID(t *testing.T) {
	c, err := NewClient(Options{BaseURL: "http://engine/"})
	require.NoError(t, err)
	assert.Equal(t, "claim-worker", c.WorkerID())
	assert.Equal(t, "http://engine", c.BaseURL())
}

func TestCorrelateSuccess(t *testing.T) {
	for _, status := range []int{http.StatusNoContent, http.StatusOK} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv, last := newEngine(t, status, "")
			client := newTestClient(t, srv.URL+"/engine-rest/")

			err := client.Correlate(context.Background(), CorrelationMessage{
				MessageName: "DocumentProcessed",
				BusinessKey: "CLAIM-1",
			})
			require.NoError(t, err)

			rec := last.Load()
			require.NotNil(t, rec)
			assert.Equal(t, http.MethodPost, rec.method)
			assert.Equal(t, "/engine-rest/message", rec.path)
			assert.Equal(t, "DocumentProcessed", rec.body["messageName"])
			assert.Equal(t, "CLAIM-1", rec.body["businessKey"])
		})
	}
}

func TestCorrelateSendsTypedMaps(t *testing.T) {
	srv, last := newEngine(t, http.StatusNoContent, "")
	client := newTestClient(t, srv.URL)

	err := client.Correlate(context.Background(), CorrelationMessage{
		MessageName:      "DocumentProcessed",
		BusinessKey:      "CLAIM-1",
		CorrelationKeys:  tasks.Variables{}.Set("claimId", "CLAIM-1"),
		ProcessVariables: tasks.Variables{}.Set("documentUrl", "https://docs/1.pdf"),
	})
	require.NoError(t, err)

	body := last.Load().body
	assert.Equal(t,
		map[string]any{"claimId": map[string]any{"value": "CLAIM-1", "type": "String"}},
		body["correlationKeys"])
	assert.Equal(t,
		map[string]any{"documentUrl": map[string]any{"value": "https://docs/1.pdf", "type": "String"}},
		body["processVariables"])
}

func TestCorrelateClassifiesStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		kind      ApplicationKind
		label     string
		retryable bool
	}{
		{
			name:   "bad request",
			status: http.StatusBadRequest,
			body:   `{"type":"InvalidRequestException","message":"Unknown property 'foo'"}`,
			kind:   KindBadRequest,
			label:  "Invalid message format",
		},
		{
			name:   "not found status",
			status: http.StatusNotFound,
			body:   `{"type":"RestException","message":"not here"}`,
			kind:   KindNotFound,
			label:  "No matching process definition",
		},
		{
			name:   "not found body",
			status: http.StatusBadRequest,
			body:   `{"type":"RestException","message":"Cannot correlate message 'DocumentProcessed': No process definition or execution matches the parameters"}`,
			kind:   KindNotFound,
			label:  "No matching process definition",
		},
		{
			name:   "conflict status",
			status: http.StatusConflict,
			body:   `{"type":"RestException","message":"conflict"}`,
			kind:   KindConflict,
			label:  "Message correlation conflict",
		},
		{
			name:   "conflict body",
			status: http.StatusBadRequest,
			body:   `{"type":"RestException","message":"Cannot correlate message 'DocumentProcessed': 2 executions match the correlation keys"}`,
			kind:   KindConflict,
			label:  "Message correlation conflict",
		},
		{
			name:      "server error",
			status:    http.StatusInternalServerError,
			body:      `{"type":"ProcessEngineException","message":"boom","code":0}`,
			kind:      KindServerError,
			label:     "Engine server error",
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newEngine(t, tt.status, tt.body)
			client := newTestClient(t, srv.URL)

			err := client.Correlate(context.Background(), CorrelationMessage{MessageName: "DocumentProcessed"})
			require.Error(t, err)

			var appErr *ApplicationError
			require.True(t, errors.As(err, &appErr), "want ApplicationError, got %T", err)
			assert.Equal(t, tt.kind, appErr.Kind)
			assert.Equal(t, tt.status, appErr.StatusCode)
			assert.Contains(t, err.Error(), tt.label)
			assert.Contains(t, err.Error(), tt.body)
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.False(t, IsConnectionError(err))
		})
	}
}

func TestCorrelateDecodesEngineErrorBody(t *testing.T) {
	srv, _ := newEngine(t, http.StatusBadRequest, `{"type":"InvalidRequestException","message":"bad","code":7}`)
	client := newTestClient(t, srv.URL)

	err := client.Correlate(context.Background(), CorrelationMessage{MessageName: "X"})
	var appErr *ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "InvalidRequestException", appErr.EngineType)
	assert.Equal(t, "bad", appErr.EngineMessage)
	assert.Equal(t, 7, appErr.EngineCode)
}

func TestCorrelateTimeoutIsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, err := NewClient(Options{BaseURL: srv.URL, RequestTimeout: 50 * time.Millisecond})
	require.NoError(t, err)

	err = client.Correlate(context.Background(), CorrelationMessage{MessageName: "DocumentProcessed"})
	require.Error(t, err)

	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr), "want ConnectionError, got %T: %v", err, err)
	assert.Equal(t, "correlate", connErr.Op)
	assert.NotNil(t, errors.Unwrap(connErr))
	assert.True(t, IsRetryable(err))
}

func TestCorrelateUnencodableVariableIsUnexpected(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	client := newTestClient(t, srv.URL)

	err := client.Correlate(context.Background(), CorrelationMessage{
		MessageName:      "DocumentProcessed",
		BusinessKey:      "CLAIM-1",
		ProcessVariables: tasks.Variables{}.Set("documentUrl", make(chan int)),
	})
	require.Error(t, err)

	var appErr *ApplicationError
	require.True(t, errors.As(err, &appErr), "want ApplicationError, got %T: %v", err, err)
	assert.Equal(t, KindUnexpected, appErr.Kind)
	assert.Equal(t, "correlate", appErr.Op)
	require.NotNil(t, errors.Unwrap(appErr))
	assert.Contains(t, errors.Unwrap(appErr).Error(), "unsupported type")
	assert.Contains(t, err.Error(), KindUnexpected.Label())
	assert.False(t, IsConnectionError(err))
	assert.True(t, IsRetryable(err))
	assert.Zero(t, hits.Load(), "nothing reaches the engine")
}

func TestCorrelateRefusedIsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	client := newTestClient(t, base)
	err := client.Correlate(context.Background(), CorrelationMessage{MessageName: "DocumentProcessed"})
	assert.True(t, IsConnectionError(err), "got %T: %v", err, err)
}

func TestCorrelateBlankNameSkipsNetwork(t *testing.T) {
	srv, last := newEngine(t, http.StatusNoContent, "")
	client := newTestClient(t, srv.URL)

	err := client.Correlate(context.Background(), CorrelationMessage{MessageName: "  "})
	require.ErrorIs(t, err, ErrBlankMessageName)
	assert.Nil(t, last.Load())
}

func TestFetchAndLock(t *testing.T) {
	srv, last := newEngine(t, http.StatusOK, `[{
		"id": "t-1",
		"topicName": "validate-policy",
		"activityId": "ValidatePolicy",
		"lockExpirationTime": "2026-10-19T12:00:00.000+0000",
		"variables": {"policy_number": {"value": "P-1", "type": "String"}}
	}]`)
	client := newTestClient(t, srv.URL)

	fetched, err := client.FetchAndLock(context.Background(), FetchRequest{
		MaxTasks:             5,
		AsyncResponseTimeout: 100,
		Topics:               []TopicSubscription{{TopicName: "validate-policy", LockDuration: 30000}},
	})
	require.NoError(t, err)
	require.Len(t, fetched, 1)
	assert.Equal(t, "t-1", fetched[0].ID)

	policy, ok := fetched[0].String("policy_number")
	assert.True(t, ok)
	assert.Equal(t, "P-1", policy)

	rec := last.Load()
	assert.Equal(t, "/external-task/fetchAndLock", rec.path)
	assert.Equal(t, "test-worker", rec.body["workerId"])
	assert.EqualValues(t, 5, rec.body["maxTasks"])
}

func TestFetchAndLockWithoutTopics(t *testing.T) {
	srv, last := newEngine(t, http.StatusOK, `[]`)
	client := newTestClient(t, srv.URL)

	fetched, err := client.FetchAndLock(context.Background(), FetchRequest{MaxTasks: 1})
	require.NoError(t, err)
	assert.Empty(t, fetched)
	assert.Nil(t, last.Load())
}

func TestCompleteAndFailBodies(t *testing.T) {
	srv, last := newEngine(t, http.StatusNoContent, "")
	client := newTestClient(t, srv.URL)
	task := tasks.ExternalTask{ID: "t-9", Topic: "validate-policy"}

	require.NoError(t, client.Complete(context.Background(), task, tasks.Variables{}.Set("policyValid", true)))
	rec := last.Load()
	assert.Equal(t, "/external-task/t-9/complete", rec.path)
	assert.Equal(t, "test-worker", rec.body["workerId"])
	assert.Equal(t,
		map[string]any{"policyValid": map[string]any{"value": true, "type": "Boolean"}},
		rec.body["variables"])

	require.NoError(t, client.Fail(context.Background(), task, "boom", "RuntimeError: boom", 3, 5000))
	rec = last.Load()
	assert.Equal(t, "/external-task/t-9/failure", rec.path)
	assert.Equal(t, "boom", rec.body["errorMessage"])
	assert.Equal(t, "RuntimeError: boom", rec.body["errorDetails"])
	assert.EqualValues(t, 3, rec.body["retries"])
	assert.EqualValues(t, 5000, rec.body["retryTimeout"])

	require.NoError(t, client.Fail(context.Background(), task, "boom", "", -2, -1))
	rec = last.Load()
	assert.EqualValues(t, 0, rec.body["retries"])
	assert.EqualValues(t, 0, rec.body["retryTimeout"])
}

func TestReportRoutesByKind(t *testing.T) {
	srv, last := newEngine(t, http.StatusNoContent, "")
	client := newTestClient(t, srv.URL)
	task := tasks.ExternalTask{ID: "t-3"}
	ctx := context.Background()

	require.NoError(t, client.Report(ctx, task, tasks.BusinessFailure("COVERAGE_RATE_OUT_OF_RANGE", "rate 120", nil)))
	rec := last.Load()
	assert.Equal(t, "/external-task/t-3/bpmnError", rec.path)
	assert.Equal(t, "COVERAGE_RATE_OUT_OF_RANGE", rec.body["errorCode"])

	require.NoError(t, client.Report(ctx, task, tasks.Failed("m", "d", 2, 3*time.Second)))
	rec = last.Load()
	assert.Equal(t, "/external-task/t-3/failure", rec.path)
	assert.EqualValues(t, 3000, rec.body["retryTimeout"])

	require.NoError(t, client.Report(ctx, task, tasks.Completed(nil)))
	assert.Equal(t, "/external-task/t-3/complete", last.Load().path)

	require.ErrorIs(t, client.Report(ctx, task, tasks.Outcome{}), ErrUnknownOutcome)
}

func TestExtendLock(t *testing.T) {
	srv, last := newEngine(t, http.StatusNoContent, "")
	client := newTestClient(t, srv.URL)

	require.NoError(t, client.ExtendLock(context.Background(), tasks.ExternalTask{ID: "t-4"}, time.Minute))
	rec := last.Load()
	assert.Equal(t, "/external-task/t-4/extendLock", rec.path)
	assert.EqualValues(t, 60000, rec.body["newDuration"])
}

func TestCompleteUnknownTaskIsNotFound(t *testing.T) {
	srv, _ := newEngine(t, http.StatusNotFound, `{"type":"RestException","message":"External task with id t-5 does not exist"}`)
	client := newTestClient(t, srv.URL)

	err := client.Complete(context.Background(), tasks.ExternalTask{ID: "t-5"}, nil)
	var appErr *ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, KindNotFound, appErr.Kind)
	assert.Equal(t, "complete", appErr.Op)
	assert.False(t, appErr.Retryable())
}
