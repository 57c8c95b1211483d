package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guido-cesarano/claimworker/pkg/correlation"
	"github.com/guido-cesarano/claimworker/pkg/engine"
	"github.com/guido-cesarano/claimworker/pkg/handlers"
	"github.com/guido-cesarano/claimworker/pkg/logger"
	"github.com/guido-cesarano/claimworker/pkg/tasks"
)

const lockLayout = "2006-01-02T15:04:05.000-0700"

// stubEngine is an in-memory stand-in for the engine's external task and
// message endpoints. Failed tasks with retries left go back to the queue.
type stubEngine struct {
	mu      sync.Mutex
	pending []tasks.ExternalTask
	locked  map[string]tasks.ExternalTask
	claims  map[string]bool
}

func newStubEngine() *stubEngine {
	return &stubEngine{
		locked: make(map[string]tasks.ExternalTask),
		claims: make(map[string]bool),
	}
}

// seed queues one task per claim topic for n demo claims.
func (e *stubEngine) seed(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	topics := []string{
		handlers.TopicValidatePolicy, handlers.TopicLoadClaim, handlers.TopicCalculatePayment,
		handlers.TopicAssignAdjuster, handlers.TopicNotifyClaimant, handlers.TopicUpdateClaimStatus,
	}
	for i := 1; i <= n; i++ {
		claimID := fmt.Sprintf("CLAIM-%d", i)
		e.claims[claimID] = true
		vars := tasks.NewVariables(map[string]any{
			"claim_id":          claimID,
			"policy_number":     fmt.Sprintf("POL-%d", i),
			"invoice_amount":    float64(i) * 125.25,
			"coverage_rate":     int64(80),
			"region":            "north",
			"claimant_email":    fmt.Sprintf("claimant%d@example.com", i),
			"notification_text": "Your claim is being processed",
			"claim_status":      "approved",
		})
		for _, topic := range topics {
			e.pending = append(e.pending, tasks.ExternalTask{
				ID:                uuid.NewString(),
				Topic:             topic,
				ActivityID:        "Activity_" + strings.ReplaceAll(topic, "-", "_"),
				ProcessInstanceID: "pi-" + claimID,
				BusinessKey:       claimID,
				Variables:         vars,
			})
		}
	}
}

func (e *stubEngine) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /engine-rest/external-task/fetchAndLock", e.fetchAndLock)
	mux.HandleFunc("POST /engine-rest/external-task/{id}/complete", e.finish("complete"))
	mux.HandleFunc("POST /engine-rest/external-task/{id}/bpmnError", e.finish("bpmnError"))
	mux.HandleFunc("POST /engine-rest/external-task/{id}/failure", e.failure)
	mux.HandleFunc("POST /engine-rest/external-task/{id}/extendLock", e.extendLock)
	mux.HandleFunc("POST /engine-rest/message", e.message)

	mux.HandleFunc("GET /policies/{number}/validity", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"valid": !strings.HasSuffix(r.PathValue("number"), "X")})
	})
	mux.HandleFunc("GET /claims/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !e.knownClaim(id) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id": id, "policyNumber": "POL-" + strings.TrimPrefix(id, "CLAIM-"),
			"amount": "1250.50", "status": "OPEN", "region": "north",
		})
	})
	mux.HandleFunc("PUT /claims/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		if !e.knownClaim(r.PathValue("id")) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /adjusters/available", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("region") != "north" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": "EMP-7", "name": "Ada", "email": "ada@example.com"})
	})
	return mux
}

func (e *stubEngine) knownClaim(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.claims[id]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// restError writes the engine's {type, message} error body.
func restError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"type": "RestException", "message": fmt.Sprintf(format, args...)})
}

func (e *stubEngine) fetchAndLock(w http.ResponseWriter, r *http.Request) {
	var req engine.FetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		restError(w, http.StatusBadRequest, "Invalid fetch request: %v", err)
		return
	}

	batch := e.lock(req)
	if len(batch) == 0 && req.AsyncResponseTimeout > 0 {
		// Long poll, shortened so shutdown stays snappy.
		wait := min(time.Duration(req.AsyncResponseTimeout)*time.Millisecond, time.Second)
		select {
		case <-r.Context().Done():
		case <-time.After(wait):
		}
		batch = e.lock(req)
	}
	writeJSON(w, http.StatusOK, batch)
}

func (e *stubEngine) lock(req engine.FetchRequest) []tasks.ExternalTask {
	e.mu.Lock()
	defer e.mu.Unlock()

	locks := make(map[string]time.Duration, len(req.Topics))
	for _, t := range req.Topics {
		locks[t.TopicName] = time.Duration(t.LockDuration) * time.Millisecond
	}

	batch := []tasks.ExternalTask{}
	rest := e.pending[:0]
	for _, task := range e.pending {
		lock, ok := locks[task.Topic]
		if !ok || len(batch) >= req.MaxTasks {
			rest = append(rest, task)
			continue
		}
		task.WorkerID = req.WorkerID
		task.LockExpirationTime = time.Now().Add(lock).Format(lockLayout)
		e.locked[task.ID] = task
		batch = append(batch, task)
	}
	e.pending = rest
	return batch
}

func (e *stubEngine) take(id string) (tasks.ExternalTask, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	task, ok := e.locked[id]
	delete(e.locked, id)
	return task, ok
}

func (e *stubEngine) finish(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		task, ok := e.take(id)
		if !ok {
			restError(w, http.StatusNotFound, "External task with id %s does not exist", id)
			return
		}
		logger.Log.Info().Str("task_id", id).Str("topic", task.Topic).Str("result", kind).Msg("Stub engine accepted outcome")
		w.WriteHeader(http.StatusNoContent)
	}
}

func (e *stubEngine) failure(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ErrorMessage string `json:"errorMessage"`
		Retries      int    `json:"retries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		restError(w, http.StatusBadRequest, "Invalid failure request: %v", err)
		return
	}

	id := r.PathValue("id")
	task, ok := e.take(id)
	if !ok {
		restError(w, http.StatusNotFound, "External task with id %s does not exist", id)
		return
	}

	log := logger.Log.Warn().Str("task_id", id).Str("topic", task.Topic).Str("error", body.ErrorMessage).Int("retries", body.Retries)
	if body.Retries > 0 {
		task.Retries = &body.Retries
		e.mu.Lock()
		e.pending = append(e.pending, task)
		e.mu.Unlock()
		log.Msg("Stub engine requeued failed task")
	} else {
		log.Msg("Stub engine raised incident")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *stubEngine) extendLock(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	_, ok := e.locked[r.PathValue("id")]
	e.mu.Unlock()
	if !ok {
		restError(w, http.StatusNotFound, "External task with id %s does not exist", r.PathValue("id"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *stubEngine) message(w http.ResponseWriter, r *http.Request) {
	var msg engine.CorrelationMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		restError(w, http.StatusBadRequest, "Invalid message: %v", err)
		return
	}
	known := false
	for _, route := range correlation.DefaultRoutes {
		known = known || route.MessageName == msg.MessageName
	}
	if !known || !e.knownClaim(msg.BusinessKey) {
		restError(w, http.StatusBadRequest,
			"Cannot correlate message '%s': No process definition or execution matches the parameters", msg.MessageName)
		return
	}
	logger.Log.Info().Str("message_name", msg.MessageName).Str("business_key", msg.BusinessKey).Msg("Stub engine correlated message")
	w.WriteHeader(http.StatusNoContent)
}
