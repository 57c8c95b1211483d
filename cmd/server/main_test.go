package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/guido-cesarano/claimworker/pkg/correlation"
	"github.com/guido-cesarano/claimworker/pkg/engine"
	"github.com/guido-cesarano/claimworker/pkg/journal"
	"github.com/guido-cesarano/claimworker/pkg/logger"
	"github.com/guido-cesarano/claimworker/pkg/tasks"
)

type stubSender struct {
	sent []engine.CorrelationMessage
	err  error
}

func (s *stubSender) Correlate(_ context.Context, msg engine.CorrelationMessage) error {
	s.sent = append(s.sent, msg)
	return s.err
}

func setupJournal(t *testing.T) *journal.Client {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := journal.NewClient(s.Addr())
	t.Cleanup(func() {
		client.Close()
		s.Close()
	})
	return client
}

func TestAuthMiddleware(t *testing.T) {
	mux := setupRouter(correlation.NewService(&stubSender{}, nil), setupJournal(t), "secret-key")

	tests := []struct {
		name           string
		headerKey      string
		headerValue    string
		expectedStatus int
	}{
		{
			name:           "No API Key",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Wrong API Key",
			headerKey:      "X-API-Key",
			headerValue:    "wrong-key",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Correct API Key",
			headerKey:      "X-API-Key",
			headerValue:    "secret-key",
			expectedStatus: http.StatusBadRequest, // 400 because body is empty, but auth passed
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/correlate", nil)
			if tt.headerKey != "" {
				req.Header.Set(tt.headerKey, tt.headerValue)
			}

			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}

func TestPreflightSkipsAuth(t *testing.T) {
	mux := setupRouter(correlation.NewService(&stubSender{}, nil), nil, "secret-key")

	req := httptest.NewRequest(http.MethodOptions, "/correlate", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected preflight 200, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header on preflight")
	}
}

func TestCorrelate(t *testing.T) {
	t.Cleanup(logger.Nop())

	tests := []struct {
		name           string
		body           string
		sendErr        error
		expectedStatus int
		expectedSent   int
		retryAfter     bool
	}{
		{
			name:           "document received",
			body:           `{"businessKey":"CLAIM-1","event":"document-received","payload":"https://docs/1.pdf"}`,
			expectedStatus: http.StatusOK,
			expectedSent:   1,
		},
		{
			name:           "unknown event",
			body:           `{"businessKey":"CLAIM-1","event":"claim-exploded","payload":"x"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "no matching instance",
			body:           `{"businessKey":"CLAIM-9","event":"invoice-received","payload":"https://inv/9"}`,
			sendErr:        &engine.ApplicationError{Kind: engine.KindNotFound, StatusCode: 400},
			expectedStatus: http.StatusNotFound,
			expectedSent:   1,
		},
		{
			name:           "engine unreachable",
			body:           `{"businessKey":"CLAIM-1","event":"claim-withdrawn","payload":"duplicate"}`,
			sendErr:        &engine.ConnectionError{Op: "correlate", Err: errors.New("connection refused")},
			expectedStatus: http.StatusServiceUnavailable,
			expectedSent:   1,
			retryAfter:     true,
		},
		{
			name:           "engine server error",
			body:           `{"businessKey":"CLAIM-1","event":"invoice-received","payload":"https://inv/1"}`,
			sendErr:        &engine.ApplicationError{Kind: engine.KindServerError, StatusCode: 500},
			expectedStatus: http.StatusBadGateway,
			expectedSent:   1,
			retryAfter:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &stubSender{err: tt.sendErr}
			mux := setupRouter(correlation.NewService(sender, nil), nil, "")

			req := httptest.NewRequest(http.MethodPost, "/correlate", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d (%s)", tt.expectedStatus, w.Code, w.Body.String())
			}
			if len(sender.sent) != tt.expectedSent {
				t.Errorf("Expected %d messages sent, got %d", tt.expectedSent, len(sender.sent))
			}
			if got := w.Header().Get("Retry-After") != ""; got != tt.retryAfter {
				t.Errorf("Expected Retry-After present=%v, got %q", tt.retryAfter, w.Header().Get("Retry-After"))
			}
		})
	}
}

func TestCorrelateResponse(t *testing.T) {
	t.Cleanup(logger.Nop())
	mux := setupRouter(correlation.NewService(&stubSender{}, nil), nil, "")

	req := httptest.NewRequest(http.MethodPost, "/correlate",
		strings.NewReader(`{"businessKey":"CLAIM-1","event":"document-received","payload":"https://docs/1.pdf"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	var resp correlateResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.MessageName != "DocumentProcessed" || resp.BusinessKey != "CLAIM-1" {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

func TestOutcomesAndStats(t *testing.T) {
	t.Cleanup(logger.Nop())
	jrnl := setupJournal(t)
	jrnl.Record(context.Background(), tasks.ExternalTask{ID: "t-1", Topic: "validate-policy"}, tasks.Completed(nil), nil)

	mux := setupRouter(correlation.NewService(&stubSender{}, nil), jrnl, "")

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/outcomes?list="+journal.ListCompleted, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var entries []journal.Entry
	if err := json.NewDecoder(w.Body).Decode(&entries); err != nil {
		t.Fatalf("Failed to decode entries: %v", err)
	}
	if len(entries) != 1 || entries[0].TaskID != "t-1" {
		t.Errorf("Unexpected entries: %+v", entries)
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/outcomes", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without list, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	var depths map[string]int64
	if err := json.NewDecoder(w.Body).Decode(&depths); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}
	if depths[journal.ListCompleted] != 1 {
		t.Errorf("Expected 1 completed, got %d", depths[journal.ListCompleted])
	}
}

func TestJournalDisabled(t *testing.T) {
	mux := setupRouter(correlation.NewService(&stubSender{}, nil), nil, "")

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
}
