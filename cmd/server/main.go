// Package main implements the claim correlation API server.
// External systems report claim events here; the server turns them into
// correlated engine messages and exposes the worker's outcome journal.
//
// API Endpoints:
//
//	POST /correlate - Correlates a claim event with its process instance
//	GET  /events    - Lists the accepted event kinds
//	GET  /outcomes  - Lists recent outcomes from one journal list
//	GET  /stats     - Returns the journal list depths
//
// Request Format:
//
//	{
//	  "businessKey": "CLAIM-1",
//	  "event": "document-received",
//	  "payload": "https://docs.example.com/claim-1.pdf"
//	}
//
// Usage:
//
//	CLAIMWORKER_ENGINE__BASE_URL=http://localhost:8080/engine-rest go run ./cmd/server
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/guido-cesarano/claimworker/pkg/config"
	"github.com/guido-cesarano/claimworker/pkg/correlation"
	"github.com/guido-cesarano/claimworker/pkg/engine"
	"github.com/guido-cesarano/claimworker/pkg/journal"
	"github.com/guido-cesarano/claimworker/pkg/logger"
)

// authMiddleware wraps an http.HandlerFunc and enforces API Key authentication.
func authMiddleware(next http.HandlerFunc, requiredKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// If no key is configured, allow all (dev mode)
		if requiredKey == "" {
			next(w, r)
			return
		}

		if r.Header.Get("X-API-Key") != requiredKey {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

// enableCORS wraps an http.HandlerFunc and adds CORS headers.
// It runs before auth so preflight requests never need the key.
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

type correlateRequest struct {
	BusinessKey string `json:"businessKey"`
	Event       string `json:"event"`
	Payload     any    `json:"payload"`
}

type correlateResponse struct {
	BusinessKey string `json:"businessKey"`
	MessageName string `json:"messageName"`
}

// retryAfterSeconds is sent with errors a later attempt may get past.
const retryAfterSeconds = "5"

// statusFor maps a correlation error onto an HTTP status.
func statusFor(err error) int {
	var (
		cfgErr  *config.ConfigurationError
		connErr *engine.ConnectionError
		appErr  *engine.ApplicationError
	)
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.As(err, &connErr):
		return http.StatusServiceUnavailable
	case errors.As(err, &appErr):
		switch appErr.Kind {
		case engine.KindBadRequest:
			return http.StatusBadRequest
		case engine.KindNotFound:
			return http.StatusNotFound
		case engine.KindConflict:
			return http.StatusConflict
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error().Err(err).Msg("Failed to write response")
	}
}

// setupRouter configures the HTTP handlers and returns the mux. jrnl may be
// nil, in which case the journal endpoints answer 503.
func setupRouter(svc *correlation.Service, jrnl *journal.Client, apiKey string) *http.ServeMux {
	mux := http.NewServeMux()

	// CORS -> Auth -> Handler
	mux.HandleFunc("/correlate", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req correlateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := svc.Publish(r.Context(), req.BusinessKey, req.Event, req.Payload); err != nil {
			if engine.IsRetryable(err) {
				w.Header().Set("Retry-After", retryAfterSeconds)
			}
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		msg, _ := svc.Build(req.BusinessKey, req.Event, req.Payload)
		writeJSON(w, http.StatusOK, correlateResponse{BusinessKey: msg.BusinessKey, MessageName: msg.MessageName})
	}, apiKey)))

	mux.HandleFunc("/events", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, svc.Events())
	}, apiKey)))

	mux.HandleFunc("/stats", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if jrnl == nil {
			http.Error(w, "Outcome journal disabled", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, jrnl.Depths(r.Context()))
	}, apiKey)))

	mux.HandleFunc("/outcomes", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if jrnl == nil {
			http.Error(w, "Outcome journal disabled", http.StatusServiceUnavailable)
			return
		}

		list := r.URL.Query().Get("list")
		if list == "" {
			http.Error(w, "Missing list parameter", http.StatusBadRequest)
			return
		}
		limit := int64(50)
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil || n <= 0 {
				http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
				return
			}
			limit = n
		}

		entries, err := jrnl.Inspect(r.Context(), list, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}, apiKey)))

	return mux
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Env)

	client, err := engine.NewClient(engine.Options{
		BaseURL:        cfg.Engine.BaseURL,
		WorkerID:       cfg.Engine.WorkerID,
		RequestTimeout: cfg.Engine.RequestTimeout,
	})
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to create engine client")
	}

	var jrnl *journal.Client
	if cfg.Redis.Addr != "" {
		jrnl = journal.NewClient(cfg.Redis.Addr)
		defer jrnl.Close()
		if err := jrnl.Ping(context.Background()); err != nil {
			logger.Log.Warn().Err(err).Msg("Redis not reachable. Journal endpoints will fail until it is.")
		}
	}

	apiKey := cfg.HTTP.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("API_KEY")
	}
	if apiKey == "" {
		logger.Log.Warn().Msg("API key not set. Authentication disabled.")
	} else {
		logger.Log.Info().Msg("API Authentication enabled.")
	}

	mux := setupRouter(correlation.NewService(client, nil), jrnl, apiKey)

	logger.Log.Info().Str("addr", cfg.HTTP.APIAddr).Msg("Server listening")
	if err := http.ListenAndServe(cfg.HTTP.APIAddr, mux); err != nil {
		logger.Log.Fatal().Err(err).Msg("Server failed")
	}
}
