// Package main runs a self-contained local stack for the claim worker:
// an in-memory Redis for the outcome journal and a stub HTTP server that
// plays both the process engine and the claim domain services.
//
// Usage:
//
//	go run ./cmd/devstack -tasks 20
//	CLAIMWORKER_ENGINE__BASE_URL=http://127.0.0.1:9090/engine-rest \
//	CLAIMWORKER_SERVICES__POLICIES_URL=http://127.0.0.1:9090 \
//	CLAIMWORKER_SERVICES__CLAIMS_URL=http://127.0.0.1:9090 \
//	CLAIMWORKER_SERVICES__EMPLOYEES_URL=http://127.0.0.1:9090 go run ./cmd/worker
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alicebob/miniredis/v2"
	"github.com/guido-cesarano/claimworker/pkg/logger"
)

func main() {
	redisAddr := flag.String("redis", "127.0.0.1:6379", "Address of the in-memory Redis")
	httpAddr := flag.String("http", "127.0.0.1:9090", "Address of the stub engine and services")
	seed := flag.Int("tasks", 10, "Number of demo claims to seed")
	flag.Parse()

	s := miniredis.NewMiniRedis()
	if err := s.StartAddr(*redisAddr); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to start miniredis")
	}
	defer s.Close()
	logger.Log.Info().Str("addr", s.Addr()).Msg("MiniRedis server started")

	eng := newStubEngine()
	eng.seed(*seed)

	go func() {
		logger.Log.Info().Str("addr", *httpAddr).Msg("Stub engine listening")
		if err := http.ListenAndServe(*httpAddr, eng.routes()); err != nil {
			logger.Log.Fatal().Err(err).Msg("Stub engine failed")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Log.Info().Msg("Shutting down devstack...")
}
