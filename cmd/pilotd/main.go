package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/pilot/internal/bootstrap"
	"github.com/example/pilot/internal/config"
	"github.com/example/pilot/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	shutdownTracing, err := observability.InitTracing(cfg.Service, cfg.Tracing)
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	sys, err := bootstrap.New(cfg, bootstrap.Hardware{})
	if err != nil {
		log.Fatalf("bootstrap pilot: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           sys.Server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("pilotd gateway listening on %s", cfg.API.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("gateway failed: %v", err)
			stop()
		}
	}()

	runErr := sys.Runtime.Run(ctx)

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Printf("gateway shutdown: %v", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Fatalf("runtime stopped with error: %v", runErr)
	}
	log.Printf("pilotd stopped after %d ticks", sys.Cascade.Stats().Total)
}
