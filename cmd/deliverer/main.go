package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openlane/agentbus/internal/config"
	"github.com/openlane/agentbus/internal/deliverer"
	"github.com/openlane/agentbus/internal/queue"
	"github.com/openlane/agentbus/internal/status"
)

func main() {
	log.Println("Starting agentbus outbound deliverer...")

	cfg, err := config.LoadDeliverer()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Printf("Configuration loaded: OutboundTopic=%s, MaxRetries=%d, RedisServerURL=%s",
		cfg.OutboundTopic, cfg.MaxRetries, cfg.RedisServerURL)

	q, err := queue.New(queue.Options{Addr: cfg.RedisServerURL, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer q.Close()
	log.Println("Redis client initialized successfully")

	d := deliverer.New(q, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	var statusServer *http.Server
	if cfg.StatusEndpointHost != "" && cfg.StatusEndpointPort != "" && cfg.StatusEndpointAPIKey != "" {
		statusHandler := status.NewHandler(cfg.StatusEndpointAPIKey, d)
		statusServer = &http.Server{
			Addr:    cfg.StatusEndpointHost + ":" + cfg.StatusEndpointPort,
			Handler: statusHandler.Mux(),
		}
		go func() {
			log.Printf("status endpoint listening on %s", statusServer.Addr)
			if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("status server error: %v", err)
			}
		}()
	} else {
		log.Println("STATUS_ENDPOINT_HOST/PORT/API_KEY not fully set, status endpoint disabled")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down deliverer...")
	cancel()
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownSecs)*time.Second)
	defer shutdownCancel()
	if statusServer != nil {
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("status server shutdown error: %v", err)
		}
	}

	log.Println("Deliverer stopped")
}
