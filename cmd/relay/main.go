package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openlane/agentbus/internal/adminapi"
	"github.com/openlane/agentbus/internal/auth"
	"github.com/openlane/agentbus/internal/config"
	"github.com/openlane/agentbus/internal/mediator"
	"github.com/openlane/agentbus/internal/queue"
	"github.com/openlane/agentbus/internal/relay"
	"github.com/openlane/agentbus/internal/status"
)

func main() {
	log.Println("Starting agentbus inbound relay...")

	cfg, err := config.LoadRelay()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Printf("Configuration loaded: InboundTopic=%s, InboundTransports=%v, MediatorMode=%v",
		cfg.InboundTopic, cfg.InboundTransports, cfg.MediatorMode)

	q, err := queue.New(queue.Options{Addr: cfg.RedisServerURL, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer q.Close()
	log.Println("Redis client initialized successfully")

	var router *mediator.Router
	if cfg.MediatorMode {
		router = mediator.New(q)
		log.Println("Mediator routing enabled")
	}

	srv := relay.New(q, cfg, router)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		if err := srv.Run(ctx); err != nil {
			log.Printf("relay server error: %v", err)
		}
		close(done)
	}()

	var statusServer *http.Server
	if cfg.StatusEndpointHost != "" && cfg.StatusEndpointPort != "" && cfg.StatusEndpointAPIKey != "" {
		checkers := []status.Checker{srv}
		statusHandler := status.NewHandler(cfg.StatusEndpointAPIKey, checkers...)
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

	var adminServer *http.Server
	if cfg.AdminPasswordHash != "" {
		jwtService := auth.NewJWTService(cfg.AdminJWTSecret, cfg.AdminTokenTTLS)
		api := adminapi.New(q, jwtService, cfg.AdminUsername, cfg.AdminPasswordHash, adminapi.QueueTopics{
			Outbound:       cfg.OutboundTopic,
			OutboundRetry:  cfg.OutboundRetryTopic,
			Inbound:        cfg.InboundTopic,
			DirectResponse: cfg.DirectResponseTopic,
		})
		adminServer = &http.Server{
			Addr:    ":" + cfg.AdminPort,
			Handler: api.Mux(),
		}
		go func() {
			log.Printf("admin api listening on %s", adminServer.Addr)
			if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("admin server error: %v", err)
			}
		}()
	} else {
		log.Println("ADMIN_PASSWORD_HASH not set, admin api disabled")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down relay...")
	cancel()
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownSecs)*time.Second)
	defer shutdownCancel()
	if statusServer != nil {
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("status server shutdown error: %v", err)
		}
	}
	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("admin server shutdown error: %v", err)
		}
	}

	log.Println("Relay stopped")
}
