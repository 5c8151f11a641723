// Command agentsim is a demo agent worker: it registers itself with the
// mediator routing table, drains whatever recipient keys it is assigned,
// logs what it receives, and periodically produces an outbound message
// addressed back through the same router. It exists to exercise the
// mediator and queue packages end to end without a real agent framework.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openlane/agentbus/internal/config"
	"github.com/openlane/agentbus/internal/mediator"
	"github.com/openlane/agentbus/internal/models"
	"github.com/openlane/agentbus/internal/queue"
)

func main() {
	log.Println("Starting agentbus agent simulator...")

	cfg, err := config.LoadAgentSim()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	q, err := queue.New(queue.Options{Addr: cfg.RedisServerURL, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer q.Close()

	router := mediator.New(q)

	consumer := mediator.NewConsumer(q, cfg.InboundTopic, func(ctx context.Context, env *models.InboundEnvelope) {
		log.Printf("agentsim: received %d bytes on transport %q (txn=%s)", len(env.Payload), env.TransportType, env.TxnID)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := consumer.Register(ctx); err != nil {
		log.Fatalf("Failed to register with mediator: %v", err)
	}
	log.Printf("agentsim: registered worker uid=%s", consumer.UID())

	done := make(chan struct{})
	go func() {
		if err := consumer.Run(ctx); err != nil {
			log.Printf("agentsim: consumer stopped: %v", err)
		}
		close(done)
	}()

	go produceLoop(ctx, q, router, cfg)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down agent simulator...")
	cancel()
	<-done
	log.Println("Agent simulator stopped")
}

// produceLoop periodically pushes a sample outbound message through the
// router, demonstrating the agent-side outbound producer path described
// in SPEC_FULL.md 4.3.1.
func produceLoop(ctx context.Context, q *queue.Client, router *mediator.Router, cfg *models.AgentSimConfig) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload := samplePayload()
			topic, err := router.RouteOutbound(ctx, payload, cfg.OutboundTopic)
			if err != nil {
				log.Printf("agentsim: failed to route outbound sample: %v", err)
				continue
			}
			if err := q.RPush(ctx, topic, payload); err != nil {
				log.Printf("agentsim: failed to enqueue outbound sample: %v", err)
			}
		}
	}
}

func samplePayload() []byte {
	protected := map[string]interface{}{
		"recipients": []map[string]interface{}{
			{"header": map[string]string{"kid": "agentsim-demo-key"}},
		},
	}
	protectedJSON, _ := json.Marshal(protected)
	msg := map[string]string{
		"protected": base64.RawURLEncoding.EncodeToString(protectedJSON),
	}
	raw, _ := json.Marshal(msg)
	return raw
}
