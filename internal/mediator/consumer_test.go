package mediator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/openlane/agentbus/internal/codec"
	"github.com/openlane/agentbus/internal/models"
	"github.com/openlane/agentbus/internal/queue"
)

func TestConsumerDrainsAssignedKey(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	q := queue.NewFromRedis(rdb)

	var mu sync.Mutex
	var received []string

	c := NewConsumer(q, "agentbus_inbound", func(ctx context.Context, env *models.InboundEnvelope) {
		mu.Lock()
		received = append(received, string(env.Payload))
		mu.Unlock()
	})

	ctx := context.Background()
	if err := c.Register(ctx); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	router := New(q)
	if _, err := router.AssignNewUID(ctx, "recip-1", "other-worker-never-used"); err != nil {
		t.Fatalf("AssignNewUID() error: %v", err)
	}
	// Force ownership onto our consumer for a deterministic test.
	if err := q.HSet(ctx, uidRecipKeysMapKey, c.UID(), `["recip-1"]`); err != nil {
		t.Fatalf("HSet() error: %v", err)
	}
	if err := q.HSet(ctx, recipKeyUIDMapKey, "recip-1", c.UID()); err != nil {
		t.Fatalf("HSet() error: %v", err)
	}

	env := &models.InboundEnvelope{Payload: []byte("hello"), TransportType: "http"}
	raw, err := codec.EncodeInboundEnvelope(env)
	if err != nil {
		t.Fatalf("EncodeInboundEnvelope() error: %v", err)
	}
	if err := q.RPush(ctx, "agentbus_inbound_recip-1", raw); err != nil {
		t.Fatalf("RPush() error: %v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		c.Run(runCtx)
		close(done)
	}()

	deadline := time.After(1500 * time.Millisecond)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("consumer never delivered the queued envelope")
		case <-time.After(20 * time.Millisecond):
		}
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0] != "hello" {
		t.Errorf("received = %v, want [hello]", received)
	}
}
