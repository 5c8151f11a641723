package relay

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/openlane/agentbus/internal/codec"
	"github.com/openlane/agentbus/internal/models"
	"github.com/openlane/agentbus/internal/queue"
)

const directResponseBlockTimeout = 200 * time.Millisecond

// directResponseStore correlates txn_id to the reply an agent pushed back
// through the direct-response queue, for handlers blocked waiting on it.
type directResponseStore struct {
	pending sync.Map // txn_id -> *models.DirectResponseRecord
}

func (s *directResponseStore) take(txnID string) (*models.DirectResponseRecord, bool) {
	v, ok := s.pending.LoadAndDelete(txnID)
	if !ok {
		return nil, false
	}
	return v.(*models.DirectResponseRecord), true
}

// waitFor polls the store every pollInterval until a response for txnID
// arrives or timeout elapses.
func (s *directResponseStore) waitFor(ctx context.Context, txnID string, timeout, pollInterval time.Duration) (*models.DirectResponseRecord, bool) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if rec, ok := s.take(txnID); ok {
			return rec, true
		}
		if time.Now().After(deadline) {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-ticker.C:
		}
	}
}

// directResponseConsumer drains the direct-response queue and deposits
// each record into the store for the blocked handler to pick up.
type directResponseConsumer struct {
	q     *queue.Client
	topic string
	store *directResponseStore
}

func newDirectResponseConsumer(q *queue.Client, topic string, store *directResponseStore) *directResponseConsumer {
	return &directResponseConsumer{q: q, topic: topic, store: store}
}

func (c *directResponseConsumer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, err := c.q.BLPop(ctx, directResponseBlockTimeout, c.topic)
		if err != nil {
			log.Printf("relay: error reading direct-response queue: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if raw == nil {
			continue
		}

		rec, err := codec.DecodeDirectResponse(raw)
		if err != nil {
			log.Printf("relay: dropping malformed direct-response record: %v", err)
			continue
		}
		c.store.pending.Store(rec.TxnID, rec)
	}
}
