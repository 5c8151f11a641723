package mediator

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/openlane/agentbus/internal/codec"
	"github.com/openlane/agentbus/internal/models"
	"github.com/openlane/agentbus/internal/queue"
)

const consumerPollInterval = 200 * time.Millisecond

// Consumer is a worker-side poller: it registers its own UID with the
// router, then repeatedly reads its assigned recipient-key list and drains
// each key's inbound queue, handing decoded envelopes to Handle.
type Consumer struct {
	q       *queue.Client
	uid     string
	topic   string
	Handle  func(ctx context.Context, env *models.InboundEnvelope)
	fatalAt int
}

// NewConsumer creates a worker consumer with a freshly minted UID.
func NewConsumer(q *queue.Client, inboundTopic string, handle func(ctx context.Context, env *models.InboundEnvelope)) *Consumer {
	return &Consumer{
		q:      q,
		uid:    uuid.New().String(),
		topic:  inboundTopic,
		Handle: handle,
	}
}

// UID returns this consumer's worker identity.
func (c *Consumer) UID() string {
	return c.uid
}

// Register announces this worker to the routing table with an empty
// recipient-key list.
func (c *Consumer) Register(ctx context.Context) error {
	return c.q.HSet(ctx, uidRecipKeysMapKey, c.uid, "[]")
}

// Run polls this worker's recipient-key list until ctx is cancelled. Five
// consecutive Redis errors reading the key list are treated as fatal —
// the caller should restart the process.
func (c *Consumer) Run(ctx context.Context) error {
	router := New(c.q)
	consecutiveErrs := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		keys, err := router.ownedKeys(ctx, c.uid)
		if err != nil {
			consecutiveErrs++
			if consecutiveErrs >= 5 {
				return err
			}
			time.Sleep(consumerPollInterval)
			continue
		}
		consecutiveErrs = 0

		if len(keys) == 0 {
			time.Sleep(consumerPollInterval)
			continue
		}

		for _, key := range keys {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			c.drainKey(ctx, key)
		}
	}
}

func (c *Consumer) drainKey(ctx context.Context, key string) {
	raw, err := c.q.BLPop(ctx, consumerPollInterval, c.topic+"_"+key)
	if err != nil {
		log.Printf("mediator consumer %s: poll %s failed: %v", c.uid, key, err)
		return
	}
	if raw == nil {
		return
	}

	env, err := codec.DecodeInboundEnvelope(raw)
	if err != nil {
		log.Printf("mediator consumer %s: malformed envelope on %s: %v", c.uid, key, err)
		return
	}

	if err := c.q.HSet(ctx, uidLastAccessMapKey, c.uid, time.Now().UTC().Format(time.RFC3339)); err != nil {
		log.Printf("mediator consumer %s: failed to update last access: %v", c.uid, err)
	}
	c.decrementPending(ctx, key)

	if c.Handle != nil {
		c.Handle(ctx, env)
	}
}

func (c *Consumer) decrementPending(ctx context.Context, key string) {
	field := countField(c.uid, key)
	value, ok, err := c.q.HGet(ctx, pendingMsgCountKey, field)
	if err != nil || !ok {
		return
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n <= 0 {
		return
	}
	c.q.HIncrBy(ctx, pendingMsgCountKey, field, -1)
}
