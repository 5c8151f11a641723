// Package mediator implements the recipient-key routing table that lets
// several stateless agent-worker processes share ownership of inbound
// traffic for a dynamic set of recipients, round-robining new recipients
// across workers and reassigning a worker's recipients away from it once
// it stops polling.
package mediator

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/openlane/agentbus/internal/codec"
	"github.com/openlane/agentbus/internal/queue"
)

const (
	uidRecipKeysMapKey   = "uid_recip_keys_map"
	recipKeyUIDMapKey    = "recip_key_uid_map"
	uidLastAccessMapKey  = "uid_last_access_map"
	pendingMsgCountKey   = "uid_recip_key_pending_msg_count"
	roundRobinCounterKey = "round_robin_iterator"

	// StaleAfter is how long a worker UID can go without touching
	// uid_last_access_map before its recipients are reassigned.
	StaleAfter = 15 * time.Second

	waitForWorkerPoll = 200 * time.Millisecond
)

// Router tracks which worker UID owns which recipient key and routes
// inbound/outbound traffic for a recipient onto that worker's queue.
type Router struct {
	q *queue.Client
}

// New creates a Router over the given Redis-backed queue client.
func New(q *queue.Client) *Router {
	return &Router{q: q}
}

// AssignNewUID assigns recipKey to a worker chosen by round robin over all
// currently registered worker UIDs, skipping ignoreUID if set. It blocks,
// retrying every StaleAfter, until at least one worker other than ignoreUID
// is registered — producers must never silently drop a message for lack of
// a worker.
func (r *Router) AssignNewUID(ctx context.Context, recipKey, ignoreUID string) (string, error) {
	for {
		uids, err := r.q.HKeys(ctx, uidRecipKeysMapKey)
		if err != nil {
			return "", err
		}
		candidates := uids[:0:0]
		for _, u := range uids {
			if u != ignoreUID {
				candidates = append(candidates, u)
			}
		}
		if len(candidates) == 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(StaleAfter):
			}
			continue
		}

		idx, err := r.q.Incr(ctx, roundRobinCounterKey)
		if err != nil {
			return "", err
		}
		uid := candidates[int(idx)%len(candidates)]

		if err := r.appendRecipKey(ctx, uid, recipKey); err != nil {
			return "", err
		}
		if err := r.q.HSet(ctx, recipKeyUIDMapKey, recipKey, uid); err != nil {
			return "", err
		}
		if err := r.q.HSet(ctx, pendingMsgCountKey, countField(uid, recipKey), "0"); err != nil {
			return "", err
		}
		return uid, nil
	}
}

// ReassignStaleOwner moves every recipient key owned by staleUID to a
// freshly chosen worker, carrying over each key's pending message count,
// then removes staleUID from the routing table entirely. It changes nothing
// when none of staleUID's keys has a pending count of at least one.
func (r *Router) ReassignStaleOwner(ctx context.Context, staleUID string) error {
	keys, err := r.ownedKeys(ctx, staleUID)
	if err != nil {
		return err
	}

	anyPending := false
	for _, key := range keys {
		n, err := r.readCount(ctx, countField(staleUID, key))
		if err != nil {
			return err
		}
		anyPending = anyPending || n >= 1
	}
	if !anyPending {
		return nil
	}

	for _, key := range keys {
		oldField := countField(staleUID, key)
		pending, err := r.readCount(ctx, oldField)
		if err != nil {
			return err
		}

		newUID, err := r.AssignNewUID(ctx, key, staleUID)
		if err != nil {
			return err
		}

		if pending > 0 {
			if _, err := r.q.HIncrBy(ctx, pendingMsgCountKey, countField(newUID, key), pending); err != nil {
				return err
			}
		}
		if err := r.q.HDel(ctx, pendingMsgCountKey, oldField); err != nil {
			return err
		}
	}

	if err := r.q.HDel(ctx, uidRecipKeysMapKey, staleUID); err != nil {
		return err
	}
	return r.q.HDel(ctx, uidLastAccessMapKey, staleUID)
}

// ProcessRecipientKey resolves the queue topic a message addressed to the
// recipients encoded in payload should land on, assigning a new worker or
// reassigning away from a stale one as needed, and bumps the pending-count
// for the resolved owner. baseTopic is the inbound or outbound topic
// prefix; the returned topic is baseTopic + "_" + recipKey, or baseTopic
// unchanged (with no routing-table access) when payload names no recipient.
func (r *Router) ProcessRecipientKey(ctx context.Context, payload []byte, baseTopic string) (string, error) {
	recipKey, err := codec.RecipientKeys(payload)
	if err != nil {
		return "", err
	}
	if recipKey == "" {
		return baseTopic, nil
	}

	exists, err := r.q.HExists(ctx, recipKeyUIDMapKey, recipKey)
	if err != nil {
		return "", err
	}

	var uid string
	if !exists {
		uid, err = r.AssignNewUID(ctx, recipKey, "")
		if err != nil {
			return "", err
		}
	} else {
		uid, _, err = r.q.HGet(ctx, recipKeyUIDMapKey, recipKey)
		if err != nil {
			return "", err
		}
		if stale, err := r.isStale(ctx, uid); err != nil {
			return "", err
		} else if stale {
			if err := r.ReassignStaleOwner(ctx, uid); err != nil {
				return "", err
			}
			uid, _, err = r.q.HGet(ctx, recipKeyUIDMapKey, recipKey)
			if err != nil {
				return "", err
			}
		}
	}

	if _, err := r.q.HIncrBy(ctx, pendingMsgCountKey, countField(uid, recipKey), 1); err != nil {
		return "", err
	}
	return baseTopic + "_" + recipKey, nil
}

// RouteOutbound resolves the queue topic an agent-produced outbound
// message should be pushed to, keyed on the recipient encoded in its
// payload. It is the agent-side producer's sole integration point with
// the routing table and behaves identically to ProcessRecipientKey.
func (r *Router) RouteOutbound(ctx context.Context, payload []byte, outboundTopic string) (string, error) {
	return r.ProcessRecipientKey(ctx, payload, outboundTopic)
}

func (r *Router) isStale(ctx context.Context, uid string) (bool, error) {
	lastAccessStr, ok, err := r.q.HGet(ctx, uidLastAccessMapKey, uid)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	lastAccess, err := time.Parse(time.RFC3339, lastAccessStr)
	if err != nil {
		return true, nil
	}
	return time.Since(lastAccess) >= StaleAfter, nil
}

func (r *Router) ownedKeys(ctx context.Context, uid string) ([]string, error) {
	raw, ok, err := r.q.HGet(ctx, uidRecipKeysMapKey, uid)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *Router) appendRecipKey(ctx context.Context, uid, recipKey string) error {
	keys, err := r.ownedKeys(ctx, uid)
	if err != nil {
		return err
	}
	keys = append(keys, recipKey)
	raw, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	return r.q.HSet(ctx, uidRecipKeysMapKey, uid, string(raw))
}

func (r *Router) readCount(ctx context.Context, field string) (int64, error) {
	raw, ok, err := r.q.HGet(ctx, pendingMsgCountKey, field)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func countField(uid, recipKey string) string {
	return uid + "_" + recipKey
}
