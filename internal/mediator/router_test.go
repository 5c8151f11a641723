package mediator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/openlane/agentbus/internal/queue"
)

func newTestRouter(t *testing.T) (*Router, *queue.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	q := queue.NewFromRedis(rdb)
	return New(q), q
}

func registerWorker(t *testing.T, ctx context.Context, q *queue.Client, uid string) {
	t.Helper()
	if err := q.HSet(ctx, uidRecipKeysMapKey, uid, "[]"); err != nil {
		t.Fatalf("register worker %s: %v", uid, err)
	}
}

func TestAssignNewUIDRoundRobin(t *testing.T) {
	r, q := newTestRouter(t)
	ctx := context.Background()
	registerWorker(t, ctx, q, "worker-a")
	registerWorker(t, ctx, q, "worker-b")

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		uid, err := r.AssignNewUID(ctx, "key-"+string(rune('a'+i)), "")
		if err != nil {
			t.Fatalf("AssignNewUID() error: %v", err)
		}
		seen[uid] = true
	}
	if len(seen) != 2 {
		t.Errorf("round robin touched %d workers, want 2", len(seen))
	}
}

func TestAssignNewUIDSetsPendingCountZero(t *testing.T) {
	r, q := newTestRouter(t)
	ctx := context.Background()
	registerWorker(t, ctx, q, "worker-a")

	uid, err := r.AssignNewUID(ctx, "recip-1", "")
	if err != nil {
		t.Fatalf("AssignNewUID() error: %v", err)
	}

	value, ok, err := q.HGet(ctx, pendingMsgCountKey, countField(uid, "recip-1"))
	if err != nil {
		t.Fatalf("HGet() error: %v", err)
	}
	if !ok || value != "0" {
		t.Errorf("pending count = (%q, %v), want (0, true)", value, ok)
	}

	owner, ok, err := q.HGet(ctx, recipKeyUIDMapKey, "recip-1")
	if err != nil {
		t.Fatalf("HGet() error: %v", err)
	}
	if !ok || owner != uid {
		t.Errorf("recip_key_uid_map[recip-1] = %q, want %q", owner, uid)
	}
}

func TestReassignStaleOwnerCarriesPendingCount(t *testing.T) {
	r, q := newTestRouter(t)
	ctx := context.Background()
	registerWorker(t, ctx, q, "worker-a")
	registerWorker(t, ctx, q, "worker-b")

	uid, err := r.AssignNewUID(ctx, "recip-1", "")
	if err != nil {
		t.Fatalf("AssignNewUID() error: %v", err)
	}
	if _, err := q.HIncrBy(ctx, pendingMsgCountKey, countField(uid, "recip-1"), 3); err != nil {
		t.Fatalf("HIncrBy() error: %v", err)
	}

	if err := r.ReassignStaleOwner(ctx, uid); err != nil {
		t.Fatalf("ReassignStaleOwner() error: %v", err)
	}

	newOwner, ok, err := q.HGet(ctx, recipKeyUIDMapKey, "recip-1")
	if err != nil {
		t.Fatalf("HGet() error: %v", err)
	}
	if !ok {
		t.Fatal("recip-1 has no owner after reassignment")
	}
	if newOwner == uid {
		t.Errorf("new owner = old stale owner %q, want reassignment", uid)
	}

	carried, ok, err := q.HGet(ctx, pendingMsgCountKey, countField(newOwner, "recip-1"))
	if err != nil {
		t.Fatalf("HGet() error: %v", err)
	}
	if !ok || carried != "3" {
		t.Errorf("carried pending count = (%q, %v), want (3, true)", carried, ok)
	}

	stillOwned, err := q.HExists(ctx, uidRecipKeysMapKey, uid)
	if err != nil {
		t.Fatalf("HExists() error: %v", err)
	}
	if stillOwned {
		t.Error("stale UID still present in uid_recip_keys_map after reassignment")
	}
}

func TestProcessRecipientKeyAssignsThenReusesOwner(t *testing.T) {
	r, q := newTestRouter(t)
	ctx := context.Background()
	registerWorker(t, ctx, q, "worker-a")

	payload := packedMessage(t, "recip-1")

	topic1, err := r.ProcessRecipientKey(ctx, payload, "agentbus_inbound")
	if err != nil {
		t.Fatalf("ProcessRecipientKey() error: %v", err)
	}
	if topic1 != "agentbus_inbound_recip-1" {
		t.Errorf("topic = %q, want %q", topic1, "agentbus_inbound_recip-1")
	}

	uid, _, err := q.HGet(ctx, recipKeyUIDMapKey, "recip-1")
	if err != nil {
		t.Fatalf("HGet() error: %v", err)
	}
	if err := q.HSet(ctx, uidLastAccessMapKey, uid, time.Now().UTC().Format(time.RFC3339)); err != nil {
		t.Fatalf("HSet() error: %v", err)
	}

	topic2, err := r.ProcessRecipientKey(ctx, payload, "agentbus_inbound")
	if err != nil {
		t.Fatalf("ProcessRecipientKey() second call error: %v", err)
	}
	if topic2 != topic1 {
		t.Errorf("topic changed across calls with fresh last-access: %q vs %q", topic1, topic2)
	}

	count, ok, err := q.HGet(ctx, pendingMsgCountKey, countField(uid, "recip-1"))
	if err != nil {
		t.Fatalf("HGet() error: %v", err)
	}
	if !ok || count != "2" {
		t.Errorf("pending count = (%q, %v), want (2, true)", count, ok)
	}
}

func TestProcessRecipientKeyReassignsWhenStale(t *testing.T) {
	r, q := newTestRouter(t)
	ctx := context.Background()
	registerWorker(t, ctx, q, "worker-a")
	registerWorker(t, ctx, q, "worker-b")

	payload := packedMessage(t, "recip-1")

	if _, err := r.ProcessRecipientKey(ctx, payload, "agentbus_inbound"); err != nil {
		t.Fatalf("ProcessRecipientKey() error: %v", err)
	}
	uidBefore, _, _ := q.HGet(ctx, recipKeyUIDMapKey, "recip-1")

	// No last-access recorded means stale immediately.
	if _, err := r.ProcessRecipientKey(ctx, payload, "agentbus_inbound"); err != nil {
		t.Fatalf("ProcessRecipientKey() second call error: %v", err)
	}
	uidAfter, _, _ := q.HGet(ctx, recipKeyUIDMapKey, "recip-1")

	if uidAfter == uidBefore {
		t.Error("expected reassignment when owner has no recorded last access")
	}
}

func packedMessage(t *testing.T, kid string) []byte {
	t.Helper()
	protected := map[string]interface{}{
		"recipients": []map[string]interface{}{
			{"header": map[string]string{"kid": kid}},
		},
	}
	return mustJSON(t, map[string]interface{}{
		"protected": mustB64JSON(t, protected),
	})
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal() error: %v", err)
	}
	return b
}

func mustB64JSON(t *testing.T, v interface{}) string {
	t.Helper()
	b := mustJSON(t, v)
	return base64.URLEncoding.EncodeToString(b)
}
