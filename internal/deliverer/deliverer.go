// Package deliverer dispatches outbound jobs to their service endpoint
// over HTTP or WebSocket, and retries failed HTTP dispatches with
// exponential backoff via a Redis delayed-retry sorted set.
package deliverer

import (
	"bytes"
	"context"
	"log"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openlane/agentbus/internal/codec"
	"github.com/openlane/agentbus/internal/models"
	"github.com/openlane/agentbus/internal/queue"
)

const blockTimeout = 200 * time.Millisecond

// Deliverer runs the dispatch loop and the retry-promotion loop.
type Deliverer struct {
	q       *queue.Client
	cfg     *models.DelivererConfig
	http    *http.Client
	metrics models.Metrics
	mu      sync.Mutex
	running atomic.Bool

	retryTopic string
}

// New creates a Deliverer bound to cfg.OutboundTopic / cfg.OutboundRetryTopic.
func New(q *queue.Client, cfg *models.DelivererConfig) *Deliverer {
	return &Deliverer{
		q:          q,
		cfg:        cfg,
		http:       &http.Client{Timeout: 10 * time.Second},
		retryTopic: cfg.OutboundRetryTopic,
	}
}

// Run starts the dispatch loop and the retry-promotion loop and blocks
// until ctx is cancelled and both have returned.
func (d *Deliverer) Run(ctx context.Context) {
	d.running.Store(true)
	defer d.running.Store(false)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.dispatchLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		d.retryPromotionLoop(ctx)
	}()
	wg.Wait()
}

// IsRunning reports whether the dispatch and retry loops are active, for
// the status endpoint's liveness check.
func (d *Deliverer) IsRunning() bool {
	return d.running.Load()
}

// Ready reports whether the deliverer is ready to accept traffic.
func (d *Deliverer) Ready() bool {
	return d.q != nil
}

// Metrics returns a snapshot of the deliverer's counters.
func (d *Deliverer) Metrics() models.Metrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metrics
}

func (d *Deliverer) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, err := d.q.BLPop(ctx, blockTimeout, d.cfg.OutboundTopic)
		if err != nil {
			log.Printf("deliverer: error reading outbound queue: %v", err)
			sleep(ctx, time.Second)
			continue
		}
		if raw == nil {
			sleep(ctx, time.Duration(d.cfg.DispatchIdleS*float64(time.Second)))
			continue
		}

		job, err := codec.DecodeOutboundJob(raw)
		if err != nil {
			log.Printf("deliverer: dropping malformed outbound job: %v", err)
			continue
		}
		d.dispatch(ctx, job)
	}
}

func (d *Deliverer) dispatch(ctx context.Context, job *models.OutboundJob) {
	scheme, err := schemeOf(job.Service.URL)
	if err != nil {
		log.Printf("deliverer: dropping job with invalid endpoint %q: %v", job.Service.URL, err)
		return
	}

	var dispatchErr error
	switch scheme {
	case "http", "https":
		dispatchErr = d.dispatchHTTP(ctx, job)
	case "ws", "wss":
		d.dispatchWS(ctx, job)
		return
	default:
		log.Printf("deliverer: dropping job with unsupported scheme %q", scheme)
		return
	}

	if dispatchErr == nil {
		d.mu.Lock()
		d.metrics.Dispatched++
		d.mu.Unlock()
		return
	}

	log.Printf("deliverer: dispatch failed for %s: %v", job.Service.URL, dispatchErr)
	d.mu.Lock()
	d.metrics.DispatchFails++
	d.mu.Unlock()

	job.Retries++
	if job.Retries > d.cfg.MaxRetries {
		log.Printf("deliverer: exceeded max retries for %s, dropping", job.Service.URL)
		d.mu.Lock()
		d.metrics.RetriesDrops++
		d.mu.Unlock()
		return
	}
	d.scheduleRetry(ctx, job)
}

func (d *Deliverer) dispatchHTTP(ctx context.Context, job *models.OutboundJob) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.Service.URL, bytes.NewReader(job.Payload))
	if err != nil {
		return err
	}
	for k, v := range job.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.NewRelayError(models.ErrCodeDispatch, "non-success status", nil)
	}
	return nil
}

// dispatchWS sends a job over a one-shot WebSocket connection. Per
// SPEC_FULL.md 4.1, ws dispatches are never retried regardless of outcome.
func (d *Deliverer) dispatchWS(ctx context.Context, job *models.OutboundJob) {
	header := http.Header{}
	for k, v := range job.Headers {
		header.Set(k, v)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, job.Service.URL, header)
	if err != nil {
		log.Printf("deliverer: ws dial failed for %s: %v", job.Service.URL, err)
		d.mu.Lock()
		d.metrics.DispatchFails++
		d.mu.Unlock()
		return
	}
	defer conn.Close()

	msgType := websocket.TextMessage
	if job.Headers["Content-Type"] != "application/json" {
		msgType = websocket.BinaryMessage
	}
	if err := conn.WriteMessage(msgType, job.Payload); err != nil {
		log.Printf("deliverer: ws write failed for %s: %v", job.Service.URL, err)
		d.mu.Lock()
		d.metrics.DispatchFails++
		d.mu.Unlock()
		return
	}
	d.mu.Lock()
	d.metrics.Dispatched++
	d.mu.Unlock()
}

// scheduleRetry computes the delayed-redelivery score using
// retry_interval^(1 + retry_backoff*(retries-1)) and ZADDs the job.
func (d *Deliverer) scheduleRetry(ctx context.Context, job *models.OutboundJob) {
	raw, err := codec.EncodeOutboundJob(job)
	if err != nil {
		log.Printf("deliverer: failed to encode job for retry: %v", err)
		return
	}

	wait := math.Pow(d.cfg.RetryIntervalS, 1+d.cfg.RetryBackoffFactor*float64(job.Retries-1))
	score := float64(time.Now().Unix()) + wait

	for {
		if err := d.q.ZAdd(ctx, d.retryTopic, score, raw); err != nil {
			log.Printf("deliverer: failed to schedule retry, will keep trying: %v", err)
			if !sleep(ctx, time.Second) {
				return
			}
			continue
		}
		d.mu.Lock()
		d.metrics.RetriesQueued++
		d.mu.Unlock()
		return
	}
}

const retryBatchSize = 10

func (d *Deliverer) retryPromotionLoop(ctx context.Context) {
	interval := time.Duration(d.cfg.RetryTimedelayS * float64(time.Second))
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.promoteDueRetries(ctx)
		}
	}
}

func (d *Deliverer) promoteDueRetries(ctx context.Context) {
	now := float64(time.Now().Unix())
	due, err := d.q.ZRangeByScoreUpTo(ctx, d.retryTopic, now, retryBatchSize)
	if err != nil {
		log.Printf("deliverer: failed to scan retry queue: %v", err)
		return
	}

	for _, entry := range due {
		removed, err := d.q.ZRem(ctx, d.retryTopic, entry)
		if err != nil {
			log.Printf("deliverer: failed to claim retry entry: %v", err)
			continue
		}
		if !removed {
			// Another promoter claimed it first.
			continue
		}
		for {
			err := d.q.RPush(ctx, d.cfg.OutboundTopic, entry)
			if err == nil {
				break
			}
			log.Printf("deliverer: failed to re-enqueue retry entry, will retry: %v", err)
			if !sleep(ctx, time.Second) {
				return
			}
		}
	}
}

func schemeOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Scheme), nil
}

// sleep waits for d or ctx cancellation, returning false if cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
