// Package relay hosts the inbound HTTP and WebSocket transports: it
// accepts messages from agent peers, pushes them onto the inbound queue
// (optionally through the mediator router), and for senders that asked
// for a synchronous reply, blocks until one shows up on the
// direct-response queue.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/openlane/agentbus/internal/codec"
	"github.com/openlane/agentbus/internal/mediator"
	"github.com/openlane/agentbus/internal/models"
	"github.com/openlane/agentbus/internal/queue"
)

// Server hosts the inbound transports for one relay process: one listener
// per entry in cfg.InboundTransports.
type Server struct {
	q      *queue.Client
	cfg    *models.RelayConfig
	router *mediator.Router // nil unless MediatorMode is set

	store    *directResponseStore
	consumer *directResponseConsumer

	servers []*http.Server

	running bool
}

// New creates a relay Server. If cfg.MediatorMode is set, inbound messages
// are routed through router before being enqueued.
func New(q *queue.Client, cfg *models.RelayConfig, router *mediator.Router) *Server {
	return &Server{q: q, cfg: cfg, router: router, store: &directResponseStore{}}
}

// Run starts the direct-response consumer and one listener per entry in
// cfg.InboundTransports, blocking until ctx is cancelled, then gracefully
// shuts every listener down within cfg.ShutdownSecs.
func (s *Server) Run(ctx context.Context) error {
	s.consumer = newDirectResponseConsumer(s.q, s.cfg.DirectResponseTopic, s.store)
	go s.consumer.run(ctx)

	errCh := make(chan error, len(s.cfg.InboundTransports))
	s.servers = make([]*http.Server, 0, len(s.cfg.InboundTransports))

	for _, t := range s.cfg.InboundTransports {
		var handler http.Handler
		switch t.Transport {
		case "http":
			handler = WithMiddleware(s.httpMux())
		case "ws":
			handler = WithMiddleware(http.HandlerFunc(s.handleWS))
		default:
			return models.NewRelayError(models.ErrCodeInvalidConfig,
				fmt.Sprintf("unsupported inbound transport %q", t.Transport), nil)
		}

		srv := &http.Server{
			Addr:         t.Host + ":" + t.Port,
			Handler:      handler,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 20 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		s.servers = append(s.servers, srv)

		transportType := t.Transport
		go func(srv *http.Server, transportType string) {
			log.Printf("relay: %s listening on %s", transportType, srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}(srv, transportType)
	}

	s.running = true
	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Printf("relay: listener error: %v", err)
	}

	s.running = false
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.ShutdownSecs)*time.Second)
	defer cancel()
	for _, srv := range s.servers {
		srv.Shutdown(shutdownCtx)
	}
	return nil
}

// IsRunning reports whether Run has started its listeners and has not yet
// begun shutting them down, for the status endpoint's liveness check.
func (s *Server) IsRunning() bool {
	return s.running
}

// Ready reports whether the relay is ready to accept traffic. A relay with
// an initialized queue client is always ready; readiness here exists to
// satisfy status.Checker rather than to model a real warm-up phase.
func (s *Server) Ready() bool {
	return s.q != nil
}

func (s *Server) httpMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleHTTPMessage)
	mux.HandleFunc("GET /", s.handleInvite)
	return mux
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("c_i") != "" {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("You have received an invitation. Open this URL in an app that can accept invitations."))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHTTPMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	txnID := ""
	if wantsReturnRoute(body) {
		txnID = uuid.New().String()
	}

	env := &models.InboundEnvelope{Payload: body, TxnID: txnID, TransportType: "http"}
	if err := s.enqueueInbound(r.Context(), env); err != nil {
		log.Printf("relay: failed to enqueue inbound http message: %v", err)
	}

	if txnID == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	timeout := time.Duration(s.cfg.DirectResponseTimeoutS * float64(time.Second))
	poll := time.Duration(s.cfg.DirectResponsePollS * float64(time.Second))
	rec, ok := s.store.waitFor(r.Context(), txnID, timeout, poll)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	contentType := rec.ResponseData.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(rec.ResponseData.Response)
}

// enqueueInbound pushes env onto the inbound queue, resolving the topic
// through the mediator router when one is configured. Redis errors are
// retried forever — no inbound message is silently dropped.
func (s *Server) enqueueInbound(ctx context.Context, env *models.InboundEnvelope) error {
	topic := s.cfg.InboundTopic
	if s.router != nil {
		resolved, err := s.router.ProcessRecipientKey(ctx, env.Payload, s.cfg.InboundTopic)
		if err != nil {
			log.Printf("relay: mediator routing failed, falling back to default topic: %v", err)
		} else {
			topic = resolved
		}
	}

	raw, err := codec.EncodeInboundEnvelope(env)
	if err != nil {
		return err
	}

	for {
		if err := s.q.RPush(ctx, topic, raw); err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		return nil
	}
}

func wantsReturnRoute(body []byte) bool {
	var parsed struct {
		Transport struct {
			ReturnRoute string `json:"return_route"`
		} `json:"~transport"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false
	}
	return parsed.Transport.ReturnRoute != "" && parsed.Transport.ReturnRoute != "none"
}
