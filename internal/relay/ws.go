package relay

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/openlane/agentbus/internal/models"
)

const (
	wsIdleTimeout  = 15 * time.Second
	wsPingInterval = 3 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relay: ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		return nil
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.wsHeartbeat(conn, stopPing)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleWSMessage(r, conn, msgType, data)
	}
}

func (s *Server) wsHeartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleWSMessage(r *http.Request, conn *websocket.Conn, msgType int, data []byte) {
	txnID := ""
	if wantsReturnRoute(data) {
		txnID = uuid.New().String()
	}

	env := &models.InboundEnvelope{Payload: data, TxnID: txnID, TransportType: "ws"}
	if err := s.enqueueInbound(r.Context(), env); err != nil {
		log.Printf("relay: failed to enqueue inbound ws message: %v", err)
		return
	}

	if txnID == "" {
		return
	}

	timeout := time.Duration(s.cfg.DirectResponseTimeoutS * float64(time.Second))
	poll := time.Duration(s.cfg.DirectResponsePollS * float64(time.Second))
	rec, ok := s.store.waitFor(r.Context(), txnID, timeout, poll)
	if !ok {
		return
	}

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(msgType, rec.ResponseData.Response); err != nil {
		log.Printf("relay: ws write failed: %v", err)
	}
}
