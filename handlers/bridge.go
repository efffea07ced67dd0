package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"reelsync/services/bridge"
)

const (
	bridgeReadLimit  = 1 << 20
	bridgePongWait   = 60 * time.Second
	bridgePingPeriod = 45 * time.Second
	bridgeWriteWait  = 10 * time.Second
)

// BridgeHandler upgrades extension connections and feeds their page frames
// into a bridge session.
type BridgeHandler struct {
	Tracker   bridge.Tracker
	Scrobbler bridge.Scrobbler
	upgrader  websocket.Upgrader
}

func NewBridgeHandler(tracker bridge.Tracker, scrobbler bridge.Scrobbler, allowedOrigins []string) *BridgeHandler {
	h := &BridgeHandler{Tracker: tracker, Scrobbler: scrobbler}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// Serve handles GET /api/bridge. One connection is one page.
func (h *BridgeHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[bridge] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	page := bridge.NewPage(uuid.NewString())
	session := bridge.NewSession(page, h.Tracker, h.Scrobbler)
	log.Printf("[bridge] page %s connected from %s", page.ID(), r.RemoteAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		closeCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		session.Close(closeCtx)
		done()
		log.Printf("[bridge] page %s disconnected", page.ID())
	}()

	conn.SetReadLimit(bridgeReadLimit)
	conn.SetReadDeadline(time.Now().Add(bridgePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(bridgePongWait))
	})

	writes := make(chan bridge.Ack, 16)
	writerDone := make(chan struct{})
	go h.writeLoop(conn, writes, writerDone)
	defer func() {
		close(writes)
		<-writerDone
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[bridge] page %s read failed: %v", page.ID(), err)
			}
			return
		}
		var frame bridge.Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			writes <- bridge.Ack{Type: "error", Error: "malformed frame: " + err.Error()}
			continue
		}
		ack, err := session.Apply(ctx, frame)
		if err != nil {
			ack = bridge.Ack{Type: "error", Error: err.Error()}
		}
		writes <- ack
	}
}

// writeLoop serialises acknowledgements and keepalive pings onto the socket.
func (h *BridgeHandler) writeLoop(conn *websocket.Conn, acks <-chan bridge.Ack, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(bridgePingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ack, ok := <-acks:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(bridgeWriteWait))
			if err := conn.WriteJSON(ack); err != nil {
				log.Printf("[bridge] write failed: %v", err)
				conn.Close()
				for range acks {
				}
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(bridgeWriteWait)); err != nil {
				conn.Close()
				for range acks {
				}
				return
			}
		}
	}
}
