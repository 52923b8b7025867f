package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"lv-paperdesk/internal/auth"
	"lv-paperdesk/internal/marketdata"
	"lv-paperdesk/internal/positions"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const wsWriteWait = 5 * time.Second

// WSHandler streams prices and the caller's account events. Clients toggle
// streams with control messages; closing the socket unsubscribes from the
// bus.
type WSHandler struct {
	bus      *marketdata.Bus
	authSvc  *auth.Service
	book     *positions.Book
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(bus *marketdata.Bus, authSvc *auth.Service, book *positions.Book, origin string, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		bus:     bus,
		authSvc: authSvc,
		book:    book,
		log:     log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, origin) },
		},
	}
}

type wsControlMessage struct {
	Type    string `json:"type"`
	Enabled *bool  `json:"enabled,omitempty"`
}

type wsStreams struct {
	mu        sync.RWMutex
	prices    bool
	snapshots bool
}

func (s *wsStreams) set(prices, snapshots *bool) {
	s.mu.Lock()
	if prices != nil {
		s.prices = *prices
	}
	if snapshots != nil {
		s.snapshots = *snapshots
	}
	s.mu.Unlock()
}

func (s *wsStreams) get() (bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prices, s.snapshots
}

func allowOrigin(r *http.Request, origin string) bool {
	reqOrigin := r.Header.Get("Origin")
	if origin == "" || origin == "*" || reqOrigin == "" {
		return true
	}
	if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
		if strings.Contains(reqOrigin, "localhost") || strings.Contains(reqOrigin, "127.0.0.1") {
			return true
		}
	}
	return strings.EqualFold(reqOrigin, origin)
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = bearer(r)
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	accountID, err := h.authSvc.ParseToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)

	streams := &wsStreams{prices: true}
	on, off := true, false
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ctrl wsControlMessage
			if err := json.Unmarshal(payload, &ctrl); err != nil {
				continue
			}
			enabled := &on
			if ctrl.Enabled != nil {
				enabled = ctrl.Enabled
			}
			switch strings.ToLower(strings.TrimSpace(ctrl.Type)) {
			case "prices_subscribe":
				streams.set(enabled, nil)
			case "prices_unsubscribe":
				streams.set(&off, nil)
			case "account_snapshots_subscribe":
				streams.set(nil, enabled)
			case "account_snapshots_unsubscribe":
				streams.set(nil, &off)
			case "unsubscribe":
				streams.set(&off, &off)
			}
		}
	}()

	h.log.Debug("ws connected", zap.String("account_id", accountID))
	var lastSnapshot time.Time
	for {
		select {
		case evt, ok := <-sub:
			if !ok {
				return
			}
			prices, snapshots := streams.get()
			if evt.AccountID != "" && evt.AccountID != accountID {
				continue
			}
			if evt.Type == marketdata.EventPrices {
				if prices {
					if err := h.write(conn, evt); err != nil {
						return
					}
				}
				if !snapshots || time.Since(lastSnapshot) < 200*time.Millisecond {
					continue
				}
				m, err := h.book.FreshMetrics(accountID)
				if err != nil {
					continue
				}
				if err := h.write(conn, marketdata.Event{Type: "account_metrics", AccountID: accountID, Data: m}); err != nil {
					return
				}
				lastSnapshot = time.Now()
				continue
			}
			if evt.AccountID == "" {
				continue
			}
			if err := h.write(conn, evt); err != nil {
				return
			}
		case <-done:
			h.log.Debug("ws closed", zap.String("account_id", accountID))
			return
		}
	}
}

func (h *WSHandler) write(conn *websocket.Conn, evt marketdata.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(evt)
}
