// Package clients tracks the pages connected to the accelerator and carries
// the messages exchanged with them.
package clients

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageClearCache  = "CLEAR_CACHE"
	MessageClaimed     = "CLAIMED"

	writeTimeout = 5 * time.Second
	readLimit    = 64 * 1024
)

type Message struct {
	Type    string `json:"type"`
	Version string `json:"version,omitempty"`
}

type Dispatcher interface {
	HandleMessage(ctx context.Context, msg Message) error
}

type client struct {
	conn *websocket.Conn
	id   string
}

type Hub struct {
	lock           sync.Mutex
	clients        map[*client]struct{}
	originPatterns []string
	logger         *zerolog.Logger
}

// NewHub creates an empty hub. Pages served from hosts matching
// originPatterns are allowed to connect.
func NewHub(originPatterns []string, logger *zerolog.Logger) *Hub {
	return &Hub{
		clients:        map[*client]struct{}{},
		originPatterns: originPatterns,
		logger:         logger,
	}
}

func (h *Hub) Len() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.lock.Lock()
	defer h.lock.Unlock()
	delete(h.clients, c)
}

func (h *Hub) snapshot() []*client {
	h.lock.Lock()
	defer h.lock.Unlock()

	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

// Claim notifies every connected client that the given generation now
// controls it, and returns how many were reached.
func (h *Hub) Claim(ctx context.Context, version string) (int, error) {
	msg := Message{Type: MessageClaimed, Version: version}
	claimed := 0

	for _, c := range h.snapshot() {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := wsjson.Write(writeCtx, c.conn, msg)
		cancel()

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return claimed, ctxErr
			}
			h.logger.Warn().Err(err).Str("client", c.id).Msg("Unable to claim client, dropping it")
			h.remove(c)
			_ = c.conn.CloseNow()
			continue
		}
		claimed++
	}

	h.logger.Debug().Int("clients", claimed).Str("version", version).Msg("Claimed clients")
	return claimed, nil
}

// Handler accepts websocket connections and hands the messages they send to
// the dispatcher.
func (h *Hub) Handler(dispatcher Dispatcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := hlog.FromRequest(r)

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
		if err != nil {
			logger.Warn().Err(err).Msg("Unable to accept client connection")
			return
		}
		conn.SetReadLimit(readLimit)

		c := &client{conn: conn, id: r.RemoteAddr}
		if id, ok := hlog.IDFromRequest(r); ok {
			c.id = id.String()
		}

		h.add(c)
		defer h.remove(c)
		logger.Debug().Msg("Client connected")

		h.serve(r.Context(), c, dispatcher, logger)
	})
}

func (h *Hub) serve(ctx context.Context, c *client, dispatcher Dispatcher, logger *zerolog.Logger) {
	for {
		var msg Message

		err := wsjson.Read(ctx, c.conn, &msg)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				logger.Debug().Msg("Client disconnected")
			case errors.Is(err, context.Canceled):
				logger.Debug().Msg("Client connection cancelled")
			default:
				logger.Warn().Err(err).Msg("Error reading from client, closing connection")
			}
			_ = c.conn.CloseNow()
			return
		}

		if err := dispatcher.HandleMessage(ctx, msg); err != nil {
			logger.Error().Err(err).Str("type", msg.Type).Msg("Error handling client message")
		}
	}
}
