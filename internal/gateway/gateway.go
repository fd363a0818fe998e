// Package gateway is the WebSocket transport. Each connection gets a read
// pump that feeds the hub and a write pump that drains its send queue.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/siohaza/dogfight/internal/protocol"
	"github.com/siohaza/dogfight/internal/transport"
)

const (
	readTimeout     = 60 * time.Second
	pingInterval    = 54 * time.Second
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

type Options struct {
	Addr           string
	Path           string
	AllowedOrigins []string
	SendQueue      int
	MaxConnections int
}

type Gateway struct {
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger

	hub      transport.Hub
	server   *http.Server
	listener net.Listener

	mu    sync.Mutex
	conns map[string]*conn
}

func New(opts Options, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Path == "" {
		opts.Path = "/ws"
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = 256
	}

	g := &Gateway{
		opts:   opts,
		logger: logger.With("gateway", "websocket"),
		conns:  make(map[string]*conn),
	}
	g.upgrader = websocket.Upgrader{
		CheckOrigin:       g.checkOrigin,
		EnableCompression: true,
	}
	return g
}

// Handler serves the WebSocket endpoint. The hub must be set through Start
// or Attach before the first request.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(g.opts.Path, g.handleWebSocket)
	return mux
}

func (g *Gateway) Attach(hub transport.Hub) {
	g.hub = hub
}

func (g *Gateway) Start(hub transport.Hub) error {
	g.Attach(hub)

	listener, err := net.Listen("tcp", g.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.opts.Addr, err)
	}

	g.listener = listener
	g.server = &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := g.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("http server error", "error", err)
		}
	}()

	g.logger.Info("gateway started", "address", listener.Addr().String(), "path", g.opts.Path)
	return nil
}

// Addr is the bound address, or nil before Start.
func (g *Gateway) Addr() net.Addr {
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

func (g *Gateway) Stop() {
	if g.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := g.server.Shutdown(ctx); err != nil {
			g.logger.Warn("http server shutdown", "error", err)
		}
	}

	g.mu.Lock()
	open := make([]*conn, 0, len(g.conns))
	for _, c := range g.conns {
		open = append(open, c)
	}
	g.mu.Unlock()

	for _, c := range open {
		c.Close("server shutting down")
	}
	g.logger.Info("gateway stopped")
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(g.opts.AllowedOrigins, "*") || slices.Contains(g.opts.AllowedOrigins, origin) {
		return true
	}
	g.logger.Warn("rejected websocket origin", "origin", origin)
	return false
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if g.opts.MaxConnections > 0 && g.count() >= g.opts.MaxConnections {
		http.Error(w, "server full", http.StatusServiceUnavailable)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &conn{
		id:      uuid.NewString(),
		remote:  r.RemoteAddr,
		ws:      ws,
		send:    make(chan []byte, g.opts.SendQueue),
		done:    make(chan struct{}),
		gateway: g,
	}

	g.mu.Lock()
	g.conns[c.id] = c
	g.mu.Unlock()

	g.logger.Debug("connection opened", "conn", c.id, "remote", c.remote)
	g.hub.Connect(c)

	go c.writePump()
	go c.readPump()
}

func (g *Gateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

func (g *Gateway) forget(c *conn) {
	g.mu.Lock()
	delete(g.conns, c.id)
	g.mu.Unlock()
}

type conn struct {
	id      string
	remote  string
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	reason  string
	gateway *Gateway
}

func (c *conn) ID() string {
	return c.id
}

func (c *conn) RemoteAddr() string {
	return c.remote
}

func (c *conn) Send(data []byte) error {
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return transport.ErrSendQueueFull
	}
}

func (c *conn) Close(reason string) {
	c.once.Do(func() {
		c.reason = reason
		close(c.done)
	})
}

func (c *conn) readPump() {
	defer func() {
		c.Close("")
		c.gateway.forget(c)
		c.gateway.hub.Disconnect(c)
		c.ws.Close()
		c.gateway.logger.Debug("connection closed", "conn", c.id)
	}()

	c.ws.SetReadLimit(protocol.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.gateway.logger.Debug("websocket read error", "conn", c.id, "error", err)
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		c.gateway.hub.Deliver(c, data)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Close("write failed")
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close("ping failed")
				return
			}

		case <-c.done:
			c.flush()
			code := websocket.CloseNormalClosure
			if c.reason != "" {
				code = websocket.ClosePolicyViolation
			}
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, c.reason),
				time.Now().Add(writeTimeout))
			return
		}
	}
}

// flush writes whatever is still queued so a final notice reaches the
// client before the close frame.
func (c *conn) flush() {
	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}
