// Package server is the event hub. A single goroutine owns the session
// registry; gateways hand it connection events and raw frames, and a ticker
// drives every session timer.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/siohaza/dogfight/internal/callbacks"
	"github.com/siohaza/dogfight/internal/capture"
	"github.com/siohaza/dogfight/internal/gamemode"
	"github.com/siohaza/dogfight/internal/gateway"
	"github.com/siohaza/dogfight/internal/network"
	"github.com/siohaza/dogfight/internal/ping"
	"github.com/siohaza/dogfight/internal/protocol"
	"github.com/siohaza/dogfight/internal/registry"
	"github.com/siohaza/dogfight/internal/session"
	"github.com/siohaza/dogfight/internal/telemetry"
	"github.com/siohaza/dogfight/internal/transport"
	"github.com/siohaza/dogfight/pkg/config"
	"github.com/siohaza/dogfight/pkg/lua"
)

// Version is reported by the status responder.
var Version = "0.1.0"

const eventQueueSize = 1024

// Gateway accepts client connections and reports them to a hub.
type Gateway interface {
	Start(hub transport.Hub) error
	Stop()
}

type eventKind int

const (
	eventConnect eventKind = iota
	eventMessage
	eventDisconnect
)

type event struct {
	kind eventKind
	conn transport.Conn
	data []byte
}

type client struct {
	conn       transport.Conn
	limiter    *rate.Limiter
	violations int
	sessionID  string
}

type Server struct {
	config      *config.Config
	registry    *registry.Registry
	gameMode    gamemode.GameMode
	callbacks   *callbacks.CallbackChain
	metrics     *telemetry.Metrics
	logger      *slog.Logger
	clock       func() time.Time
	tickRate    time.Duration
	startTime   time.Time
	gateways    []Gateway
	pingHandler *ping.Handler

	// owned by the run goroutine
	clients map[string]*client

	events chan event

	sessionCount atomic.Int64
	playerCount  atomic.Int64

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	running  atomic.Bool
	stopOnce sync.Once
}

var (
	_ transport.Hub     = (*Server)(nil)
	_ session.Publisher = (*Server)(nil)
	_ lua.MatchAPI      = (*Server)(nil)
)

func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	return newServer(cfg, logger, time.Now)
}

func newServer(cfg *config.Config, logger *slog.Logger, clock func() time.Time) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())

	srv := &Server{
		config:    cfg,
		logger:    logger,
		clock:     clock,
		tickRate:  cfg.Server.TickRate.Std(),
		callbacks: callbacks.NewCallbackChain(),
		clients:   make(map[string]*client),
		events:    make(chan event, eventQueueSize),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	metrics, err := telemetry.New(telemetry.Gauges{
		Sessions: srv.sessionCount.Load,
		Players:  srv.playerCount.Load,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	srv.metrics = metrics

	api := lua.NewGameAPI(srv, logger)
	mode, err := gamemode.Load(cfg.Scripting.Path, api, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to load game mode: %w", err)
	}
	srv.gameMode = mode
	srv.callbacks.Register(mode)
	logger.Info("loaded game mode", "mode", mode.Name(), "script", cfg.Scripting.Path)

	srv.registry = registry.New(SessionConfig(cfg), cfg.Server.SweepInterval.Std(), registry.Options{
		Clock:     clock,
		Publisher: srv,
		Callbacks: srv.callbacks,
		Metrics:   metrics,
		Logger:    logger,
	})

	if cfg.Network.ENetEnabled {
		srv.gateways = append(srv.gateways,
			network.NewServer(cfg.Network.ENetPort, cfg.Network.MaxPeers, cfg.Network.SendQueue, logger))
	}
	if cfg.Network.WebSocketEnabled {
		srv.gateways = append(srv.gateways, gateway.New(gateway.Options{
			Addr:           cfg.Network.WebSocketAddr,
			Path:           cfg.Network.WebSocketPath,
			AllowedOrigins: cfg.Network.AllowedOrigins,
			SendQueue:      cfg.Network.SendQueue,
			MaxConnections: cfg.Network.MaxPeers,
		}, logger))
	}

	if cfg.Network.PingEnabled {
		srv.pingHandler = ping.NewHandler(fmt.Sprintf(":%d", cfg.Network.PingPort), ping.ServerInfo{
			Name:     cfg.Server.Name,
			Capacity: cfg.Match.Capacity,
			GameMode: mode.Name(),
			Version:  Version,
		}, logger)
	}

	return srv, nil
}

// SessionConfig converts the file configuration into match rules.
func SessionConfig(cfg *config.Config) session.Config {
	sc := session.DefaultConfig()

	sc.Capacity = cfg.Match.Capacity
	sc.MatchDuration = cfg.Match.Duration.Std()
	sc.RespawnDelay = cfg.Match.RespawnDelay.Std()
	sc.MaxDisplacement = cfg.AntiCheat.MaxDisplacement
	sc.MaxHealth = cfg.Combat.MaxHealth
	sc.MaxEnergy = cfg.Combat.MaxEnergy
	sc.MaxDamage = cfg.Combat.MaxDamage
	sc.Limits.NameMin = cfg.Limits.NameMin
	sc.Limits.NameMax = cfg.Limits.NameMax
	sc.Limits.ChatMax = cfg.Limits.ChatMax
	sc.RedSpawn = protocol.Vector3{X: cfg.Spawn.Red.X, Y: cfg.Spawn.Red.Y, Z: cfg.Spawn.Red.Z}
	sc.BlueSpawn = protocol.Vector3{X: cfg.Spawn.Blue.X, Y: cfg.Spawn.Blue.Y, Z: cfg.Spawn.Blue.Z}
	sc.SpawnJitter = cfg.Spawn.Jitter
	sc.Capture.Radius = cfg.Capture.Radius
	sc.Capture.Rate = cfg.Capture.Rate
	sc.Capture.DecayRate = cfg.Capture.DecayRate
	sc.CaptureTick = cfg.Capture.TickInterval.Std()
	sc.ScoreInterval = cfg.Capture.ScoreInterval.Std()

	if len(cfg.Capture.Sites) > 0 {
		sc.Sites = make([]capture.Template, 0, len(cfg.Capture.Sites))
		for _, site := range cfg.Capture.Sites {
			sc.Sites = append(sc.Sites, capture.Template{ID: site.ID, X: site.X, Z: site.Z})
		}
	}

	return sc
}

func (s *Server) Start() error {
	for i, gw := range s.gateways {
		if err := gw.Start(s); err != nil {
			for _, started := range s.gateways[:i] {
				started.Stop()
			}
			return fmt.Errorf("failed to start gateway: %w", err)
		}
	}

	if s.pingHandler != nil {
		if err := s.pingHandler.Start(); err != nil {
			s.logger.Warn("failed to start ping handler", "error", err)
			s.pingHandler = nil
		}
	}

	s.startTime = s.clock()
	s.running.Store(true)

	go s.run()

	s.logger.Info("server started", "name", s.config.Server.Name, "mode", s.gameMode.Name())
	return nil
}

func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping server")

		s.cancel()
		if s.running.Load() {
			<-s.done
		}

		for _, gw := range s.gateways {
			gw.Stop()
		}

		if s.pingHandler != nil {
			s.pingHandler.Stop()
		}

		s.registry.Close()
		s.refreshCounts()

		s.logger.Info("server stopped")
	})
}

func (s *Server) RegisterCallbacks(cb callbacks.Callbacks) {
	s.callbacks.Register(cb)
}

func (s *Server) GetUptime() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}
	return s.clock().Sub(s.startTime)
}

// Connect, Deliver and Disconnect are called from gateway goroutines.

func (s *Server) Connect(conn transport.Conn) {
	s.enqueue(event{kind: eventConnect, conn: conn})
}

func (s *Server) Deliver(conn transport.Conn, data []byte) {
	s.enqueue(event{kind: eventMessage, conn: conn, data: data})
}

func (s *Server) Disconnect(conn transport.Conn) {
	s.enqueue(event{kind: eventDisconnect, conn: conn})
}

func (s *Server) enqueue(ev event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Server) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.tickRate)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("server context cancelled, exiting run loop")
			return

		case <-ticker.C:
			s.tick(s.clock())

		case ev := <-s.events:
			s.process(ev)
		}
	}
}

func (s *Server) tick(now time.Time) {
	defer s.recoverPanic("tick", "")

	s.registry.Update(now)
	s.refreshCounts()
}

func (s *Server) process(ev event) {
	defer s.recoverPanic("event", ev.conn.ID())

	switch ev.kind {
	case eventConnect:
		s.handleConnect(ev.conn)
	case eventMessage:
		s.handleMessage(ev.conn, ev.data)
	case eventDisconnect:
		s.handleDisconnect(ev.conn)
	}
}

func (s *Server) recoverPanic(what, connID string) {
	if r := recover(); r != nil {
		s.metrics.Dropped("panic")
		s.logger.Error("recovered from panic",
			"in", what,
			"conn", connID,
			"panic", r,
			"stack", string(debug.Stack()))
	}
}

func (s *Server) handleConnect(conn transport.Conn) {
	c := &client{conn: conn}
	if s.config.RateLimit.Enabled {
		c.limiter = rate.NewLimiter(rate.Limit(s.config.RateLimit.MessagesPerSecond), s.config.RateLimit.Burst)
	}
	s.clients[conn.ID()] = c

	s.logger.Info("client connected", "conn", conn.ID(), "address", conn.RemoteAddr(), "clients", len(s.clients))
}

func (s *Server) handleDisconnect(conn transport.Conn) {
	c, ok := s.clients[conn.ID()]
	if !ok {
		return
	}
	delete(s.clients, conn.ID())

	if sess := s.sessionOf(c); sess != nil {
		sess.RemovePlayer(conn.ID())
	}

	s.refreshCounts()
	s.logger.Info("client disconnected", "conn", conn.ID(), "clients", len(s.clients))
}

// checkRateLimit reports whether the client may send another message.
// Clients that keep flooding are disconnected.
func (s *Server) checkRateLimit(c *client) bool {
	if c.limiter == nil || c.limiter.AllowN(s.clock(), 1) {
		return true
	}

	c.violations++
	s.metrics.Dropped("rate_limit")
	s.logger.Warn("rate limit exceeded",
		"conn", c.conn.ID(),
		"violations", c.violations)

	if c.violations >= s.config.RateLimit.MaxViolations {
		s.logger.Warn("disconnecting client for excessive rate limit violations", "conn", c.conn.ID())
		c.conn.Close("rate limit exceeded")
	}
	return false
}

func (s *Server) refreshCounts() {
	sessions := s.registry.Len()
	players := s.registry.PlayerCount()
	s.sessionCount.Store(int64(sessions))
	s.playerCount.Store(int64(players))

	if s.pingHandler != nil {
		s.pingHandler.UpdateServerInfo(func(info *ping.ServerInfo) {
			info.Sessions = sessions
			info.PlayersCurrent = players
			info.UptimeSeconds = int64(s.GetUptime() / time.Second)
		})
	}
}
