// Package network is the ENet (UDP) gateway. One goroutine owns the ENet
// host; other goroutines talk to peers through the outbox.
package network

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codecat/go-enet"
	"github.com/google/uuid"

	"github.com/siohaza/dogfight/internal/transport"
)

const (
	serviceTimeout   = 10 * time.Millisecond
	eventsPerService = 100
)

type Server struct {
	host      enet.Host
	port      uint16
	maxPeers  int
	queueSize int
	logger    *slog.Logger

	hub   transport.Hub
	peers map[enet.Peer]*peerConn

	mu     sync.Mutex
	outbox []outgoing

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

type outgoing struct {
	conn       *peerConn
	data       []byte
	disconnect bool
}

func NewServer(port int, maxPeers int, sendQueue int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		port:      uint16(port),
		maxPeers:  maxPeers,
		queueSize: sendQueue,
		logger:    logger.With("gateway", "enet"),
		peers:     make(map[enet.Peer]*peerConn),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (s *Server) Start(hub transport.Hub) error {
	enet.Initialize()

	address := enet.NewListenAddress(s.port)

	var err error
	s.host, err = enet.NewHost(address, uint64(s.maxPeers), 1, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to create ENet host: %w", err)
	}

	if err := s.host.CompressWithRangeCoder(); err != nil {
		s.host.Destroy()
		return fmt.Errorf("failed to setup range coder compression: %w", err)
	}

	s.hub = hub
	go s.poll()

	s.logger.Info("gateway started", "port", s.port, "max_peers", s.maxPeers)
	return nil
}

func (s *Server) Stop() {
	s.once.Do(func() {
		close(s.stop)
		if s.host != nil {
			<-s.done
		}
		s.logger.Info("gateway stopped")
	})
}

func (s *Server) poll() {
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			s.shutdown()
			return
		default:
		}

		s.flush()
		s.service()
	}
}

func (s *Server) service() {
	event := s.host.Service(uint32(serviceTimeout.Milliseconds()))

	for i := 0; i < eventsPerService && event.GetType() != enet.EventNone; i++ {
		peer := event.GetPeer()

		switch event.GetType() {
		case enet.EventConnect:
			conn := &peerConn{
				id:     uuid.NewString(),
				addr:   peer.GetAddress().String(),
				peer:   peer,
				server: s,
			}
			s.peers[peer] = conn
			s.logger.Debug("peer connected", "conn", conn.id, "peer", conn.addr)
			s.hub.Connect(conn)

		case enet.EventDisconnect:
			conn, ok := s.peers[peer]
			if ok {
				delete(s.peers, peer)
				conn.closed.Store(true)
				s.logger.Debug("peer disconnected", "conn", conn.id, "peer", conn.addr)
				s.hub.Disconnect(conn)
			}

		case enet.EventReceive:
			packet := event.GetPacket()
			if packet == nil {
				break
			}
			data := append([]byte(nil), packet.GetData()...)
			packet.Destroy()

			if conn, ok := s.peers[peer]; ok {
				s.hub.Deliver(conn, data)
			}
		}

		event = s.host.Service(0)
	}
}

// flush sends everything queued since the last pass. Entries for peers
// that disconnected in the meantime are dropped.
func (s *Server) flush() {
	s.mu.Lock()
	pending := s.outbox
	s.outbox = nil
	for _, out := range pending {
		if !out.disconnect {
			out.conn.queued--
		}
	}
	s.mu.Unlock()

	for _, out := range pending {
		peer := out.conn.peer
		if s.peers[peer] != out.conn {
			continue
		}

		if out.disconnect {
			peer.DisconnectLater(0)
			continue
		}

		packet, err := enet.NewPacket(out.data, enet.PacketFlagReliable)
		if err != nil {
			s.logger.Error("failed to create packet", "conn", out.conn.id, "error", err)
			continue
		}
		if err := peer.SendPacket(packet, 0); err != nil {
			s.logger.Error("failed to send packet", "conn", out.conn.id, "error", err)
		}
	}
}

func (s *Server) shutdown() {
	for peer := range s.peers {
		peer.DisconnectNow(0)
	}
	s.peers = make(map[enet.Peer]*peerConn)
	s.host.Destroy()
}

// enqueue bounds pending sends per peer. Disconnects are never refused.
func (s *Server) enqueue(out outgoing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !out.disconnect {
		if out.conn.queued >= s.queueSize {
			return transport.ErrSendQueueFull
		}
		out.conn.queued++
	}
	s.outbox = append(s.outbox, out)
	return nil
}

type peerConn struct {
	id     string
	addr   string
	peer   enet.Peer
	server *Server
	closed atomic.Bool

	// guarded by server.mu
	queued int
}

func (c *peerConn) ID() string {
	return c.id
}

func (c *peerConn) RemoteAddr() string {
	return c.addr
}

func (c *peerConn) Send(data []byte) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	return c.server.enqueue(outgoing{conn: c, data: data})
}

func (c *peerConn) Close(reason string) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.server.logger.Info("disconnecting peer", "conn", c.id, "peer", c.addr, "reason", reason)
	_ = c.server.enqueue(outgoing{conn: c, disconnect: true})
}
