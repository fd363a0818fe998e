// Package ping answers UDP status probes: HELLO gets HI, HELLOLAN gets the
// server info as JSON.
package ping

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

type Handler struct {
	conn          *net.UDPConn
	mu            sync.RWMutex
	serverInfo    ServerInfo
	logger        *slog.Logger
	stopChan      chan struct{}
	stopOnce      sync.Once
	listenAddress string
}

type ServerInfo struct {
	Name           string `json:"name"`
	Sessions       int    `json:"sessions"`
	PlayersCurrent int    `json:"players_current"`
	Capacity       int    `json:"capacity"`
	GameMode       string `json:"game_mode"`
	Version        string `json:"version"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
}

func NewHandler(address string, info ServerInfo, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		serverInfo:    info,
		logger:        logger,
		stopChan:      make(chan struct{}),
		listenAddress: address,
	}
}

func (h *Handler) Start() error {
	addr, err := net.ResolveUDPAddr("udp", h.listenAddress)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	h.conn = conn
	h.logger.Info("ping handler started", "address", conn.LocalAddr().String())

	go h.handlePackets()

	return nil
}

// Addr is the bound address, or nil before Start.
func (h *Handler) Addr() net.Addr {
	if h.conn == nil {
		return nil
	}
	return h.conn.LocalAddr()
}

func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
		if h.conn != nil {
			h.conn.Close()
		}
		h.logger.Info("ping handler stopped")
	})
}

func (h *Handler) UpdateServerInfo(update func(info *ServerInfo)) {
	h.mu.Lock()
	update(&h.serverInfo)
	h.mu.Unlock()
}

func (h *Handler) ServerInfo() ServerInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.serverInfo
}

func (h *Handler) handlePackets() {
	buffer := make([]byte, 1024)

	for {
		n, addr, err := h.conn.ReadFromUDP(buffer)
		if err != nil {
			select {
			case <-h.stopChan:
				return
			default:
				h.logger.Error("failed to read UDP packet", "error", err)
				continue
			}
		}

		if n == 0 {
			continue
		}

		response, err := h.response(buffer[:n])
		if err != nil {
			h.logger.Error("failed to build ping response", "error", err)
			continue
		}
		if response == nil {
			continue
		}

		if _, err := h.conn.WriteToUDP(response, addr); err != nil {
			h.logger.Error("failed to send ping response", "error", err, "addr", addr)
			continue
		}
		h.logger.Debug("sent ping response", "addr", addr, "len", len(response))
	}
}

// response returns the reply for a probe, or nil for unknown probes.
func (h *Handler) response(data []byte) ([]byte, error) {
	switch string(data) {
	case "HELLO":
		return []byte("HI"), nil
	case "HELLOLAN":
		jsonData, err := json.Marshal(h.ServerInfo())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal server info: %w", err)
		}
		return jsonData, nil
	default:
		return nil, nil
	}
}
