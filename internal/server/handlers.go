package server

import (
	"errors"
	"fmt"

	"github.com/siohaza/dogfight/internal/protocol"
	"github.com/siohaza/dogfight/internal/session"
	"github.com/siohaza/dogfight/internal/transport"
)

func (s *Server) handleMessage(conn transport.Conn, data []byte) {
	c, ok := s.clients[conn.ID()]
	if !ok {
		return
	}

	if !s.checkRateLimit(c) {
		return
	}

	env, err := protocol.Decode(data)
	if err != nil {
		s.reject(c, "decode", err)
		return
	}

	if env.Type == protocol.MsgJoin {
		s.handleJoin(c, env)
		return
	}

	sess := s.sessionOf(c)
	if sess == nil {
		s.metrics.Dropped("not_joined")
		s.sendError(c, protocol.ErrCodeNotJoined, "join a session first")
		return
	}

	switch env.Type {
	case protocol.MsgPosition:
		s.handlePosition(c, sess, env)

	case protocol.MsgCombatHit:
		s.handleCombatHit(c, sess, env)

	case protocol.MsgChat:
		s.handleChat(c, sess, env)

	default:
		s.reject(c, "unknown_type", fmt.Errorf("unknown message type %q", env.Type))
	}
}

func (s *Server) handleJoin(c *client, env protocol.Envelope) {
	if sess := s.sessionOf(c); sess != nil {
		if sess.Status() != protocol.StatusEnded {
			s.sendError(c, protocol.ErrCodeJoinFailed, "already in a session")
			return
		}
		sess.RemovePlayer(c.conn.ID())
		c.sessionID = ""
	}

	var req protocol.JoinRequest
	if err := protocol.DecodePayload(env, &req); err != nil {
		s.reject(c, "bad_payload", err)
		return
	}

	sess, state, err := s.registry.Join(c.conn.ID(), req.Name)
	if err != nil {
		if errors.Is(err, session.ErrInvalidName) {
			s.sendError(c, protocol.ErrCodeInvalidName, err.Error())
		} else {
			s.sendError(c, protocol.ErrCodeJoinFailed, err.Error())
		}
		s.logger.Info("join rejected", "conn", c.conn.ID(), "error", err)
		return
	}

	c.sessionID = sess.ID()
	s.refreshCounts()
	s.logger.Info("client joined session",
		"conn", c.conn.ID(),
		"session", sess.ID(),
		"name", state.Name,
		"team", state.Team)
}

func (s *Server) handlePosition(c *client, sess *session.Session, env protocol.Envelope) {
	var req protocol.PositionRequest
	if err := protocol.DecodePayload(env, &req); err != nil {
		s.reject(c, "bad_payload", err)
		return
	}
	sess.UpdatePosition(c.conn.ID(), req.Position.Vector(), req.Rotation.Vector(), req.Energy)
}

func (s *Server) handleCombatHit(c *client, sess *session.Session, env protocol.Envelope) {
	var req protocol.CombatHitRequest
	if err := protocol.DecodePayload(env, &req); err != nil {
		s.reject(c, "bad_payload", err)
		return
	}
	sess.HandleHit(c.conn.ID(), req.TargetID, req.Damage)
}

func (s *Server) handleChat(c *client, sess *session.Session, env protocol.Envelope) {
	var req protocol.ChatRequest
	if err := protocol.DecodePayload(env, &req); err != nil {
		s.reject(c, "bad_payload", err)
		return
	}

	if _, err := sess.Chat(c.conn.ID(), req.Message); err != nil {
		if errors.Is(err, session.ErrInvalidChat) {
			s.sendError(c, protocol.ErrCodeInvalidChat, err.Error())
		}
		s.logger.Debug("chat dropped", "conn", c.conn.ID(), "error", err)
	}
}

// sessionOf returns the live session the client plays in, if any.
func (s *Server) sessionOf(c *client) *session.Session {
	if c.sessionID == "" {
		return nil
	}
	sess, ok := s.registry.Get(c.sessionID)
	if !ok || !sess.HasPlayer(c.conn.ID()) {
		c.sessionID = ""
		return nil
	}
	return sess
}

func (s *Server) reject(c *client, reason string, err error) {
	s.metrics.Dropped(reason)
	s.logger.Debug("dropped message", "conn", c.conn.ID(), "reason", reason, "error", err)
	s.sendError(c, protocol.ErrCodeBadMessage, err.Error())
}

func (s *Server) sendError(c *client, code, message string) {
	data, err := protocol.Encode(protocol.MsgError, protocol.ErrorNotice{Code: code, Message: message})
	if err != nil {
		s.logger.Error("failed to encode error notice", "error", err)
		return
	}
	s.send(c, data)
}

// Publish fans an event out to the connected members of a session.
func (s *Server) Publish(sessionID string, ev protocol.Event) {
	sess, ok := s.registry.Get(sessionID)
	if !ok {
		return
	}

	data, err := protocol.Encode(ev.Type, ev.Payload)
	if err != nil {
		s.logger.Error("failed to encode event", "session", sessionID, "type", ev.Type, "error", err)
		return
	}

	for _, id := range sess.PlayerIDs() {
		if !ev.Recipient(id) {
			continue
		}
		if c, ok := s.clients[id]; ok {
			s.send(c, data)
		}
	}
}

func (s *Server) send(c *client, data []byte) {
	err := c.conn.Send(data)
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrSendQueueFull):
		s.metrics.Dropped("send_queue_full")
		s.logger.Warn("send queue full, disconnecting client", "conn", c.conn.ID())
		c.conn.Close("send queue full")
	case errors.Is(err, transport.ErrClosed):
	default:
		s.logger.Error("failed to send", "conn", c.conn.ID(), "error", err)
	}
}
