package server

import "github.com/siohaza/dogfight/internal/protocol"

// The methods below back the Lua match API. They run on the hub goroutine
// because scripts are only invoked from session hooks.

func (s *Server) SendSystemChat(sessionID, message string) bool {
	sess, ok := s.registry.Get(sessionID)
	if !ok {
		return false
	}
	sess.SystemChat(message)
	return true
}

func (s *Server) TeamScore(sessionID string, team protocol.Team) (int, bool) {
	sess, ok := s.registry.Get(sessionID)
	if !ok {
		return 0, false
	}
	return sess.Scores().Get(team), true
}

func (s *Server) AddTeamScore(sessionID string, team protocol.Team, points int) bool {
	sess, ok := s.registry.Get(sessionID)
	if !ok {
		return false
	}
	return sess.AddScore(team, points)
}
