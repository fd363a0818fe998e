package callbacks

import (
	"github.com/siohaza/dogfight/internal/protocol"
)

// Callbacks observe match events. Hooks returning bool may veto the action.
type Callbacks interface {
	OnPlayerJoin(sessionID string, p protocol.PlayerState)
	OnPlayerLeave(sessionID string, p protocol.PlayerState)
	OnPlayerKill(sessionID string, killer, victim protocol.PlayerState)
	OnPlayerRespawn(sessionID string, p protocol.PlayerState)
	OnSiteCaptured(sessionID string, site protocol.SiteState, team protocol.Team)
	OnChatMessage(sessionID string, p protocol.PlayerState, message string) bool
	OnMatchEnd(sessionID string, scores protocol.Scores, winner *protocol.Team)
}

type DefaultCallbacks struct{}

func (d *DefaultCallbacks) OnPlayerJoin(sessionID string, p protocol.PlayerState)  {}
func (d *DefaultCallbacks) OnPlayerLeave(sessionID string, p protocol.PlayerState) {}
func (d *DefaultCallbacks) OnPlayerKill(sessionID string, killer, victim protocol.PlayerState) {
}
func (d *DefaultCallbacks) OnPlayerRespawn(sessionID string, p protocol.PlayerState) {}
func (d *DefaultCallbacks) OnSiteCaptured(sessionID string, site protocol.SiteState, team protocol.Team) {
}
func (d *DefaultCallbacks) OnChatMessage(sessionID string, p protocol.PlayerState, message string) bool {
	return true
}
func (d *DefaultCallbacks) OnMatchEnd(sessionID string, scores protocol.Scores, winner *protocol.Team) {
}

type CallbackChain struct {
	callbacks []Callbacks
}

func NewCallbackChain() *CallbackChain {
	return &CallbackChain{
		callbacks: make([]Callbacks, 0),
	}
}

func (c *CallbackChain) Register(cb Callbacks) {
	if cb == nil {
		return
	}
	c.callbacks = append(c.callbacks, cb)
}

func (c *CallbackChain) Len() int {
	return len(c.callbacks)
}

func (c *CallbackChain) OnPlayerJoin(sessionID string, p protocol.PlayerState) {
	for _, cb := range c.callbacks {
		cb.OnPlayerJoin(sessionID, p)
	}
}

func (c *CallbackChain) OnPlayerLeave(sessionID string, p protocol.PlayerState) {
	for _, cb := range c.callbacks {
		cb.OnPlayerLeave(sessionID, p)
	}
}

func (c *CallbackChain) OnPlayerKill(sessionID string, killer, victim protocol.PlayerState) {
	for _, cb := range c.callbacks {
		cb.OnPlayerKill(sessionID, killer, victim)
	}
}

func (c *CallbackChain) OnPlayerRespawn(sessionID string, p protocol.PlayerState) {
	for _, cb := range c.callbacks {
		cb.OnPlayerRespawn(sessionID, p)
	}
}

func (c *CallbackChain) OnSiteCaptured(sessionID string, site protocol.SiteState, team protocol.Team) {
	for _, cb := range c.callbacks {
		cb.OnSiteCaptured(sessionID, site, team)
	}
}

func (c *CallbackChain) OnChatMessage(sessionID string, p protocol.PlayerState, message string) bool {
	for _, cb := range c.callbacks {
		if !cb.OnChatMessage(sessionID, p, message) {
			return false
		}
	}
	return true
}

func (c *CallbackChain) OnMatchEnd(sessionID string, scores protocol.Scores, winner *protocol.Team) {
	for _, cb := range c.callbacks {
		cb.OnMatchEnd(sessionID, scores, winner)
	}
}
