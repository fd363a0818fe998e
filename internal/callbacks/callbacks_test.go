package callbacks

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/siohaza/dogfight/internal/protocol"
)

type recorder struct {
	DefaultCallbacks
	joins []string
	allow bool
	asked int
}

func (r *recorder) OnPlayerJoin(sessionID string, p protocol.PlayerState) {
	r.joins = append(r.joins, sessionID+"/"+p.ID)
}

func (r *recorder) OnChatMessage(sessionID string, p protocol.PlayerState, message string) bool {
	r.asked++
	return r.allow
}

func TestChainFansOut(t *testing.T) {
	a := &recorder{allow: true}
	b := &recorder{allow: true}

	chain := NewCallbackChain()
	chain.Register(a)
	chain.Register(b)
	chain.Register(nil)
	assert.Equal(t, 2, chain.Len())

	chain.OnPlayerJoin("s1", protocol.PlayerState{ID: "p1"})
	assert.Equal(t, []string{"s1/p1"}, a.joins)
	assert.Equal(t, []string{"s1/p1"}, b.joins)

	assert.True(t, chain.OnChatMessage("s1", protocol.PlayerState{}, "hi"))
}

func TestChainVetoShortCircuits(t *testing.T) {
	deny := &recorder{allow: false}
	after := &recorder{allow: true}

	chain := NewCallbackChain()
	chain.Register(deny)
	chain.Register(after)

	assert.False(t, chain.OnChatMessage("s1", protocol.PlayerState{}, "spam"))
	assert.Equal(t, 1, deny.asked)
	assert.Equal(t, 0, after.asked)
}

func TestEmptyChainAllows(t *testing.T) {
	chain := NewCallbackChain()
	assert.True(t, chain.OnChatMessage("s1", protocol.PlayerState{}, "hi"))
	chain.OnMatchEnd("s1", protocol.Scores{}, nil)
}
