package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siohaza/dogfight/internal/protocol"
)

func TestNewWithGlobalNoopMeter(t *testing.T) {
	m, err := New(Gauges{
		Sessions: func() int64 { return 1 },
		Players:  func() int64 { return 2 },
	})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.SessionCreated()
		m.SessionRemoved("empty")
		m.PlayerJoined(protocol.TeamRed)
		m.Violation()
		m.Hit(protocol.TeamBlue, true)
		m.Captured(protocol.TeamBlue)
		m.Dropped("rate_limited")
	})
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionCreated()
		m.Violation()
		m.Hit(protocol.TeamRed, false)
		m.Dropped("decode")
	})
}
