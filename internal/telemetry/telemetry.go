// Package telemetry holds the OpenTelemetry instruments of the match server.
// Instruments come from the global meter provider, which is a no-op unless
// the process installs one. A nil *Metrics is valid and records nothing.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/siohaza/dogfight/internal/protocol"
)

const instrumentationName = "github.com/siohaza/dogfight/internal/telemetry"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Gauges supplies values for the observable instruments.
type Gauges struct {
	Sessions func() int64
	Players  func() int64
}

type Metrics struct {
	sessionsCreated metric.Int64Counter
	sessionsRemoved metric.Int64Counter
	joins           metric.Int64Counter
	violations      metric.Int64Counter
	hits            metric.Int64Counter
	kills           metric.Int64Counter
	captures        metric.Int64Counter
	dropped         metric.Int64Counter

	sessions metric.Int64ObservableGauge
	players  metric.Int64ObservableGauge
}

func New(gauges Gauges) (*Metrics, error) {
	m := meter()
	t := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&t.sessionsCreated, "dogfight.sessions.created", "Sessions created"},
		{&t.sessionsRemoved, "dogfight.sessions.removed", "Sessions removed"},
		{&t.joins, "dogfight.players.joined", "Players joined"},
		{&t.violations, "dogfight.anticheat.violations", "Movement updates clamped by the displacement check"},
		{&t.hits, "dogfight.combat.hits", "Hits applied"},
		{&t.kills, "dogfight.combat.kills", "Kills"},
		{&t.captures, "dogfight.capture.completed", "Capture sites taken"},
		{&t.dropped, "dogfight.messages.dropped", "Inbound messages dropped"},
	}
	for _, c := range counters {
		counter, err := m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	var err error
	t.sessions, err = m.Int64ObservableGauge(
		"dogfight.sessions.active",
		metric.WithDescription("Sessions currently registered"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sessions gauge: %w", err)
	}

	t.players, err = m.Int64ObservableGauge(
		"dogfight.players.active",
		metric.WithDescription("Players currently in a session"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating players gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			if gauges.Sessions != nil {
				o.ObserveInt64(t.sessions, gauges.Sessions())
			}
			if gauges.Players != nil {
				o.ObserveInt64(t.players, gauges.Players())
			}
			return nil
		},
		t.sessions, t.players,
	)
	if err != nil {
		return nil, fmt.Errorf("registering gauge callback: %w", err)
	}

	return t, nil
}

func (t *Metrics) SessionCreated() {
	if t == nil {
		return
	}
	t.sessionsCreated.Add(context.Background(), 1)
}

func (t *Metrics) SessionRemoved(reason string) {
	if t == nil {
		return
	}
	t.sessionsRemoved.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (t *Metrics) PlayerJoined(team protocol.Team) {
	if t == nil {
		return
	}
	t.joins.Add(context.Background(), 1, metric.WithAttributes(teamAttr(team)))
}

func (t *Metrics) Violation() {
	if t == nil {
		return
	}
	t.violations.Add(context.Background(), 1)
}

func (t *Metrics) Hit(team protocol.Team, killed bool) {
	if t == nil {
		return
	}
	attrs := metric.WithAttributes(teamAttr(team))
	t.hits.Add(context.Background(), 1, attrs)
	if killed {
		t.kills.Add(context.Background(), 1, attrs)
	}
}

func (t *Metrics) Captured(team protocol.Team) {
	if t == nil {
		return
	}
	t.captures.Add(context.Background(), 1, metric.WithAttributes(teamAttr(team)))
}

func (t *Metrics) Dropped(reason string) {
	if t == nil {
		return
	}
	t.dropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func teamAttr(team protocol.Team) attribute.KeyValue {
	return attribute.String("team", team.String())
}
