package authority

import "sync/atomic"

// Metrics is a point-in-time view safe to read from any goroutine.
type Metrics struct {
	Processed uint64 `json:"processed"`
	Ticks     uint64 `json:"ticks"`
	Teams     int    `json:"teams"`
	Connected int    `json:"connected"`
	Agents    int    `json:"agents"`

	InboxDepth    int `json:"inbox_depth"`
	InboxCapacity int `json:"inbox_capacity"`

	EmitFailures EmitFailures `json:"emit_failures"`

	BrainUpdates   uint64 `json:"brain_updates"`
	IntentsApplied uint64 `json:"intents_applied"`
	UnknownKinds   uint64 `json:"unknown_kinds"`
}

type EmitFailures struct {
	Prober      uint64 `json:"prober"`
	Poller      uint64 `json:"poller"`
	Broadcaster uint64 `json:"broadcaster"`
}

type counters struct {
	processed      atomic.Uint64
	ticks          atomic.Uint64
	brainUpdates   atomic.Uint64
	intentsApplied atomic.Uint64
	unknownKinds   atomic.Uint64

	proberFail      atomic.Uint64
	pollerFail      atomic.Uint64
	broadcasterFail atomic.Uint64
}

// gauges are recomputed by the loop after each message.
type gauges struct {
	Teams     int
	Connected int
	Agents    int
}

func (a *Authority) Metrics() Metrics {
	if a == nil {
		return Metrics{}
	}
	m := Metrics{
		Processed:      a.c.processed.Load(),
		Ticks:          a.c.ticks.Load(),
		BrainUpdates:   a.c.brainUpdates.Load(),
		IntentsApplied: a.c.intentsApplied.Load(),
		UnknownKinds:   a.c.unknownKinds.Load(),
		InboxDepth:     a.inbox.Len(),
		InboxCapacity:  a.inbox.Cap(),
		EmitFailures: EmitFailures{
			Prober:      a.c.proberFail.Load(),
			Poller:      a.c.pollerFail.Load(),
			Broadcaster: a.c.broadcasterFail.Load(),
		},
	}
	if g, ok := a.gauges.Load().(gauges); ok {
		m.Teams = g.Teams
		m.Connected = g.Connected
		m.Agents = g.Agents
	}
	return m
}
