package authority

import "boiding.ai/internal/sim/flock"

// Message is the closed set of events the authority processes. Only types in
// this package implement it.
type Message interface {
	kind() string
}

// Register adds a team. Reply, when set, receives the outcome (nil on
// success); it should have room for one value.
type Register struct {
	Name  string
	Host  string
	Port  int
	Reply chan<- error
}

type Unregister struct {
	Name  string
	Reply chan<- error
}

// HeartbeatCheck asks for a probe of every registered team.
type HeartbeatCheck struct{}

type HeartbeatStatus struct {
	Name      string
	Connected bool
}

type Tick struct{}

type SpawnAll struct {
	Count int
}

type Spawn struct {
	Name  string
	Count int
}

type BrainUpdate struct {
	Name   string
	Intent flock.Intents
}

func (Register) kind() string        { return "register" }
func (Unregister) kind() string      { return "unregister" }
func (HeartbeatCheck) kind() string  { return "heartbeat_check" }
func (HeartbeatStatus) kind() string { return "heartbeat_status" }
func (Tick) kind() string            { return "tick" }
func (SpawnAll) kind() string        { return "spawn_all" }
func (Spawn) kind() string           { return "spawn" }
func (BrainUpdate) kind() string     { return "brain_update" }

// Kind names a message for logs and journals.
func Kind(m Message) string {
	if m == nil {
		return "nil"
	}
	return m.kind()
}

// ProbeTarget is one liveness check handed to the prober.
type ProbeTarget struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// PollRequest is one brain call handed to the poller. Payload is the
// serialized flock and must not be modified.
type PollRequest struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Payload []byte `json:"-"`
}
