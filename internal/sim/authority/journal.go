package authority

// JournalEntry is written once per processed message.
type JournalEntry struct {
	Seq    uint64 `json:"seq"`
	UnixMS int64  `json:"unix_ms"`
	Kind   string `json:"kind"`
	Team   string `json:"team,omitempty"`
	Count  int    `json:"count,omitempty"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Teams  int    `json:"teams"`
	Agents int    `json:"agents"`
}

type Journal interface {
	WriteEntry(JournalEntry) error
}

// Team lifecycle event kinds.
const (
	EventRegistered   = "registered"
	EventUnregistered = "unregistered"
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventSpawned      = "spawned"
)

type TeamEvent struct {
	Seq    uint64 `json:"seq" db:"seq"`
	UnixMS int64  `json:"unix_ms" db:"unix_ms"`
	Team   string `json:"team" db:"team"`
	Kind   string `json:"kind" db:"kind"`
	Host   string `json:"host,omitempty" db:"host"`
	Port   int    `json:"port,omitempty" db:"port"`
	Count  int    `json:"count,omitempty" db:"count"`
}

// EventSink receives team lifecycle events. Implementations must not block.
type EventSink interface {
	RecordTeamEvent(TeamEvent)
}
