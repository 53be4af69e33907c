package authority

import (
	"boiding.ai/internal/sim/flock"
	"boiding.ai/internal/sim/teams"
)

// IntentApplier decides what a brain response does to a team's flock. It runs
// on the authority goroutine and returns how many agents it changed.
type IntentApplier interface {
	ApplyIntent(t *teams.Team, in flock.Intents, maxSpeed float64) int
}

// LogIntent records brain responses without touching the flock.
type LogIntent struct{}

func (LogIntent) ApplyIntent(*teams.Team, flock.Intents, float64) int { return 0 }

// SteerIntent overwrites heading and speed of every agent the brain named.
// Ids the team does not own are ignored.
type SteerIntent struct{}

func (SteerIntent) ApplyIntent(t *teams.Team, in flock.Intents, maxSpeed float64) int {
	if t == nil || t.Flock == nil {
		return 0
	}
	n := 0
	for id, intent := range in {
		a, ok := t.Flock.Boids[id]
		if !ok {
			continue
		}
		a.Steer(intent, maxSpeed)
		n++
	}
	return n
}
