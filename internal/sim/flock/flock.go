package flock

import (
	"math"
	"math/rand/v2"
	"sort"
)

// DefaultMaxSpeed is the upper bound (exclusive) of a freshly spawned boid's speed.
const DefaultMaxSpeed = 0.01

type AgentID uint64

// Agent is a boid on the unit torus. X and Y are kept in [0,1).
type Agent struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
	Speed   float64 `json:"speed"`
}

// Intent is the steering a brain asks for one agent.
type Intent struct {
	Heading float64 `json:"heading"`
	Speed   float64 `json:"speed"`
}

// Intents is a brain response keyed by agent id.
type Intents map[AgentID]Intent

type Flock struct {
	Boids map[AgentID]*Agent `json:"boids"`
}

func New() *Flock {
	return &Flock{Boids: map[AgentID]*Agent{}}
}

func (f *Flock) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Boids)
}

func (f *Flock) Empty() bool { return f.Len() == 0 }

// IDs returns the agent ids in ascending order.
func (f *Flock) IDs() []AgentID {
	if f == nil {
		return nil
	}
	out := make([]AgentID, 0, len(f.Boids))
	for id := range f.Boids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func NewAgent(rng *rand.Rand, maxSpeed float64) Agent {
	if maxSpeed <= 0 {
		maxSpeed = DefaultMaxSpeed
	}
	return Agent{
		X:       rng.Float64(),
		Y:       rng.Float64(),
		Heading: 2 * math.Pi * (rng.Float64() - 0.5),
		Speed:   maxSpeed * rng.Float64(),
	}
}

// Spawn adds exactly n agents with fresh ids and returns those ids.
func (f *Flock) Spawn(n int, rng *rand.Rand, maxSpeed float64) []AgentID {
	if n <= 0 {
		return nil
	}
	if f.Boids == nil {
		f.Boids = map[AgentID]*Agent{}
	}
	ids := make([]AgentID, 0, n)
	for len(ids) < n {
		id := AgentID(rng.Uint64())
		if _, exists := f.Boids[id]; exists {
			continue
		}
		a := NewAgent(rng, maxSpeed)
		f.Boids[id] = &a
		ids = append(ids, id)
	}
	return ids
}

func (f *Flock) Step(dt float64) {
	if f == nil {
		return
	}
	for _, a := range f.Boids {
		a.Step(dt)
	}
}

// Step advances the agent along its heading. Heading and speed are unchanged.
func (a *Agent) Step(dt float64) {
	a.X = Wrap(a.X + dt*a.Speed*math.Cos(a.Heading))
	a.Y = Wrap(a.Y + dt*a.Speed*math.Sin(a.Heading))
}

// Steer replaces heading and speed, keeping speed within [0, maxSpeed].
func (a *Agent) Steer(in Intent, maxSpeed float64) {
	if !math.IsNaN(in.Heading) && !math.IsInf(in.Heading, 0) {
		a.Heading = in.Heading
	}
	s := in.Speed
	if math.IsNaN(s) || s < 0 {
		s = 0
	}
	if maxSpeed > 0 && s > maxSpeed {
		s = maxSpeed
	}
	a.Speed = s
}

// Wrap maps v onto [0,1), congruent modulo 1. Non-finite input maps to 0.
func Wrap(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	w := v - math.Floor(v)
	// v slightly below an integer can round up to exactly 1.
	if w >= 1 {
		w = 0
	}
	return w
}
