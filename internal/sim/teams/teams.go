package teams

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"boiding.ai/internal/sim/flock"
)

// Reason strings are part of the registration endpoint's wire format.
const (
	ReasonNameTaken         = "NameTaken"
	ReasonAddressTaken      = "AddressTaken"
	ReasonNameNotRegistered = "NameNotRegistered"
)

var (
	ErrNameTaken         = errors.New(ReasonNameTaken)
	ErrAddressTaken      = errors.New(ReasonAddressTaken)
	ErrNameNotRegistered = errors.New(ReasonNameNotRegistered)
)

// Reason returns the machine-readable reason for a registry failure, or "".
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNameTaken):
		return ReasonNameTaken
	case errors.Is(err, ErrAddressTaken):
		return ReasonAddressTaken
	case errors.Is(err, ErrNameNotRegistered):
		return ReasonNameNotRegistered
	default:
		return ""
	}
}

type Team struct {
	Name      string       `json:"name"`
	Host      string       `json:"ip_address"`
	Port      int          `json:"port"`
	Connected bool         `json:"connected"`
	Flock     *flock.Flock `json:"flock"`
}

func (t *Team) ProbeURL() (string, error) { return t.endpoint("/heartbeat") }
func (t *Team) BrainURL() (string, error) { return t.endpoint("/brain") }

func (t *Team) endpoint(path string) (string, error) {
	host := strings.TrimSpace(t.Host)
	if host == "" {
		return "", fmt.Errorf("team %s: empty host", t.Name)
	}
	if strings.ContainsAny(host, "/?#@ \t") {
		return "", fmt.Errorf("team %s: bad host %q", t.Name, host)
	}
	if t.Port <= 0 || t.Port > 65535 {
		return "", fmt.Errorf("team %s: bad port %d", t.Name, t.Port)
	}
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(host, strconv.Itoa(t.Port)),
		Path:   path,
	}
	return u.String(), nil
}

// BrainPayload is the flock as sent to the team's brain.
func (t *Team) BrainPayload() ([]byte, error) {
	f := t.Flock
	if f == nil {
		f = flock.New()
	}
	return json.Marshal(f)
}

// Registry is the set of registered teams. It is not safe for concurrent use;
// a single owner goroutine mutates it.
type Registry struct {
	teams    map[string]*Team
	rng      *rand.Rand
	maxSpeed float64
}

type Option func(*Registry)

func WithRand(rng *rand.Rand) Option {
	return func(r *Registry) {
		if rng != nil {
			r.rng = rng
		}
	}
}

func WithMaxSpeed(v float64) Option {
	return func(r *Registry) {
		if v > 0 {
			r.maxSpeed = v
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		teams:    map[string]*Team{},
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		maxSpeed: flock.DefaultMaxSpeed,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) MaxSpeed() float64 { return r.maxSpeed }

func (r *Registry) Register(name, host string, port int) error {
	if _, ok := r.teams[name]; ok {
		return ErrNameTaken
	}
	for _, t := range r.teams {
		if t.Host == host && t.Port == port {
			return ErrAddressTaken
		}
	}
	r.teams[name] = &Team{
		Name:  name,
		Host:  host,
		Port:  port,
		Flock: flock.New(),
	}
	return nil
}

func (r *Registry) Unregister(name string) error {
	if _, ok := r.teams[name]; !ok {
		return ErrNameNotRegistered
	}
	delete(r.teams, name)
	return nil
}

// SetLiveness updates an existing team. It never creates one and reports
// whether the team was found.
func (r *Registry) SetLiveness(name string, connected bool) bool {
	t, ok := r.teams[name]
	if !ok {
		return false
	}
	t.Connected = connected
	return true
}

// Spawn adds n agents to every team.
func (r *Registry) Spawn(n int) {
	for _, name := range r.Names() {
		r.teams[name].Flock.Spawn(n, r.rng, r.maxSpeed)
	}
}

// SpawnFor adds n agents to one team. Unknown names are a no-op; the result
// only says whether the team existed.
func (r *Registry) SpawnFor(name string, n int) bool {
	t, ok := r.teams[name]
	if !ok {
		return false
	}
	t.Flock.Spawn(n, r.rng, r.maxSpeed)
	return true
}

func (r *Registry) Step(dt float64) {
	for _, t := range r.teams {
		t.Flock.Step(dt)
	}
}

func (r *Registry) Get(name string) (*Team, bool) {
	t, ok := r.teams[name]
	return t, ok
}

func (r *Registry) Len() int { return len(r.teams) }

func (r *Registry) Agents() int {
	n := 0
	for _, t := range r.teams {
		n += t.Flock.Len()
	}
	return n
}

// Names returns team names in ascending order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.teams))
	for name := range r.teams {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Teams returns the teams ordered by name.
func (r *Registry) Teams() []*Team {
	out := make([]*Team, 0, len(r.teams))
	for _, name := range r.Names() {
		out = append(out, r.teams[name])
	}
	return out
}

type snapshot struct {
	Teams map[string]*Team `json:"teams"`
}

// Snapshot serializes the whole registry. Map keys are emitted in sorted
// order, so equal registries produce identical bytes.
func (r *Registry) Snapshot() ([]byte, error) {
	return json.Marshal(snapshot{Teams: r.teams})
}
