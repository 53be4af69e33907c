package observer

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/time/rate"

	"boiding.ai/internal/protocol"
	"boiding.ai/internal/sim/authority"
	"boiding.ai/internal/sim/mailbox"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxCommand = 4 * 1024
	sendQueue  = 8
)

type Config struct {
	// SpawnCount is used when a Spawn command omits its count.
	SpawnCount   int
	CommandRate  float64
	CommandBurst int
	SendTimeout  time.Duration
	Logger       *log.Logger
}

type Stats struct {
	Subscribers      int    `json:"subscribers"`
	Snapshots        uint64 `json:"snapshots"`
	DroppedFrames    uint64 `json:"dropped_frames"`
	Commands         uint64 `json:"commands"`
	RejectedCommands uint64 `json:"rejected_commands"`
	LimitedCommands  uint64 `json:"limited_commands"`
}

// frame is one snapshot in both wire encodings. The msgpack form is built on
// first use, once per snapshot.
type frame struct {
	text []byte

	once   sync.Once
	packed []byte
	err    error
}

func (f *frame) msgpack() ([]byte, error) {
	f.once.Do(func() {
		var v any
		if err := json.Unmarshal(f.text, &v); err != nil {
			f.err = err
			return
		}
		f.packed, f.err = msgpack.Marshal(v)
	})
	return f.packed, f.err
}

type subscriber struct {
	id      string
	binary  bool
	out     chan *frame
	limiter *rate.Limiter
}

// Server fans authority snapshots out to websocket subscribers and feeds
// their Spawn commands back into the authority.
type Server struct {
	in    *mailbox.Mailbox[[]byte]
	inbox authority.Sink[authority.Message]
	cfg   Config
	log   *log.Logger

	upgrader websocket.Upgrader

	mu     sync.Mutex
	subs   map[string]*subscriber
	latest *frame

	snapshots atomic.Uint64
	dropped   atomic.Uint64
	commands  atomic.Uint64
	rejected  atomic.Uint64
	limited   atomic.Uint64
}

func NewServer(in *mailbox.Mailbox[[]byte], inbox authority.Sink[authority.Message], cfg Config) *Server {
	if cfg.SpawnCount <= 0 {
		cfg.SpawnCount = 1
	}
	if cfg.CommandRate <= 0 {
		cfg.CommandRate = 5
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = 10
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Server{
		in:    in,
		inbox: inbox,
		cfg:   cfg,
		log:   cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // public viewer
		},
		subs: map[string]*subscriber{},
	}
}

// Run drains the snapshot mailbox until ctx is done or the mailbox closes.
func (s *Server) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.in.Done():
			return nil
		case b := <-s.in.C():
			s.publish(b)
		}
	}
}

func (s *Server) publish(b []byte) {
	f := &frame{text: b}
	s.snapshots.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = f
	for _, sub := range s.subs {
		select {
		case sub.out <- f:
		default:
			// Slow subscriber: it catches up with a later snapshot.
			s.dropped.Add(1)
		}
	}
}

func (s *Server) join(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.id] = sub
	if s.latest != nil {
		sub.out <- s.latest
	}
}

func (s *Server) leave(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// Latest returns the most recent snapshot as JSON, or nil before the first.
func (s *Server) Latest() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil
	}
	return s.latest.text
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	n := len(s.subs)
	s.mu.Unlock()
	return Stats{
		Subscribers:      n,
		Snapshots:        s.snapshots.Load(),
		DroppedFrames:    s.dropped.Load(),
		Commands:         s.commands.Load(),
		RejectedCommands: s.rejected.Load(),
		LimitedCommands:  s.limited.Load(),
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(maxCommand)

		sub := &subscriber{
			id:      uuid.NewString(),
			binary:  r.URL.Query().Get("encoding") == "msgpack",
			out:     make(chan *frame, sendQueue),
			limiter: rate.NewLimiter(rate.Limit(s.cfg.CommandRate), s.cfg.CommandBurst),
		}
		s.join(sub)
		defer s.leave(sub.id)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() { writeErr <- s.writeLoop(ctx, conn, sub) }()

		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			s.handleCommand(sub, msg)
		}

		cancel()
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sub *subscriber) error {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
			return ctx.Err()
		case f := <-sub.out:
			kind, b := websocket.TextMessage, f.text
			if sub.binary {
				packed, err := f.msgpack()
				if err != nil {
					s.log.Printf("observer %s: msgpack: %v", sub.id, err)
					continue
				}
				kind, b = websocket.BinaryMessage, packed
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(kind, b); err != nil {
				return err
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}

func (s *Server) handleCommand(sub *subscriber, msg []byte) {
	cmd, err := protocol.DecodeCommand(msg)
	if err != nil || cmd.Spawn == nil {
		s.rejected.Add(1)
		return
	}
	if !sub.limiter.Allow() {
		s.limited.Add(1)
		return
	}
	n := cmd.Spawn.Count
	if n <= 0 {
		n = s.cfg.SpawnCount
	}
	if err := s.inbox.Send(authority.Spawn{Name: cmd.Spawn.Team, Count: n}, s.cfg.SendTimeout); err != nil {
		s.log.Printf("observer %s: spawn team=%s: %v", sub.id, cmd.Spawn.Team, err)
		return
	}
	s.commands.Add(1)
}
