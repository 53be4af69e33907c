package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"boiding.ai/internal/protocol"
	"boiding.ai/internal/sim/flock"
)

const maxFlockBody = 4 * 1024 * 1024

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	server string
	name   string
	host   string
	port   int
}

func newRootCmd() *cobra.Command {
	var o options
	root := &cobra.Command{
		Use:          "boiding-brain",
		Short:        "Reference team brain for the boiding server",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&o.server, "server", "http://127.0.0.1:8000", "boiding server base url")
	pf.StringVar(&o.name, "name", "wanderers", "team name")
	pf.StringVar(&o.host, "host", "127.0.0.1", "address the server should reach this brain on")
	pf.IntVar(&o.port, "port", 9000, "port the brain listens on")

	var (
		turn     float64
		register bool
	)
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Answer heartbeat probes and brain polls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(os.Stdout, "[brain] ", log.LstdFlags|log.Lmicroseconds)
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serveBrain(ctx, o, turn, register, logger)
		},
	}
	serve.Flags().Float64Var(&turn, "turn", 0.3, "max heading change per poll, radians")
	serve.Flags().BoolVar(&register, "register", true, "register on start and unregister on exit")

	reg := &cobra.Command{
		Use:   "register",
		Short: "Register the team with the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return registerTeam(newClient(o.server), o.name, o.host, o.port)
		},
	}
	unreg := &cobra.Command{
		Use:   "unregister",
		Short: "Remove the team from the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return unregisterTeam(newClient(o.server), o.name)
		},
	}

	var (
		socket string
		spawn  int
	)
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Follow the observer stream and print team sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watchTeams(ctx, cmd.OutOrStdout(), socket, o.name, spawn)
		},
	}
	watch.Flags().StringVar(&socket, "socket", "ws://127.0.0.1:3435/", "observer websocket url")
	watch.Flags().IntVar(&spawn, "spawn", 0, "ask for this many agents for --name before watching")

	root.AddCommand(serve, reg, unreg, watch)
	return root
}

func newClient(server string) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(strings.TrimSpace(server), "/")).
		SetTimeout(5 * time.Second)
}

// registerTeam and unregisterTeam surface the server's reason on failure.
func registerTeam(cl *resty.Client, name, host string, port int) error {
	resp, err := cl.R().
		SetBody(protocol.RegisterRequest{Name: name, IPAddress: host, Port: port}).
		SetError(&protocol.ErrorResponse{}).
		Post("/register")
	return registerResult(resp, err)
}

func unregisterTeam(cl *resty.Client, name string) error {
	resp, err := cl.R().
		SetBody(protocol.UnregisterRequest{Name: name}).
		SetError(&protocol.ErrorResponse{}).
		Delete("/register")
	return registerResult(resp, err)
}

func registerResult(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.StatusCode() == http.StatusNoContent {
		return nil
	}
	if e, ok := resp.Error().(*protocol.ErrorResponse); ok && e.Reason != "" {
		if e.Detail != "" {
			return fmt.Errorf("%s: %s (%s)", resp.Status(), e.Reason, e.Detail)
		}
		return fmt.Errorf("%s: %s", resp.Status(), e.Reason)
	}
	return fmt.Errorf("unexpected status %s", resp.Status())
}

// wanderer steers every agent by a small random turn and keeps its speed.
type wanderer struct {
	turn float64

	mu  sync.Mutex
	rng *rand.Rand
}

func newWanderer(turn float64, rng *rand.Rand) *wanderer {
	return &wanderer{turn: turn, rng: rng}
}

func (w *wanderer) Intents(f flock.Flock) flock.Intents {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(flock.Intents, len(f.Boids))
	for _, id := range f.IDs() {
		a := f.Boids[id]
		if a == nil {
			continue
		}
		h := a.Heading + (w.rng.Float64()*2-1)*w.turn
		h = math.Mod(h, 2*math.Pi)
		if h < 0 {
			h += 2 * math.Pi
		}
		out[id] = flock.Intent{Heading: h, Speed: a.Speed}
	}
	return out
}

func (w *wanderer) Handler(logger *log.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/heartbeat", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/brain", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxFlockBody))
		if err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		var f flock.Flock
		if err := json.Unmarshal(body, &f); err != nil {
			logger.Printf("bad flock: %v", err)
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(w.Intents(f))
	})
	return mux
}

func serveBrain(ctx context.Context, o options, turn float64, register bool, logger *log.Logger) error {
	w := newWanderer(turn, rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)))
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(o.port)),
		Handler:           w.Handler(logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Printf("team=%s listening on %s", o.name, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	cl := newClient(o.server)
	if register {
		if err := registerTeam(cl, o.name, o.host, o.port); err != nil {
			logger.Printf("register: %v", err)
		} else {
			logger.Printf("registered with %s as %s:%d", o.server, o.host, o.port)
		}
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}
	if register {
		if uerr := unregisterTeam(cl, o.name); uerr != nil {
			logger.Printf("unregister: %v", uerr)
		}
	}
	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx2)
	return err
}

type snapshot struct {
	Teams map[string]struct {
		Connected bool        `json:"connected"`
		Flock     flock.Flock `json:"flock"`
	} `json:"teams"`
}

func watchTeams(ctx context.Context, out io.Writer, socket, name string, spawn int) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, socket, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	if spawn > 0 {
		cmd := protocol.ClientCommand{Spawn: &protocol.SpawnCommand{Team: name, Count: spawn}}
		if err := conn.WriteJSON(cmd); err != nil {
			return fmt.Errorf("send spawn: %w", err)
		}
	}

	last := ""
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var s snapshot
		if err := json.Unmarshal(msg, &s); err != nil {
			continue
		}
		line := summarize(s)
		if line != last {
			fmt.Fprintln(out, line)
			last = line
		}
	}
}

func summarize(s snapshot) string {
	names := make([]string, 0, len(s.Teams))
	for n := range s.Teams {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		t := s.Teams[n]
		state := "down"
		if t.Connected {
			state = "up"
		}
		parts = append(parts, fmt.Sprintf("%s=%d(%s)", n, t.Flock.Len(), state))
	}
	if len(parts) == 0 {
		return "no teams"
	}
	return strings.Join(parts, " ")
}
