package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"boiding.ai/internal/brain"
	"boiding.ai/internal/clock"
	"boiding.ai/internal/config"
	"boiding.ai/internal/heartbeat"
	persistlog "boiding.ai/internal/persistence/log"
	"boiding.ai/internal/persistence/mirror"
	"boiding.ai/internal/sim/authority"
	"boiding.ai/internal/sim/mailbox"
	"boiding.ai/internal/sim/teams"
	"boiding.ai/internal/transport/observer"
	"boiding.ai/internal/transport/register"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		socket     string
		dataDir    string
		staticDir  string
	)
	cmd := &cobra.Command{
		Use:          "boiding-server",
		Short:        "Run the boids team-competition server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

			cfg, err := config.Load(afero.NewOsFs(), configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			// Explicit flags win over file and environment.
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.HTTPAddr = addr
			}
			if flags.Changed("socket") {
				cfg.SocketAddr = socket
			}
			if flags.Changed("data") {
				cfg.DataDir = dataDir
			}
			if flags.Changed("static") {
				cfg.StaticDir = staticDir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()
			return run(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "./configs/server.yaml", "path to server.yaml (optional)")
	cmd.Flags().StringVar(&addr, "addr", ":8000", "registration/admin http listen address")
	cmd.Flags().StringVar(&socket, "socket", ":3435", "observer websocket listen address")
	cmd.Flags().StringVar(&dataDir, "data", "./data", "runtime data directory")
	cmd.Flags().StringVar(&staticDir, "static", "", "directory with the web client (optional)")

	cmd.AddCommand(newJournalCmd())
	return cmd
}

// app holds every long-lived component of one server process.
type app struct {
	cfg config.Config
	log *log.Logger

	auth     *authority.Authority
	probes   *mailbox.Mailbox[[]authority.ProbeTarget]
	polls    *mailbox.Mailbox[[]authority.PollRequest]
	snaps    *mailbox.Mailbox[[]byte]
	prober   *heartbeat.Prober
	poller   *brain.Poller
	observer *observer.Server
	register *register.Server
	ticks    *clock.Source
	beats    *clock.Source

	journal *persistlog.Journal
	mirror  *mirror.Mirror
	idx     runtimeIndex
}

func newApp(cfg config.Config, logger *log.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger}

	idx, err := openRuntimeIndex(cfg.DataDir, cfg.DisableDB)
	if err != nil {
		return nil, fmt.Errorf("open index backend: %w", err)
	}
	a.idx = idx
	if !cfg.DisableJournal {
		a.journal = persistlog.NewJournal(cfg.DataDir)
		m, err := buildMirror(cfg.DataDir, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("journal mirror: %w", err)
		}
		if m != nil {
			a.mirror = m
			a.journal.OnSegmentClosed(m.Enqueue)
		}
	}

	var applier authority.IntentApplier = authority.LogIntent{}
	if cfg.Brain.ApplyIntent {
		applier = authority.SteerIntent{}
	}

	inbox := mailbox.New[authority.Message](cfg.MailboxSize)
	a.probes = mailbox.New[[]authority.ProbeTarget](4)
	a.polls = mailbox.New[[]authority.PollRequest](4)
	a.snaps = mailbox.New[[]byte](64)

	acfg := authority.Config{
		Inbox: inbox,
		Outbox: authority.Outbox{
			Prober:      a.probes,
			Poller:      a.polls,
			Broadcaster: a.snaps,
		},
		EmitTimeout: cfg.EmitTimeout(),
		Registry:    teams.NewRegistry(teams.WithMaxSpeed(cfg.Spawn.MaxSpeed)),
		Applier:     applier,
		Logger:      logger,
	}
	// Avoid typed-nil interfaces when persistence is off.
	if a.journal != nil {
		acfg.Journal = a.journal
	}
	if a.idx != nil {
		acfg.Events = a.idx
	}
	a.auth = authority.New(acfg)

	a.prober = heartbeat.NewProber(a.probes, inbox, heartbeat.Config{
		Timeout:     cfg.ProbeTimeout(),
		SendTimeout: cfg.EmitTimeout(),
		Concurrency: cfg.PollConcurrency,
		Logger:      logger,
	})
	a.poller = brain.NewPoller(a.polls, inbox, brain.Config{
		Timeout:     cfg.PollTimeout(),
		SendTimeout: cfg.EmitTimeout(),
		Concurrency: cfg.PollConcurrency,
		Logger:      logger,
	})
	a.observer = observer.NewServer(a.snaps, inbox, observer.Config{
		SpawnCount:   cfg.Spawn.CommandCount,
		CommandRate:  cfg.Spawn.CommandRate,
		CommandBurst: cfg.Spawn.CommandBurst,
		SendTimeout:  cfg.EmitTimeout(),
		Logger:       logger,
	})
	a.register = register.NewServer(inbox, cfg.ReplyTimeout(), logger)
	a.ticks = clock.Ticks(inbox, cfg.Tick(), logger)
	a.beats = clock.Heartbeats(inbox, cfg.HeartbeatInterval(), logger)
	return a, nil
}

func (a *app) Close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Printf("journal close: %v", err)
		}
	}
	// After the journal, so the final segment is queued.
	a.mirror.Close()
	if a.idx != nil {
		if err := a.idx.Close(); err != nil {
			a.log.Printf("index close: %v", err)
		}
	}
}

func run(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	apiSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	obsMux := http.NewServeMux()
	obsMux.HandleFunc("/", a.observer.WSHandler())
	obsSrv := &http.Server{
		Addr:              cfg.SocketAddr,
		Handler:           obsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.auth.Run(gctx) })
	g.Go(func() error { return a.prober.Run(gctx) })
	g.Go(func() error { return a.poller.Run(gctx) })
	g.Go(func() error { return a.observer.Run(gctx) })
	g.Go(func() error { return a.ticks.Run(gctx) })
	g.Go(func() error { return a.beats.Run(gctx) })
	g.Go(func() error { return serve(apiSrv, "http", logger) })
	g.Go(func() error { return serve(obsSrv, "observer", logger) })
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = apiSrv.Shutdown(ctx2)
		_ = obsSrv.Shutdown(ctx2)
		return nil
	})

	logger.Printf("tick=%s heartbeat=%s apply_intent=%v", cfg.Tick(), cfg.HeartbeatInterval(), cfg.Brain.ApplyIntent)
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Printf("stopped")
	return err
}

func serve(srv *http.Server, name string, logger *log.Logger) error {
	logger.Printf("%s listening on %s", name, srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(name string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
