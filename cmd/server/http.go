package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"boiding.ai/internal/protocol"
	"boiding.ai/internal/sim/authority"
)

const (
	maxAdminSpawn = 1000
	maxAdminBody  = 4 * 1024
)

func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/register", a.register.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", a.handleMetrics)

	if envBool("BOIDING_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", a.handleState)
		mux.HandleFunc("/admin/v1/spawn", a.handleSpawn)
		mux.HandleFunc("/admin/v1/events", a.handleEvents)
	} else {
		a.log.Printf("admin endpoints disabled (BOIDING_ENABLE_ADMIN_HTTP=false)")
	}

	if a.cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(a.cfg.StaticDir)))
	}
	return mux
}

func (a *app) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	m := a.auth.Metrics()

	fmt.Fprintf(rw, "# HELP boiding_messages_total Messages processed by the authority.\n")
	fmt.Fprintf(rw, "# TYPE boiding_messages_total counter\n")
	fmt.Fprintf(rw, "boiding_messages_total %d\n", m.Processed)
	fmt.Fprintf(rw, "boiding_ticks_total %d\n", m.Ticks)

	fmt.Fprintf(rw, "# HELP boiding_teams Registered teams.\n")
	fmt.Fprintf(rw, "# TYPE boiding_teams gauge\n")
	fmt.Fprintf(rw, "boiding_teams %d\n", m.Teams)
	fmt.Fprintf(rw, "boiding_teams_connected %d\n", m.Connected)
	fmt.Fprintf(rw, "boiding_agents %d\n", m.Agents)

	fmt.Fprintf(rw, "# HELP boiding_queue_depth Mailbox backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE boiding_queue_depth gauge\n")
	fmt.Fprintf(rw, "boiding_queue_depth{queue=%q} %d\n", "inbox", m.InboxDepth)
	fmt.Fprintf(rw, "boiding_queue_depth{queue=%q} %d\n", "prober", a.probes.Len())
	fmt.Fprintf(rw, "boiding_queue_depth{queue=%q} %d\n", "poller", a.polls.Len())
	fmt.Fprintf(rw, "boiding_queue_depth{queue=%q} %d\n", "broadcaster", a.snaps.Len())

	fmt.Fprintf(rw, "# HELP boiding_emit_failures_total Failed sends from the authority to a collaborator.\n")
	fmt.Fprintf(rw, "# TYPE boiding_emit_failures_total counter\n")
	fmt.Fprintf(rw, "boiding_emit_failures_total{target=%q} %d\n", "prober", m.EmitFailures.Prober)
	fmt.Fprintf(rw, "boiding_emit_failures_total{target=%q} %d\n", "poller", m.EmitFailures.Poller)
	fmt.Fprintf(rw, "boiding_emit_failures_total{target=%q} %d\n", "broadcaster", m.EmitFailures.Broadcaster)

	fmt.Fprintf(rw, "boiding_brain_updates_total %d\n", m.BrainUpdates)
	fmt.Fprintf(rw, "boiding_intents_applied_total %d\n", m.IntentsApplied)
	fmt.Fprintf(rw, "boiding_clock_dropped_total{clock=%q} %d\n", "tick", a.ticks.Dropped())
	fmt.Fprintf(rw, "boiding_clock_dropped_total{clock=%q} %d\n", "heartbeat", a.beats.Dropped())

	ps := a.prober.Stats()
	fmt.Fprintf(rw, "boiding_probes_total %d\n", ps.Probes)
	fmt.Fprintf(rw, "boiding_probes_down_total %d\n", ps.Down)

	bs := a.poller.Stats()
	fmt.Fprintf(rw, "boiding_brain_polls_total %d\n", bs.Polls)
	fmt.Fprintf(rw, "boiding_brain_poll_failures_total %d\n", bs.Failures)
	fmt.Fprintf(rw, "boiding_brain_batches_coalesced_total %d\n", bs.Coalesced)

	obs := a.observer.Stats()
	fmt.Fprintf(rw, "boiding_observers %d\n", obs.Subscribers)
	fmt.Fprintf(rw, "boiding_observer_dropped_frames_total %d\n", obs.DroppedFrames)
	fmt.Fprintf(rw, "boiding_observer_commands_total{result=%q} %d\n", "accepted", obs.Commands)
	fmt.Fprintf(rw, "boiding_observer_commands_total{result=%q} %d\n", "rejected", obs.RejectedCommands)
	fmt.Fprintf(rw, "boiding_observer_commands_total{result=%q} %d\n", "limited", obs.LimitedCommands)

	if a.journal != nil {
		fmt.Fprintf(rw, "boiding_journal_entries_total{result=%q} %d\n", "written", a.journal.Written())
		fmt.Fprintf(rw, "boiding_journal_entries_total{result=%q} %d\n", "failed", a.journal.Failed())
	}
	if a.mirror != nil {
		ms := a.mirror.Stats()
		fmt.Fprintf(rw, "boiding_mirror_queue_depth %d\n", ms.QueueDepth)
		fmt.Fprintf(rw, "boiding_mirror_uploads_total{result=%q} %d\n", "ok", ms.Uploaded)
		fmt.Fprintf(rw, "boiding_mirror_uploads_total{result=%q} %d\n", "failed", ms.Failed)
		fmt.Fprintf(rw, "boiding_mirror_uploads_total{result=%q} %d\n", "dropped", ms.Dropped)
	}
	if a.idx != nil {
		st := a.idx.Stats()
		fmt.Fprintf(rw, "boiding_index_queue_depth %d\n", st.QueueDepth)
		fmt.Fprintf(rw, "boiding_index_events_total{result=%q} %d\n", "written", st.Written)
		fmt.Fprintf(rw, "boiding_index_events_total{result=%q} %d\n", "dropped", st.Dropped)
		fmt.Fprintf(rw, "boiding_index_events_total{result=%q} %d\n", "failed", st.WriteFailures)
	}
}

func (a *app) handleState(rw http.ResponseWriter, r *http.Request) {
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	resp := struct {
		Metrics  authority.Metrics `json:"metrics"`
		Snapshot json.RawMessage   `json:"snapshot,omitempty"`
	}{
		Metrics:  a.auth.Metrics(),
		Snapshot: a.observer.Latest(),
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(resp)
}

type adminSpawnRequest struct {
	Team  string `json:"team,omitempty"`
	Count int    `json:"count"`
}

func (a *app) handleSpawn(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAdminBody))
	if err != nil {
		writeJSONError(rw, http.StatusBadRequest, protocol.ReasonBadRequest, err.Error())
		return
	}
	var req adminSpawnRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(rw, http.StatusBadRequest, protocol.ReasonBadRequest, err.Error())
		return
	}
	if req.Count < 1 || req.Count > maxAdminSpawn {
		writeJSONError(rw, http.StatusBadRequest, protocol.ReasonBadRequest,
			fmt.Sprintf("count must be in 1..%d", maxAdminSpawn))
		return
	}

	var msg authority.Message = authority.SpawnAll{Count: req.Count}
	if team := strings.TrimSpace(req.Team); team != "" {
		msg = authority.Spawn{Name: team, Count: req.Count}
	}
	if err := a.auth.Inbox().Send(msg, a.cfg.ReplyTimeout()); err != nil {
		writeJSONError(rw, http.StatusServiceUnavailable, protocol.ReasonUnavailable, err.Error())
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "kind": authority.Kind(msg), "count": req.Count})
}

func (a *app) handleEvents(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	if a.idx == nil {
		writeJSONError(rw, http.StatusServiceUnavailable, protocol.ReasonUnavailable, "index disabled")
		return
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSONError(rw, http.StatusBadRequest, protocol.ReasonBadRequest, "bad limit")
			return
		}
		limit = n
	}
	events, err := a.idx.Events(r.Context(), r.URL.Query().Get("team"), limit)
	if err != nil {
		writeJSONError(rw, http.StatusServiceUnavailable, protocol.ReasonUnavailable, err.Error())
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(map[string]any{"events": events})
}

func writeJSONError(rw http.ResponseWriter, status int, reason, detail string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(protocol.ErrorResponse{Reason: reason, Detail: detail})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
