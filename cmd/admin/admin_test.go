package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"boiding.ai/internal/persistence/indexdb"
	"boiding.ai/internal/sim/authority"
)

func TestSpawnAgentsPostsBody(t *testing.T) {
	got := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		body["path"] = r.URL.Path
		got <- body
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, spawnAgents(&out, newClient(srv.URL+"/"), "Alpha", 4))
	require.Equal(t, map[string]any{"team": "Alpha", "count": float64(4), "path": "/admin/v1/spawn"}, <-got)
	require.Equal(t, "{\"ok\":true}\n", out.String())
}

func TestGetJSONFailsOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden limit="+r.URL.Query().Get("limit"), http.StatusForbidden)
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := getJSON(&out, newClient(srv.URL), "/admin/v1/events", map[string]string{"limit": "7"})
	require.Error(t, err)
	require.Contains(t, out.String(), "forbidden limit=7")
}

func TestQueryDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "events.sqlite")
	idx, err := indexdb.OpenSQLite(path)
	require.NoError(t, err)
	idx.RecordTeamEvent(authority.TeamEvent{Seq: 1, Team: "Alpha", Kind: authority.EventRegistered, Host: "10.0.0.1", Port: 8001})
	idx.RecordTeamEvent(authority.TeamEvent{Seq: 2, Team: "Alpha", Kind: authority.EventSpawned, Count: 3})
	idx.RecordTeamEvent(authority.TeamEvent{Seq: 3, Team: "Beta", Kind: authority.EventRegistered, Host: "10.0.0.2", Port: 8002})
	require.NoError(t, idx.Close())

	db, err := sqlx.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var out bytes.Buffer
	require.NoError(t, queryDB(&out, db, "summary", "", 0))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	var first kindCount
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, kindCount{Team: "Alpha", Kind: authority.EventRegistered, Count: 1}, first)

	out.Reset()
	require.NoError(t, queryDB(&out, db, "events", "Alpha", 1))
	var ev authority.TeamEvent
	require.NoError(t, json.Unmarshal(out.Bytes(), &ev))
	require.Equal(t, uint64(2), ev.Seq)
	require.Equal(t, 3, ev.Count)

	require.Error(t, queryDB(io.Discard, db, "snapshots", "", 0))
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"state", "spawn", "events", "db"} {
		require.True(t, names[want], "missing %s", want)
	}
}
