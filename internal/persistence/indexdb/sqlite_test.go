package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"boiding.ai/internal/sim/authority"
)

func openTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "index", "events.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteIndex_RecordAndQuery(t *testing.T) {
	s := openTestIndex(t)
	s.RecordTeamEvent(authority.TeamEvent{Seq: 1, UnixMS: 100, Team: "Alpha", Kind: authority.EventRegistered, Host: "10.0.0.1", Port: 8000})
	s.RecordTeamEvent(authority.TeamEvent{Seq: 2, UnixMS: 110, Team: "Beta", Kind: authority.EventRegistered, Host: "10.0.0.2", Port: 8000})
	s.RecordTeamEvent(authority.TeamEvent{Seq: 3, UnixMS: 120, Team: "Alpha", Kind: authority.EventSpawned, Count: 5})

	require.Eventually(t, func() bool { return s.Stats().Written == 3 }, 3*time.Second, 10*time.Millisecond)

	all, err := s.Events(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, uint64(3), all[0].Seq)

	alpha, err := s.Events(context.Background(), "Alpha", 10)
	require.NoError(t, err)
	require.Len(t, alpha, 2)
	require.Equal(t, authority.EventSpawned, alpha[0].Kind)
	require.Equal(t, 5, alpha[0].Count)
	require.Equal(t, "10.0.0.1", alpha[1].Host)

	one, err := s.Events(context.Background(), "", 1)
	require.NoError(t, err)
	require.Len(t, one, 1)

	none, err := s.Events(context.Background(), "Ghost", 10)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestSQLiteIndex_CloseFlushesAndStopsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.sqlite")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		s.RecordTeamEvent(authority.TeamEvent{Seq: uint64(i), Team: "Alpha", Kind: authority.EventConnected})
	}
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	s.RecordTeamEvent(authority.TeamEvent{Team: "late"})

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()
	evs, err := reopened.Events(context.Background(), "Alpha", 0)
	require.NoError(t, err)
	require.Len(t, evs, 50)
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := OpenSQLite("")
	require.Error(t, err)
}
