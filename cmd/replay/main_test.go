package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	persistlog "boiding.ai/internal/persistence/log"
	"boiding.ai/internal/sim/authority"
)

func writeJournal(t *testing.T, entries ...authority.JournalEntry) []string {
	t.Helper()
	dataDir := t.TempDir()
	j := persistlog.NewJournal(dataDir)
	for _, e := range entries {
		require.NoError(t, j.WriteEntry(e))
	}
	require.NoError(t, j.Close())
	files, err := persistlog.JournalFiles(persistlog.JournalDir(dataDir))
	require.NoError(t, err)
	return files
}

func TestReplayVerifiesCounts(t *testing.T) {
	files := writeJournal(t,
		authority.JournalEntry{Seq: 1, Kind: "register", Team: "Alpha", OK: true, Teams: 1},
		authority.JournalEntry{Seq: 2, Kind: "register", Team: "Alpha", OK: false, Reason: "NameTaken", Teams: 1},
		authority.JournalEntry{Seq: 3, Kind: "register", Team: "Beta", OK: true, Teams: 2},
		authority.JournalEntry{Seq: 4, Kind: "spawn_all", Count: 2, OK: true, Teams: 2, Agents: 4},
		authority.JournalEntry{Seq: 5, Kind: "spawn", Team: "Beta", Count: 3, OK: true, Teams: 2, Agents: 7},
		authority.JournalEntry{Seq: 6, Kind: "tick", OK: true, Teams: 2, Agents: 7},
		authority.JournalEntry{Seq: 7, Kind: "unregister", Team: "Alpha", OK: true, Teams: 1, Agents: 5},
		// Restart.
		authority.JournalEntry{Seq: 1, Kind: "register", Team: "Gamma", OK: true, Teams: 1},
	)

	res, err := replay(files)
	require.NoError(t, err)
	require.Equal(t, uint64(8), res.Entries)
	require.Equal(t, 2, res.Runs)
	require.Equal(t, 1, res.Teams)
	require.Equal(t, 0, res.Agents)
	require.Equal(t, uint64(3), res.Kinds["register"])

	var out bytes.Buffer
	report(&out, res)
	require.Contains(t, out.String(), "replay ok: entries=8 runs=2 final teams=1 agents=0")
}

func TestReplayReportsMismatch(t *testing.T) {
	files := writeJournal(t,
		authority.JournalEntry{Seq: 1, Kind: "register", Team: "Alpha", OK: true, Teams: 1},
		authority.JournalEntry{Seq: 2, Kind: "spawn", Team: "Alpha", Count: 2, OK: true, Teams: 1, Agents: 3},
	)
	_, err := replay(files)
	var mm *MismatchError
	require.True(t, errors.As(err, &mm), "got %v", err)
	require.Equal(t, uint64(2), mm.Entry.Seq)
	require.Equal(t, 2, mm.Agents)
}

func TestReplayReportsGap(t *testing.T) {
	files := writeJournal(t,
		authority.JournalEntry{Seq: 1, Kind: "tick", OK: true},
		authority.JournalEntry{Seq: 3, Kind: "tick", OK: true},
	)
	_, err := replay(files)
	require.ErrorIs(t, err, errSeqGap)
}
