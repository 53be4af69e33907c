package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	persistlog "boiding.ai/internal/persistence/log"
	"boiding.ai/internal/sim/authority"
	"boiding.ai/internal/sim/teams"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		dataDir string
		dir     string
	)
	cmd := &cobra.Command{
		Use:          "boiding-replay",
		Short:        "Replay the authority journal and verify team and agent counts",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = persistlog.JournalDir(dataDir)
			}
			files, err := persistlog.JournalFiles(dir)
			if err != nil {
				return fmt.Errorf("list journal: %w", err)
			}
			if len(files) == 0 {
				return fmt.Errorf("no journal files found in %s", dir)
			}
			res, err := replay(files)
			if err != nil {
				return err
			}
			report(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&dataDir, "data", "./data", "runtime data directory")
	cmd.Flags().StringVar(&dir, "journal", "", "journal directory (defaults to <data>/journal)")
	return cmd
}

type result struct {
	Entries uint64
	Runs    int
	Teams   int
	Agents  int
	Kinds   map[string]uint64
}

// MismatchError reports the first entry whose recorded counts disagree with
// the replayed registry.
type MismatchError struct {
	File   string
	Entry  authority.JournalEntry
	Teams  int
	Agents int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s seq=%d kind=%s: journal teams=%d agents=%d, replay teams=%d agents=%d",
		e.File, e.Entry.Seq, e.Entry.Kind, e.Entry.Teams, e.Entry.Agents, e.Teams, e.Agents)
}

var errSeqGap = errors.New("sequence gap")

// replay feeds journal entries into a fresh registry. Sequence numbers
// restart at 1 with every server run, which also resets the registry since
// nothing survives a restart.
func replay(files []string) (result, error) {
	res := result{Kinds: map[string]uint64{}}
	var (
		reg  *teams.Registry
		last uint64
	)
	for _, path := range files {
		file := filepath.Base(path)
		err := persistlog.ReadJournal(path, func(e authority.JournalEntry) error {
			switch {
			case e.Seq == 1 || reg == nil:
				reg = teams.NewRegistry()
				res.Runs++
			case e.Seq != last+1:
				return fmt.Errorf("%s: %w: seq=%d after %d", file, errSeqGap, e.Seq, last)
			}
			last = e.Seq
			res.Entries++
			res.Kinds[e.Kind]++

			apply(reg, e)
			if reg.Len() != e.Teams || reg.Agents() != e.Agents {
				return &MismatchError{File: file, Entry: e, Teams: reg.Len(), Agents: reg.Agents()}
			}
			return nil
		})
		if err != nil {
			return res, err
		}
	}
	if reg != nil {
		res.Teams, res.Agents = reg.Len(), reg.Agents()
	}
	return res, nil
}

func apply(reg *teams.Registry, e authority.JournalEntry) {
	if !e.OK {
		return
	}
	switch e.Kind {
	case authority.Kind(authority.Register{}):
		// Addresses are not journaled; the team name keeps them unique.
		_ = reg.Register(e.Team, e.Team, 1)
	case authority.Kind(authority.Unregister{}):
		_ = reg.Unregister(e.Team)
	case authority.Kind(authority.SpawnAll{}):
		reg.Spawn(e.Count)
	case authority.Kind(authority.Spawn{}):
		reg.SpawnFor(e.Team, e.Count)
	}
}

func report(w io.Writer, res result) {
	fmt.Fprintf(w, "replay ok: entries=%d runs=%d final teams=%d agents=%d\n", res.Entries, res.Runs, res.Teams, res.Agents)
	for _, k := range []string{"register", "unregister", "heartbeat_check", "heartbeat_status", "tick", "spawn_all", "spawn", "brain_update"} {
		if n := res.Kinds[k]; n > 0 {
			fmt.Fprintf(w, "  %-16s %d\n", k, n)
		}
	}
}
