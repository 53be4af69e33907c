package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	persistlog "boiding.ai/internal/persistence/log"
	"boiding.ai/internal/sim/authority"
)

func newJournalCmd() *cobra.Command {
	var (
		dataDir string
		kind    string
		team    string
	)
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print recorded authority messages as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dumpJournal(cmd.OutOrStdout(), persistlog.JournalDir(dataDir), kind, team)
		},
	}
	cmd.Flags().StringVar(&dataDir, "data", "./data", "runtime data directory")
	cmd.Flags().StringVar(&kind, "kind", "", "only entries of this message kind")
	cmd.Flags().StringVar(&team, "team", "", "only entries for this team")
	return cmd
}

func dumpJournal(w io.Writer, dir, kind, team string) error {
	files, err := persistlog.JournalFiles(dir)
	if err != nil {
		return fmt.Errorf("list journal: %w", err)
	}
	enc := json.NewEncoder(w)
	for _, path := range files {
		err := persistlog.ReadJournal(path, func(e authority.JournalEntry) error {
			if kind != "" && e.Kind != kind {
				return nil
			}
			if team != "" && e.Team != team {
				return nil
			}
			return enc.Encode(e)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
