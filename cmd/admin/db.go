package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"boiding.ai/internal/sim/authority"
)

type kindCount struct {
	Team  string `json:"team" db:"team"`
	Kind  string `json:"kind" db:"kind"`
	Count int    `json:"count" db:"n"`
}

func newDBCmd() *cobra.Command {
	var (
		dataDir string
		dbPath  string
		team    string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "db [summary|events]",
		Short: "Query the team event index directly",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := "summary"
			if len(args) > 0 {
				q = strings.TrimSpace(args[0])
			}
			path := strings.TrimSpace(dbPath)
			if path == "" {
				path = filepath.Join(dataDir, "index", "events.sqlite")
			}
			db, err := sqlx.Open("sqlite", path)
			if err != nil {
				return fmt.Errorf("open: %w", err)
			}
			defer db.Close()
			return queryDB(cmd.OutOrStdout(), db, q, team, limit)
		},
	}
	cmd.Flags().StringVar(&dataDir, "data", "./data", "runtime data directory")
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite db path (optional)")
	cmd.Flags().StringVar(&team, "team", "", "team filter")
	cmd.Flags().IntVar(&limit, "limit", 20, "result limit")
	return cmd
}

func queryDB(w io.Writer, db *sqlx.DB, q, team string, limit int) error {
	if limit <= 0 {
		limit = 20
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	switch q {
	case "summary":
		var rows []kindCount
		err := db.Select(&rows, `SELECT team, kind, COUNT(*) AS n FROM team_events
			WHERE (? = '' OR team = ?) GROUP BY team, kind ORDER BY team, kind`, team, team)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		for _, r := range rows {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
	case "events":
		var rows []authority.TeamEvent
		err := db.Select(&rows, `SELECT seq, unix_ms, team, kind, host, port, count FROM team_events
			WHERE (? = '' OR team = ?) ORDER BY id DESC LIMIT ?`, team, team, limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		for _, r := range rows {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown query %q (want summary or events)", q)
	}
	return nil
}
