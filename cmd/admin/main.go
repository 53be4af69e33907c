package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var baseURL string
	root := &cobra.Command{
		Use:          "boiding-admin",
		Short:        "Inspect and poke a running boiding server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&baseURL, "url", "http://127.0.0.1:8000", "server base url")

	state := &cobra.Command{
		Use:   "state",
		Short: "Print authority metrics and the latest snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(cmd.OutOrStdout(), newClient(baseURL), "/admin/v1/state", nil)
		},
	}

	var (
		spawnTeam string
		count     int
	)
	spawn := &cobra.Command{
		Use:   "spawn",
		Short: "Spawn agents for one team, or for every team when --team is empty",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return spawnAgents(cmd.OutOrStdout(), newClient(baseURL), spawnTeam, count)
		},
	}
	spawn.Flags().StringVar(&spawnTeam, "team", "", "team name (optional)")
	spawn.Flags().IntVar(&count, "count", 1, "agents to spawn")

	var (
		eventsTeam string
		limit      int
	)
	events := &cobra.Command{
		Use:   "events",
		Short: "List recent team lifecycle events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := map[string]string{"limit": strconv.Itoa(limit)}
			if eventsTeam != "" {
				q["team"] = eventsTeam
			}
			return getJSON(cmd.OutOrStdout(), newClient(baseURL), "/admin/v1/events", q)
		},
	}
	events.Flags().StringVar(&eventsTeam, "team", "", "team name (optional)")
	events.Flags().IntVar(&limit, "limit", 20, "result limit")

	root.AddCommand(state, spawn, events, newDBCmd())
	return root
}

func newClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(strings.TrimSpace(baseURL), "/")).
		SetTimeout(5 * time.Second)
}

func getJSON(w io.Writer, cl *resty.Client, path string, query map[string]string) error {
	resp, err := cl.R().SetQueryParams(query).Get(path)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	return printBody(w, resp)
}

func spawnAgents(w io.Writer, cl *resty.Client, team string, count int) error {
	resp, err := cl.R().
		SetBody(map[string]any{"team": team, "count": count}).
		Post("/admin/v1/spawn")
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	return printBody(w, resp)
}

func printBody(w io.Writer, resp *resty.Response) error {
	fmt.Fprintln(w, strings.TrimSpace(resp.String()))
	if resp.StatusCode()/100 != 2 {
		return fmt.Errorf("%s: %s", resp.Request.URL, resp.Status())
	}
	return nil
}
