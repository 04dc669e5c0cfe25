package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dreamware/mapsync/internal/cluster"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

type statusFlags struct {
	url   string
	reset bool
}

func newStatusCmd() *cobra.Command {
	var f statusFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connected agents and alignment progress",
		Long: `Query a running coordinator's admin API and print its clients, scenes
and the alignment state of every scene pair.

Examples:
  # Local coordinator
  mapsync-coordinator status

  # Remote coordinator, clearing the scheduler's failure penalties first
  mapsync-coordinator status --url http://10.0.0.5:8080 --reset-penalties`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			return runStatus(ctx, cmd.OutOrStdout(), f)
		},
	}
	cmd.Flags().StringVar(&f.url, "url", getenv("MAPSYNC_ADMIN_URL", "http://127.0.0.1:8080"), "Coordinator admin URL")
	cmd.Flags().BoolVar(&f.reset, "reset-penalties", false, "Clear scheduler penalties before reporting")
	return cmd
}

func runStatus(ctx context.Context, w io.Writer, f statusFlags) error {
	base := strings.TrimRight(f.url, "/")

	var health cluster.Health
	if f.reset {
		if err := cluster.PostJSON(ctx, base+"/scheduler/reset", cluster.ResetRequest{Penalties: true}, &health); err != nil {
			return fmt.Errorf("reset penalties: %w", err)
		}
		green.Fprintln(w, "✓ Scheduler penalties cleared")
	} else if err := cluster.GetJSON(ctx, base+"/health", &health); err != nil {
		return fmt.Errorf("coordinator at %s unreachable: %w", base, err)
	}

	var clients []cluster.ClientStatus
	if err := cluster.GetJSON(ctx, base+"/clients", &clients); err != nil {
		return err
	}
	var pairs []cluster.PairStatus
	if err := cluster.GetJSON(ctx, base+"/pairs", &pairs); err != nil {
		return err
	}

	printHealth(w, health)
	printClients(w, clients)
	printPairs(w, pairs)
	return nil
}

func printHealth(w io.Writer, h cluster.Health) {
	status := green
	if h.Status != "ok" {
		status = red
	}
	cyan.Fprint(w, "Coordinator: ")
	status.Fprintln(w, h.Status)
	fmt.Fprintf(w, "  clients %d, scenes %d, stored samples %d\n", h.Clients, h.Scenes, h.Stored)
	s := h.Scheduler
	fmt.Fprintf(w, "  scheduler: %d attempts (%d accepted, %d rejected), %d idle, %d abandoned\n",
		s.Attempts, s.Accepted, s.Rejected, s.Idle, s.Abandoned)
}

func printClients(w io.Writer, clients []cluster.ClientStatus) {
	cyan.Fprintf(w, "\nClients (%d)\n", len(clients))
	for _, c := range clients {
		line := fmt.Sprintf("  %-8s %-10s %-21s", c.Scene, c.State, c.Remote)
		switch {
		case c.Error != "":
			red.Fprintf(w, "%s %s\n", line, c.Error)
		case c.Healthy:
			green.Fprintln(w, line)
		default:
			yellow.Fprintln(w, line)
		}
	}
}

func printPairs(w io.Writer, pairs []cluster.PairStatus) {
	cyan.Fprintf(w, "\nPairs (%d)\n", len(pairs))
	for _, p := range pairs {
		line := fmt.Sprintf("  %s -> %s  largest %d of %d samples, penalty %.1f",
			p.I, p.J, p.Largest, p.Samples, p.Penalty)
		if p.Solved {
			green.Fprintln(w, line+"  solved")
		} else {
			yellow.Fprintln(w, line)
		}
	}
}
