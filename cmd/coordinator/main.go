// Package main implements mapsync-coordinator, the process mapping agents
// stream to.
//
// Commands:
//   - serve:  run the coordinator (agent listener, scheduler, admin API)
//   - status: print a running coordinator's clients and pair alignment
//
// Configuration precedence, lowest first:
//  1. Built-in defaults
//  2. YAML file (--config or MAPSYNC_CONFIG)
//  3. MAPSYNC_LISTEN, MAPSYNC_ADMIN, MAPSYNC_REDIS
//  4. Flags given on the command line
//
// Example usage:
//
//	# Start with Redis persistence
//	mapsync-coordinator serve --listen :7851 --admin :8080 --redis localhost:6379
//
//	# Inspect it
//	mapsync-coordinator status --url http://localhost:8080
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dreamware/mapsync/internal/config"
	"github.com/dreamware/mapsync/internal/coordinator"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mapsync-coordinator",
		Short: "Coordinator for collaborative multi-agent mapping",
		Long: `mapsync-coordinator accepts RGB-D frame streams from mapping agents and
estimates the rigid transforms relating the agents' coordinate frames by
repeatedly relocalising each agent's frames in the other agents' maps.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.AddCommand(newServeCmd(), newStatusCmd())
	return root
}

type serveFlags struct {
	config string
	listen string
	admin  string
	redis  string
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator until interrupted",
		Long: `Run the coordinator until SIGINT or SIGTERM.

Settings come from the YAML file given with --config, then from the
MAPSYNC_LISTEN, MAPSYNC_ADMIN and MAPSYNC_REDIS environment variables, then
from the flags below.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&f.config, "config", "c", getenv("MAPSYNC_CONFIG", ""), "Path to mapsync.yml")
	cmd.Flags().StringVar(&f.listen, "listen", "", "Agent stream address (overrides config)")
	cmd.Flags().StringVar(&f.admin, "admin", "", "Admin HTTP address (overrides config)")
	cmd.Flags().StringVar(&f.redis, "redis", "", "Redis address for sample persistence (overrides config)")
	return cmd
}

// loadConfig applies explicitly set flags over the file and environment.
func loadConfig(cmd *cobra.Command, f serveFlags) (*config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = f.listen
	}
	if flags.Changed("admin") {
		cfg.Admin = f.admin
	}
	if flags.Changed("redis") {
		cfg.Redis.Addr = f.redis
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// serve runs a coordinator until ctx is done.
func serve(ctx context.Context, cfg *config.Config) error {
	c, err := coordinator.New(cfg, coordinator.Options{})
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		c.Stop()
		return err
	}
	log.Printf("coordinator listening for agents on %s", c.AgentAddr())

	<-ctx.Done()
	c.Stop()
	log.Println("coordinator stopped")
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
