// cmd/realityctl is the CLI entry-point built with Cobra, adapted from
// the teacher's cmd/client (kvcli) command tree to the sync protocol.
//
// Usage:
//
//	realityctl update posts abc123           --server http://localhost:8080
//	realityctl sync posts=0 comments=3       --server http://localhost:8080
//	realityctl invalidate posts              --server http://localhost:8080
//	realityctl versions --since 0            --server http://localhost:8080
//	realityctl health                        --server http://localhost:8080
//	realityctl cluster nodes                 --server http://localhost:8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"reality-mesh/internal/client"
	syncsvc "reality-mesh/internal/sync"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "realityctl",
		Short: "Operator CLI for a reality-mesh server",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "reality-mesh server address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(syncCmd(), invalidateCmd(), updateCmd(), versionsCmd(), healthCmd(), clusterCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── sync ───────────────────────────────────────────────────────────────────

func syncCmd() *cobra.Command {
	var mode string
	var hint string

	cmd := &cobra.Command{
		Use:   "sync <key=version> [key=version...]",
		Short: "Send a known-versions map and print the server's delta",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			known, err := parseKnown(args)
			if err != nil {
				return err
			}

			c := client.New(serverAddr, timeout)
			resp, err := c.Sync(context.Background(), syncsvc.SyncRequest{
				Known:    known,
				ClientID: uuid.NewString(),
				Mode:     syncsvc.Mode(mode),
				Hint:     syncsvc.Hint(hint),
			})
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "native", "native, sse-compat, or polling-compat")
	cmd.Flags().StringVar(&hint, "hint", "", "interaction, focus, idle, mutation, mount, or reconnect")
	return cmd
}

func parseKnown(args []string) (map[string]int64, error) {
	known := make(map[string]int64, len(args))
	for _, arg := range args {
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid key=version pair %q", arg)
		}
		v, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid version in %q: %w", arg, err)
		}
		known[parts[0]] = v
	}
	return known, nil
}

// ─── invalidate ─────────────────────────────────────────────────────────────

func invalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <key> [key...]",
		Short: "Request invalidation for one or more keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.Invalidate(context.Background(), syncsvc.InvalidationRequest{Keys: args})
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── update ─────────────────────────────────────────────────────────────────

func updateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <key> <hash>",
		Short: "Advance a key's version with a new content hash",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.Update(context.Background(), syncsvc.NodeUpdateRequest{Key: args[0], Hash: args[1]})
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── versions ───────────────────────────────────────────────────────────────

func versionsCmd() *cobra.Command {
	var since int64
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List nodes changed since a version",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.Versions(context.Background(), since)
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "Only return nodes with version greater than this")
	return cmd
}

// ─── health ─────────────────────────────────────────────────────────────────

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Print the server's health status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.Health(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── cluster nodes ──────────────────────────────────────────────────────────

func clusterCmd() *cobra.Command {
	cluster := &cobra.Command{
		Use:   "cluster",
		Short: "Inspect the mesh this server belongs to",
	}
	cluster.AddCommand(clusterNodesCmd())
	return cluster
}

func clusterNodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List this server's view of mesh peers (self plus gossiped peer summaries)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.Versions(context.Background(), 0)
			if err != nil {
				return err
			}
			prettyPrint(resp.Gossip)
			return nil
		},
	}
}

// ─── helpers ────────────────────────────────────────────────────────────────

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
