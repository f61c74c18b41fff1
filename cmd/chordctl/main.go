// cmd/chordctl is the CLI entry-point built with Cobra.
//
// Usage:
//
//	chordctl lookup mykey                        --node http://localhost:8080
//	chordctl replicas mykey                       --node http://localhost:8080
//	chordctl put-blob ./payload.bin               --node http://localhost:8080
//	chordctl join 10.0.0.1 5000                   --node http://localhost:8081
//	chordctl state                                --node http://localhost:8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"chordkv/internal/client"
)

var (
	nodeAddr string
	timeout  time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "chordctl",
		Short: "CLI client for a chordkv ring node's admin API",
	}

	root.PersistentFlags().StringVarP(&nodeAddr, "node", "n",
		"http://localhost:8080", "node admin API address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(lookupCmd(), replicasCmd(), putBlobCmd(), joinCmd(), stateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── lookup ───────────────────────────────────────────────────────────────────

func lookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <key>",
		Short: "Find which node currently owns a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(nodeAddr, timeout)
			resp, err := c.Lookup(context.Background(), args[0])
			if err == client.ErrNotFound {
				fmt.Printf("key %q not found\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── replicas ─────────────────────────────────────────────────────────────────

func replicasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replicas <key>",
		Short: "List the replica set currently backing a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(nodeAddr, timeout)
			resp, err := c.Replicas(context.Background(), args[0])
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── put-blob ─────────────────────────────────────────────────────────────────

func putBlobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put-blob <file>",
		Short: "Upload a file and print the content-hash id the ring assigned it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			c := client.New(nodeAddr, timeout)
			id, err := c.PutBlob(context.Background(), data)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
}

// ─── join ─────────────────────────────────────────────────────────────────────

func joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <seed-ip> <seed-port>",
		Short: "Make the target node join the ring through a seed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid seed port %q: %w", args[1], err)
			}
			c := client.New(nodeAddr, timeout)
			if err := c.Join(context.Background(), args[0], port); err != nil {
				return err
			}
			fmt.Println("joined")
			return nil
		},
	}
}

// ─── state ────────────────────────────────────────────────────────────────────

func stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Dump the target node's routing state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(nodeAddr, timeout)
			resp, err := c.State(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
