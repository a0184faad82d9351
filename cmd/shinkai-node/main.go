// Command shinkai-node is the composition-root CLI: it loads config,
// opens the configured store, wires a shinkai.Node, and exposes
// start/health subcommands. The full HTTP/WebSocket transport is out
// of scope — this binary is for running and inspecting the core
// locally.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shinkai-run/shinkai-node/config"
	"github.com/shinkai-run/shinkai-node/health"
	"github.com/shinkai-run/shinkai-node/identity"
	_ "github.com/shinkai-run/shinkai-node/internal/cryptoinit"
	"github.com/shinkai-run/shinkai-node/shinkai"
)

var (
	configDir string
	nodeName  string
)

var rootCmd = &cobra.Command{
	Use:   "shinkai-node",
	Short: "Shinkai node composition root",
	Long: `shinkai-node wires the core message-transport, identity,
vector-filesystem, prompt, job, and offerings components into a single
running node. CLI/HTTP surface is intentionally minimal; it exists to
start the node and check its health, not to serve the full API.`,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "config", "directory containing environment config files")
	rootCmd.PersistentFlags().StringVar(&nodeName, "name", "localhost.shinkai", "this node's identity name")
	rootCmd.AddCommand(startCmd, healthCmd)
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a Shinkai node in this process",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		_ = config.LoadDotEnv(".env")
		cfg, err := config.Load(config.LoaderOptions{ConfigDir: configDir})
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		db, err := shinkai.OpenStore(ctx, cfg, nil)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()

		self, err := identity.ParseName(nodeName)
		if err != nil {
			return fmt.Errorf("parse node name: %w", err)
		}

		node, err := shinkai.New(ctx, cfg, self, db, shinkai.Deps{Workers: 4})
		if err != nil {
			return fmt.Errorf("build node: %w", err)
		}
		defer node.Close()

		fmt.Printf("shinkai node %q started\n", self.String())
		<-ctx.Done()
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print this node's health status as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = config.LoadDotEnv(".env")
		cfg, err := config.Load(config.LoaderOptions{ConfigDir: configDir})
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		var rpcURL string
		if cfg.Blockchain != nil {
			rpcURL = cfg.Blockchain.NetworkRPC
		}
		status := health.NewChecker(rpcURL).CheckAll()
		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal health status: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

func main() {
	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
