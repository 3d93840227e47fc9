// Command gateway runs the chat orchestrator + tool aggregator gateway:
// the HTTP/SSE client surface, the embedded session store, and the MCP
// tool-server pool, plus operational subcommands for migrations and
// tool-server inspection.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build-time version metadata, set via:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
)

const defaultConfigPath = "gateway.yaml"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gateway",
		Short:         "Chat orchestrator and tool aggregator gateway",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildMCPCmd(),
	)
	return cmd
}

// resolveConfigPath honors an explicit --config flag, then GATEWAY_CONFIG,
// then the default path in the working directory.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("GATEWAY_CONFIG")); env != "" {
		return env
	}
	return defaultConfigPath
}
