package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/mcp"
)

func buildMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Inspect and refresh configured tool servers",
	}
	cmd.AddCommand(buildMCPListCmd(), buildMCPRefreshCmd())
	return cmd
}

func buildMCPListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured tool servers and their connection status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCPList(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the gateway config file")
	return cmd
}

func buildMCPRefreshCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Reconnect every configured tool server and rebuild the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCPRefresh(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the gateway config file")
	return cmd
}

// loadMCPManager loads the config and builds (but does not start) an MCP
// manager from its tool-server list.
func loadMCPManager(configPath string) (*config.Config, *mcp.Manager, error) {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, mcp.NewManager(&cfg.MCP, slog.Default()), nil
}

func runMCPList(cmd *cobra.Command, configPath string) error {
	cfg, mgr, err := loadMCPManager(configPath)
	if err != nil {
		return err
	}
	if cfg.MCP.Enabled {
		if err := mgr.Start(cmd.Context()); err != nil {
			return err
		}
		defer mgr.Stop()
	}

	out := cmd.OutOrStdout()
	statuses := mgr.Status()
	if len(statuses) == 0 {
		fmt.Fprintln(out, "no tool servers configured")
		return nil
	}
	for _, s := range statuses {
		state := "disconnected"
		if s.Connected {
			state = "connected"
		}
		fmt.Fprintf(out, "%-20s %-12s tools=%d resources=%d prompts=%d\n", s.ID, state, s.Tools, s.Resources, s.Prompts)
	}
	return nil
}

func runMCPRefresh(cmd *cobra.Command, configPath string) error {
	cfg, mgr, err := loadMCPManager(configPath)
	if err != nil {
		return err
	}
	if err := mgr.Start(cmd.Context()); err != nil {
		return err
	}
	defer mgr.Stop()

	if err := mgr.Refresh(cmd.Context(), cfg.MCP.Servers); err != nil {
		return fmt.Errorf("refresh tool servers: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "tool-server catalog refreshed")
	return nil
}
