package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"agentwatch/internal/hooks"
)

func newHooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Manage the agent hooks that feed agentwatch",
		Long: `Install and manage the agent lifecycle hooks. The installer writes a small
forwarding script and registers it in the agent's settings.json for
PreToolUse, PostToolUse, PermissionRequest, Stop, SubagentStop,
UserPromptSubmit and SessionEnd. Other entries in settings.json are kept.

Examples:
  agentwatch hooks install          # Register hooks and write the script
  agentwatch hooks status           # Show which events are wired
  agentwatch hooks remove           # Remove our entries and the script`,
	}

	cmd.AddCommand(
		newHooksInstallCmd(),
		newHooksRemoveCmd(),
		newHooksStatusCmd(),
	)

	return cmd
}

func newHooksInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Register the forwarding hooks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runHooksInstall(cmd.OutOrStdout(), cfg.InstallConfig())
		},
	}
}

func runHooksInstall(w io.Writer, ic hooks.InstallConfig) error {
	changed, err := hooks.Install(ic)
	if err != nil {
		if jsonOutput {
			return json.NewEncoder(w).Encode(map[string]interface{}{
				"success": false,
				"error":   err.Error(),
			})
		}
		return err
	}

	if jsonOutput {
		return json.NewEncoder(w).Encode(map[string]interface{}{
			"success":  true,
			"changed":  changed,
			"script":   ic.ScriptPath(),
			"endpoint": ic.Endpoint,
		})
	}

	check := colorize(w, colorGreen, "✓")
	if changed {
		fmt.Fprintf(w, "%s Installed agent hooks\n", check)
	} else {
		fmt.Fprintf(w, "%s Agent hooks already installed\n", check)
	}
	fmt.Fprintf(w, "  Script:   %s\n", ic.ScriptPath())
	fmt.Fprintf(w, "  Endpoint: %s\n", ic.Endpoint)
	return nil
}

func newHooksRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove",
		Aliases: []string{"uninstall"},
		Short:   "Remove the forwarding hooks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runHooksRemove(cmd.OutOrStdout(), cfg.InstallConfig())
		},
	}
}

func runHooksRemove(w io.Writer, ic hooks.InstallConfig) error {
	removed, err := hooks.Remove(ic)
	if err != nil {
		if jsonOutput {
			return json.NewEncoder(w).Encode(map[string]interface{}{
				"success": false,
				"error":   err.Error(),
			})
		}
		return err
	}

	if jsonOutput {
		return json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"removed": removed,
		})
	}

	if removed {
		fmt.Fprintf(w, "%s Removed agent hooks\n", colorize(w, colorGreen, "✓"))
	} else {
		fmt.Fprintln(w, "No agent hooks were installed")
	}
	return nil
}

func newHooksStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the hooks are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runHooksStatus(cmd.OutOrStdout(), cfg.InstallConfig())
		},
	}
}

func runHooksStatus(w io.Writer, ic hooks.InstallConfig) error {
	st := hooks.CheckStatus(ic)

	if jsonOutput {
		return json.NewEncoder(w).Encode(st)
	}

	mark := func(ok bool) string {
		if ok {
			return colorize(w, colorGreen, "✓")
		}
		return colorize(w, colorRed, "✗")
	}
	fmt.Fprintf(w, "%s Script    %s\n", mark(st.HasScript), ic.ScriptPath())
	fmt.Fprintf(w, "%s Settings  %s\n", mark(st.HasSettings), ic.SettingsDir)
	if len(st.Missing) > 0 {
		fmt.Fprintf(w, "  Missing events: %s\n", strings.Join(st.Missing, ", "))
	}
	if !st.Configured {
		fmt.Fprintln(w, "\nRun 'agentwatch hooks install' to enable hook detection.")
	}
	return nil
}
