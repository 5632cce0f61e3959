package main

import (
	"github.com/spf13/cobra"

	"github.com/msageha/psstudio/internal/daemon"
)

var (
	configResetAll bool
	configConfirm  bool
)

var (
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect and override the solver configuration",
	}

	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration and local overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdConfigShow, nil)
		},
	}

	configEditCmd = &cobra.Command{
		Use:   "edit <key>",
		Short: "Put a key into edit mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdConfigEdit, daemon.ConfigKeyParams{Key: args[0]})
		},
	}

	configSetCmd = &cobra.Command{
		Use:   "set <key> <json-value>",
		Short: "Override a key with a JSON value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdConfigSet, daemon.ConfigKeyParams{Key: args[0], Value: args[1]})
		},
	}

	configCancelCmd = &cobra.Command{
		Use:   "cancel",
		Short: "Leave edit mode without saving",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdConfigCancel, nil)
		},
	}

	configResetCmd = &cobra.Command{
		Use:   "reset [key]",
		Short: "Drop a local override, or all of them with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := daemon.ConfigKeyParams{All: configResetAll}
			if len(args) == 1 {
				p.Key = args[0]
			}
			return run(cmd, daemon.CmdConfigReset, p)
		},
	}

	configClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete every local override",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdConfigClear, daemon.ConfirmParams{Confirm: configConfirm})
		},
	}

	configRefreshCmd = &cobra.Command{
		Use:   "refresh",
		Short: "Fetch the server defaults again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdConfigRefresh, nil)
		},
	}

	schemaCmd = &cobra.Command{
		Use:   "schema",
		Short: "Inspect and override entity templates",
	}

	schemaShowCmd = &cobra.Command{
		Use:   "show [kind]",
		Short: "Show one template, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p daemon.SchemaParams
			if len(args) == 1 {
				p.Kind = args[0]
			}
			return run(cmd, daemon.CmdSchemaShow, p)
		},
	}

	schemaSetCmd = &cobra.Command{
		Use:   "set <kind> <file|->",
		Short: "Replace a template for this session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpl, err := readJSONObject(args[1], cmd.InOrStdin())
			if err != nil {
				return err
			}
			return run(cmd, daemon.CmdSchemaSet, daemon.SchemaParams{Kind: args[0], Template: tmpl})
		},
	}

	schemaResetCmd = &cobra.Command{
		Use:   "reset <kind>",
		Short: "Restore the built-in template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdSchemaReset, daemon.SchemaParams{Kind: args[0]})
		},
	}

	schemaRefreshCmd = &cobra.Command{
		Use:   "refresh",
		Short: "Fetch every template from the server again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdSchemaRefresh, nil)
		},
	}
)

func init() {
	configResetCmd.Flags().BoolVar(&configResetAll, "all", false, "reset every key")
	configClearCmd.Flags().BoolVarP(&configConfirm, "yes", "y", false, "confirm deleting every override")

	configCmd.AddCommand(configShowCmd, configEditCmd, configSetCmd, configCancelCmd,
		configResetCmd, configClearCmd, configRefreshCmd)
	schemaCmd.AddCommand(schemaShowCmd, schemaSetCmd, schemaResetCmd, schemaRefreshCmd)
	rootCmd.AddCommand(configCmd, schemaCmd)
}
