package main

import (
	"github.com/spf13/cobra"

	"github.com/msageha/psstudio/internal/daemon"
)

var (
	editCmd = &cobra.Command{
		Use:   "edit",
		Short: "Edit the selected entity's properties",
	}

	editShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Show the property editor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdEditShow, nil)
		},
	}

	editFieldCmd = &cobra.Command{
		Use:   "field <key> <value>",
		Short: "Set a top-level field (JSON literals keep their type)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdEditField, daemon.FieldParams{Key: args[0], Value: args[1]})
		},
	}

	editNestedCmd = &cobra.Command{
		Use:   "nested <parent> <key> <value>",
		Short: "Set a field of a nested object",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdEditNested, daemon.FieldParams{Parent: args[0], Key: args[1], Value: args[2]})
		},
	}

	editJSONCmd = &cobra.Command{
		Use:   "json <file|->",
		Short: "Replace the properties with a JSON object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			return run(cmd, daemon.CmdEditJSON, daemon.JSONTextParams{Text: text})
		},
	}

	editModeCmd = &cobra.Command{
		Use:   "mode <form|json>",
		Short: "Switch the editor between form and JSON mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdEditMode, daemon.ModeParams{Mode: args[0]})
		},
	}

	editResetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Discard unsaved edits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdEditReset, nil)
		},
	}

	editFlushCmd = &cobra.Command{
		Use:   "flush",
		Short: "Commit a pending debounced edit now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdEditFlush, nil)
		},
	}
)

func init() {
	editCmd.AddCommand(editShowCmd, editFieldCmd, editNestedCmd, editJSONCmd, editModeCmd, editResetCmd, editFlushCmd)
	rootCmd.AddCommand(editCmd)
}
