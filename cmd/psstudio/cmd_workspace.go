package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/msageha/psstudio/internal/daemon"
	"github.com/msageha/psstudio/internal/model"
	"github.com/msageha/psstudio/internal/setup"
	"github.com/msageha/psstudio/internal/status"
)

var setupName string

var (
	setupCmd = &cobra.Command{
		Use:   "setup <project_dir>",
		Short: "Initialize a .psstudio/ workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := setup.Run(args[0], setupName)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s in %s\n", setup.DirName, filepath.Dir(layout.Base))
			return nil
		},
	}

	daemonCmd = &cobra.Command{
		Use:   "daemon",
		Short: "Run the workspace daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := workspace()
			if err != nil {
				return err
			}
			cfg, err := model.LoadConfig(layout.Config())
			if err != nil {
				return err
			}
			d, err := daemon.New(layout, cfg)
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			return d.Run()
		},
	}

	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Ask the daemon to shut down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(daemon.CmdShutdown, nil, nil)
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show daemon and workspace status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := workspace()
			if err != nil {
				return err
			}
			return status.Run(layout, cmd.OutOrStdout(), jsonOutput)
		},
	}

	reloadCmd = &cobra.Command{
		Use:   "reload",
		Short: "Re-read the workspace file after an external edit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdReload, nil)
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "psstudio %s\n", version)
		},
	}
)

func init() {
	setupCmd.Flags().StringVar(&setupName, "name", "", "project name (defaults to the directory name)")
	rootCmd.AddCommand(setupCmd, daemonCmd, stopCmd, statusCmd, reloadCmd, versionCmd)
}
