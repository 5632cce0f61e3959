package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/msageha/psstudio/internal/daemon"
)

// solveTimeout bounds a solve request. Solves have no server-side limit, so the client
// waits much longer than for ordinary commands.
const solveTimeout = 24 * time.Hour

var (
	solveCmd = &cobra.Command{
		Use:   "solve",
		Short: "Submit the problem statement to the solver and wait for the solution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var res daemon.SolveResult
			if err := callWithTimeout(solveTimeout, daemon.CmdSolve, nil, &res); err != nil {
				return err
			}
			if jsonOutput {
				return render(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "solved request=%s logs=%d\n", res.RequestID, res.LogCount)
			return nil
		},
	}

	solveCancelCmd = &cobra.Command{
		Use:   "cancel",
		Short: "Abandon the solve in flight",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdSolveCancel, nil)
		},
	}

	solutionCmd = &cobra.Command{
		Use:   "solution",
		Short: "Show the last solution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdSolution, nil)
		},
	}

	solveLogsCmd = &cobra.Command{
		Use:   "logs",
		Short: "Show the solver log lines of the last solve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdSolveLogs, nil)
		},
	}

	clearSolutionCmd = &cobra.Command{
		Use:   "clear",
		Short: "Discard the last solution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdClearSolution, nil)
		},
	}
)

func init() {
	solveCmd.AddCommand(solveCancelCmd, solveLogsCmd)
	solutionCmd.AddCommand(clearSolutionCmd)
	rootCmd.AddCommand(solveCmd, solutionCmd)
}
