package main

import (
	"github.com/spf13/cobra"

	"github.com/msageha/psstudio/internal/daemon"
	"github.com/msageha/psstudio/internal/model"
	"github.com/msageha/psstudio/internal/store"
	"github.com/msageha/psstudio/internal/studio"
)

var (
	entitiesType    string
	entitiesStation string

	selectNone    bool
	selectStation string

	objectX, objectY int
	objectProps      []string

	taskInput       studio.TaskInput
	assignmentInput store.AssignmentInput
	assignStart     int64
	assignEnd       int64

	removeStation string
	moveStation   string
	confirmClear  bool
)

var (
	entitiesCmd = &cobra.Command{
		Use:   "entities",
		Short: "List entities in the problem statement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdEntities, daemon.EntitiesParams{Type: entitiesType, StationID: entitiesStation})
		},
	}

	selectCmd = &cobra.Command{
		Use:   "select [<type> <id>]",
		Short: "Select an entity for editing, or clear the selection with --none",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := daemon.SelectParams{None: selectNone}
			if !selectNone {
				if len(args) != 2 {
					return cmd.Usage()
				}
				p.KeyParams = daemon.KeyParams{Type: args[0], ID: args[1], StationID: selectStation}
			}
			return run(cmd, daemon.CmdSelect, p)
		},
	}

	addObjectCmd = &cobra.Command{
		Use:   "add-object <bot|pps|msu|relay>",
		Short: "Place a physical object on the grid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := parseAssignments(objectProps)
			if err != nil {
				return err
			}
			p := daemon.AddObjectParams{Type: args[0], Properties: props}
			if cmd.Flags().Changed("x") {
				p.X = &objectX
			}
			if cmd.Flags().Changed("y") {
				p.Y = &objectY
			}
			return run(cmd, daemon.CmdAddObject, p)
		},
	}

	addTaskCmd = &cobra.Command{
		Use:   "add-task",
		Short: "Add a storable-to-conveyor task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdAddTask, taskInput)
		},
	}

	addAssignmentCmd = &cobra.Command{
		Use:   "add-assignment",
		Short: "Schedule an assignment on a station",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := assignmentInput
			if cmd.Flags().Changed("start") {
				in.StartTime = &assignStart
			}
			if cmd.Flags().Changed("end") {
				in.EndTime = &assignEnd
			}
			return run(cmd, daemon.CmdAddAssignment, in)
		},
	}

	removeAssignmentCmd = &cobra.Command{
		Use:   "remove-assignment <pps_id> <assignment_id>",
		Short: "Remove an assignment from a station's schedule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdRemoveAssignment, daemon.RemoveAssignmentParams{StationID: args[0], AssignmentID: args[1]})
		},
	}

	removeCmd = &cobra.Command{
		Use:   "remove <type> <id>",
		Short: "Remove an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdRemoveEntity, daemon.KeyParams{Type: args[0], ID: args[1], StationID: removeStation})
		},
	}

	moveCmd = &cobra.Command{
		Use:   "move <type> <id> <x> <y>",
		Short: "Move an object to another cell",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := parseCoord("x", args[2])
			if err != nil {
				return err
			}
			y, err := parseCoord("y", args[3])
			if err != nil {
				return err
			}
			return run(cmd, daemon.CmdMoveEntity, daemon.MoveParams{
				KeyParams: daemon.KeyParams{Type: args[0], ID: args[1], StationID: moveStation},
				X:         x,
				Y:         y,
			})
		},
	}

	gridCmd = &cobra.Command{
		Use:   "grid <width> <height>",
		Short: "Resize the warehouse grid",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := parseCoord("width", args[0])
			if err != nil {
				return err
			}
			h, err := parseCoord("height", args[1])
			if err != nil {
				return err
			}
			return run(cmd, daemon.CmdGridSize, daemon.GridSizeParams{Width: w, Height: h})
		},
	}

	statementCmd = &cobra.Command{
		Use:   "statement <file|->",
		Short: "Replace the whole problem statement with a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := readJSONObject(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			return run(cmd, daemon.CmdReplaceStatement, daemon.StatementParams{ProblemStatement: ps})
		},
	}

	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Remove every entity and the solution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, daemon.CmdClear, daemon.ConfirmParams{Confirm: confirmClear})
		},
	}

	tabCmd = &cobra.Command{
		Use:   "tab [problem|solution]",
		Short: "Show or switch the active view",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p daemon.TabParams
			if len(args) == 1 {
				p.Tab = model.Tab(args[0])
			}
			return run(cmd, daemon.CmdTab, p)
		},
	}
)

func init() {
	entitiesCmd.Flags().StringVar(&entitiesType, "type", "", "only list one entity type")
	entitiesCmd.Flags().StringVar(&entitiesStation, "station", "", "list the assignments of one station")

	selectCmd.Flags().BoolVar(&selectNone, "none", false, "clear the selection")
	selectCmd.Flags().StringVar(&selectStation, "station", "", "station id (assignments only)")

	addObjectCmd.Flags().IntVar(&objectX, "x", 0, "column (defaults to the grid centre)")
	addObjectCmd.Flags().IntVar(&objectY, "y", 0, "row (defaults to the grid centre)")
	addObjectCmd.Flags().StringArrayVar(&objectProps, "set", nil, "extra property key=value (repeatable)")

	tf := addTaskCmd.Flags()
	tf.StringVar(&taskInput.DestinationID, "destination", "", "destination id (integer)")
	tf.StringVar(&taskInput.TransportEntityID, "transport", "", "transport entity id (integer)")
	tf.StringVar(&taskInput.TaskKey, "key", "", "task key (defaults to the next t-N)")

	af := addAssignmentCmd.Flags()
	af.StringVar(&assignmentInput.StationID, "pps", "", "station id (integer)")
	af.StringVar(&assignmentInput.BotID, "bot", "", "bot id (integer)")
	af.StringVar(&assignmentInput.MSUID, "msu", "", "rack id (integer)")
	af.StringVar(&assignmentInput.ID, "id", "", "assignment id (defaults to a UUID)")
	af.StringVar(&assignmentInput.TaskKey, "key", "", "task key (defaults to the next a-N)")
	af.Int64Var(&assignStart, "start", 0, "start time")
	af.Int64Var(&assignEnd, "end", 0, "end time")

	removeCmd.Flags().StringVar(&removeStation, "station", "", "station id (assignments only)")
	moveCmd.Flags().StringVar(&moveStation, "station", "", "station id (assignments only)")
	clearCmd.Flags().BoolVarP(&confirmClear, "yes", "y", false, "confirm removing everything")

	rootCmd.AddCommand(entitiesCmd, selectCmd, addObjectCmd, addTaskCmd, addAssignmentCmd,
		removeAssignmentCmd, removeCmd, moveCmd, gridCmd, statementCmd, clearCmd, tabCmd)
}
