package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spacedriveapp/sdcore/internal/action"
	"github.com/spacedriveapp/sdcore/internal/indexer"
)

// newLocationCmd exposes `location add`, dispatching through the same
// ActionManager/indexer path the daemon uses internally, so the CLI and
// any future remote control surface share one code path (§6 "An
// ActionManager dispatches each").
func newLocationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "location",
		Short: "Manage indexed locations",
	}

	cmd.AddCommand(newLocationAddCmd())

	return cmd
}

func newLocationAddCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "add <name> <path>",
		Short: "Register a new location and enqueue its initial index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			store, err := openStore(ctx, cc)
			if err != nil {
				return err
			}
			defer store.Close()

			mgr := newActionManager(store, cc.Logger)
			action.RegisterLocationHandlers(mgr, store, cc.Resolved.Library.UUID)

			payload, err := json.Marshal(action.LocationAddPayload{
				Name:     args[0],
				RootPath: args[1],
				Mode:     indexer.Mode(mode),
				Scope:    indexer.ScopeRecursive,
			})
			if err != nil {
				return fmt.Errorf("encoding location_add payload: %w", err)
			}

			res, err := mgr.Dispatch(ctx, action.Action{
				Type:    action.TypeLocationAdd,
				Targets: []string{args[1]},
				Payload: payload,
			})
			if err != nil {
				return fmt.Errorf("dispatching location_add: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "location added, indexer job %s\n", res.JobUUID)

			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(indexer.ModeShallow), "indexer mode: shallow, content, or deep")

	return cmd
}
