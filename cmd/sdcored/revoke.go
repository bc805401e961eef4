package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newRevokeCmd disables sync with a paired device without deleting its
// row, so history and the device's own copies of already-synced changes
// are left intact (§4.4 trust is revocable, not just deletable).
func newRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <device-uuid>",
		Short: "Stop syncing with a paired device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			store, err := openStore(ctx, cc)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SetDeviceSyncState(ctx, args[0], false, nil); err != nil {
				return fmt.Errorf("revoking device %s: %w", args[0], err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "revoked: %s\n", args[0])

			return nil
		},
	}
}
