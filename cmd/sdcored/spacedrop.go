package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spacedriveapp/sdcore/internal/content"
)

// newSpacedropCmd checks that the target device is paired and not
// revoked, then hashes a local file and prints its size and hash (§6
// "spacedrop"). The CLI surface is informative, not normative: this
// one-shot command neither records a transfer nor sends any bytes to the
// device.
func newSpacedropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "spacedrop <device-uuid> <file>",
		Short: "Check a paired device and hash a file for it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			deviceUUID, path := args[0], args[1]

			store, err := openStore(ctx, cc)
			if err != nil {
				return err
			}
			defer store.Close()

			target, err := store.GetDeviceByUUID(ctx, deviceUUID)
			if err != nil {
				return fmt.Errorf("device not found: %w", err)
			}

			if !target.SyncEnabled {
				return fmt.Errorf("device %s has been revoked, re-pair before sending", deviceUUID)
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("opening %s: %w", path, err)
			}
			defer f.Close()

			hash, err := content.StreamHash(f)
			if err != nil {
				return fmt.Errorf("hashing %s: %w", path, err)
			}

			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("stating %s: %w", path, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "spacedrop prepared: %s (%d bytes, hash %s) -> %s (%s)\n",
				path, info.Size(), hash, target.Name, target.UUID)
			fmt.Fprintln(cmd.OutOrStdout(), "this command does not record or send the transfer")

			return nil
		},
	}
}
