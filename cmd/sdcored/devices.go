package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newDevicesCmd lists every device registered to this library (current
// device plus any paired peers), the read-only complement to `pair`.
func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List devices registered to this library",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			store, err := openStore(ctx, cc)
			if err != nil {
				return err
			}
			defer store.Close()

			devices, err := store.ListDevices(ctx)
			if err != nil {
				return fmt.Errorf("listing devices: %w", err)
			}

			rows := make([][]string, 0, len(devices))
			for _, d := range devices {
				current := ""
				if d.IsCurrent {
					current = "(this device)"
				}

				rows = append(rows, []string{d.UUID, d.Name, d.OS, d.Slug, current})
			}

			printTable(cmd.OutOrStdout(), []string{"UUID", "NAME", "OS", "SLUG", ""}, rows)

			return nil
		},
	}
}
