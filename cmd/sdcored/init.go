package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/spacedriveapp/sdcore/internal/config"
	"github.com/spacedriveapp/sdcore/internal/device"
	"github.com/spacedriveapp/sdcore/internal/storage"
)

// newInitCmd creates a new library: a directory holding config.toml, an
// encrypted device identity, and an empty library.db with this device
// registered as current. Annotated skipConfig because the config file
// doesn't exist yet for PersistentPreRunE to load.
func newInitCmd() *cobra.Command {
	var (
		name     string
		password string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new library in --library",
		Annotations: map[string]string{
			skipConfigAnnotation: "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger(nil)
			libPath := flagLibraryPath

			cfg := config.DefaultConfig()
			cfg.Library.UUID = uuid.NewString()
			cfg.Library.Name = name

			configPath := filepath.Join(libPath, "config.toml")
			if err := config.Save(configPath, cfg); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}

			id, err := device.GenerateIdentity()
			if err != nil {
				return fmt.Errorf("generating device identity: %w", err)
			}

			identityPath := filepath.Join(libPath, "identity.json")
			if err := device.Save(identityPath, id, []byte(password)); err != nil {
				return fmt.Errorf("saving device identity: %w", err)
			}

			ctx := cmd.Context()

			store, err := storage.Open(ctx, filepath.Join(libPath, "library.db"), logger)
			if err != nil {
				return fmt.Errorf("opening library database: %w", err)
			}
			defer store.Close()

			hostname, _ := os.Hostname()

			if _, err := device.Register(ctx, store, id, hostname, runtime.GOOS, "", time.Now()); err != nil {
				return fmt.Errorf("registering device: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "library initialized: %s (uuid %s)\n", libPath, cfg.Library.UUID)

			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "human-readable library name")
	cmd.Flags().StringVar(&password, "password", "", "password protecting this device's identity key")

	return cmd
}
