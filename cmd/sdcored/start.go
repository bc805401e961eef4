package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

// newStartCmd runs the daemon in the foreground: opens the library,
// resumes any interrupted indexer jobs, and blocks until interrupted.
// It does not start a sync listener itself — that is the transport
// package's concern, wired here only up to the point the ActionManager
// and job queue exist.
func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the core daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			pidPath := filepath.Join(cc.LibraryPath, "sdcored.pid")

			releasePID, err := writePIDFile(pidPath)
			if err != nil {
				return err
			}
			defer releasePID()

			ctx := shutdownContext(cmd.Context(), cc.Logger)

			store, err := openStore(ctx, cc)
			if err != nil {
				return err
			}
			defer store.Close()

			mgr := newActionManager(store, cc.Logger)

			if err := mgr.Queue().ResumeAll(ctx); err != nil {
				cc.Logger.Warn("resuming interrupted jobs", "error", err)
			}

			cc.Logger.Info("daemon started", "library", cc.LibraryPath)
			fmt.Fprintln(cmd.OutOrStdout(), "sdcored running, press ctrl-c to stop")

			<-ctx.Done()

			cc.Logger.Info("daemon stopping")

			return nil
		},
	}
}
