// Command sdcored is the Spacedrive core daemon: a thin cobra CLI that
// loads a library's configuration, opens its database, and exposes the
// §6 action surface (init, start, devices, pair, revoke, spacedrop) so
// the ActionManager and job framework have a realistic caller. It does
// not implement a UI, network discovery, or a long-running server loop
// beyond what the sync engine itself provides (§1 Non-goals).
package main

import (
	"fmt"
	"os"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}

func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
