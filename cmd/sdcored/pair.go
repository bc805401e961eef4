package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spacedriveapp/sdcore/internal/device"
)

// pairSessionFile is where a pending pairing code's state is parked
// between CLI invocations. sdcored's CLI surface is informative rather
// than normative (§6): the real handshake runs inside the daemon over
// the transport package once two devices discover each other, but the
// pairing code/session state machine itself (internal/device) is fully
// exercised here independent of any live connection.
const pairSessionFile = "pairing-session.json"

type pairSessionState struct {
	Role      string    `json:"role"`
	Words     []string  `json:"words"`
	ExpiresAt time.Time `json:"expires_at"`
	State     string    `json:"state"`
}

func newPairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Manage device pairing",
	}

	cmd.AddCommand(newPairGenerateCmd())
	cmd.AddCommand(newPairJoinCmd())
	cmd.AddCommand(newPairStatusCmd())
	cmd.AddCommand(newPairAcceptCmd())
	cmd.AddCommand(newPairRejectCmd())

	return cmd
}

func newPairGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Generate a 12-word pairing code as the initiator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			code, err := device.GeneratePairingCode()
			if err != nil {
				return fmt.Errorf("generating pairing code: %w", err)
			}

			st := pairSessionState{
				Role:      string(device.RoleInitiator),
				Words:     code.Words,
				ExpiresAt: code.ExpiresAt,
				State:     string(device.StateGeneratingCode),
			}

			if err := savePairSession(cc.LibraryPath, st); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "pairing code: %s\nexpires: %s\n",
				strings.Join(code.Words, " "), code.ExpiresAt.Format(time.RFC3339))

			return nil
		},
	}
}

func newPairJoinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <word1> <word2> ... <word12>",
		Short: "Join a pairing session using the initiator's words",
		Args:  cobra.ExactArgs(12),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			code, err := device.ParsePairingCode(args, time.Now().Add(5*time.Minute))
			if err != nil {
				return fmt.Errorf("parsing pairing code: %w", err)
			}

			if code.Expired(time.Now()) {
				return fmt.Errorf("pairing code expired")
			}

			st := pairSessionState{
				Role:      string(device.RoleJoiner),
				Words:     code.Words,
				ExpiresAt: code.ExpiresAt,
				State:     string(device.StateConnecting),
			}

			if err := savePairSession(cc.LibraryPath, st); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "joined pairing session, fingerprint %s\n", code.DiscoveryFingerprint)

			return nil
		},
	}
}

func newPairStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current pairing session's state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			st, err := loadPairSession(cc.LibraryPath)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "role=%s state=%s expires=%s\n", st.Role, st.State, st.ExpiresAt.Format(time.RFC3339))

			return nil
		},
	}
}

func newPairAcceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept",
		Short: "Accept the pending pairing session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPairDecision(cmd, true)
		},
	}
}

func newPairRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject",
		Short: "Reject the pending pairing session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPairDecision(cmd, false)
		},
	}
}

func setPairDecision(cmd *cobra.Command, accept bool) error {
	cc := mustCLIContext(cmd.Context())

	st, err := loadPairSession(cc.LibraryPath)
	if err != nil {
		return err
	}

	if accept {
		st.State = string(device.StateCompleted)
	} else {
		st.State = string(device.StateFailed)
	}

	if err := savePairSession(cc.LibraryPath, st); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "pairing session %s\n", st.State)

	return nil
}

func savePairSession(libraryPath string, st pairSessionState) error {
	if err := os.MkdirAll(libraryPath, 0o755); err != nil {
		return fmt.Errorf("creating library directory: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding pairing session: %w", err)
	}

	return os.WriteFile(filepath.Join(libraryPath, pairSessionFile), data, 0o600)
}

func loadPairSession(libraryPath string) (pairSessionState, error) {
	var st pairSessionState

	data, err := os.ReadFile(filepath.Join(libraryPath, pairSessionFile))
	if err != nil {
		return st, fmt.Errorf("no pairing session in progress: %w", err)
	}

	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("decoding pairing session: %w", err)
	}

	return st, nil
}
