package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/callmon/internal/core"
	"firestige.xyz/callmon/internal/log"
	"firestige.xyz/callmon/internal/terminator"
)

var terminateCmd = &cobra.Command{
	Use:   "terminate <session> <identity>",
	Short: "Force-end a call by removing its participant",
	Long: `Remove the participant from the session. A participant that already left
counts as terminated. The removal is bounded by monitor.terminate_timeout.

Examples:
  callmon terminate test-inbound-3f9a2c1d sip_15551234567`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, backend, err := openBackend()
		if err != nil {
			return err
		}
		defer backend.Close()
		return runTerminate(cmd.Context(), backend, cfg.Monitor.TerminateTimeout, args[0], args[1], cmd.OutOrStdout())
	},
}

func runTerminate(ctx context.Context, dir core.RoomDirectory, timeout time.Duration, session, identity string, w io.Writer) error {
	t := terminator.New(dir, timeout, log.GetLogger())
	if err := t.Terminate(ctx, session, identity); err != nil {
		return err
	}
	fmt.Fprintf(w, "✓ Call with %s in %s ended\n", identity, session)
	return nil
}
