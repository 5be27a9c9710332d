package cmd

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/callmon/internal/classifier"
	"firestige.xyz/callmon/internal/core"
)

var dialCmd = &cobra.Command{
	Use:   "dial <caller-number>",
	Short: "Simulate an inbound call into a fresh session",
	Long: `Attach a signaling participant for caller-number to a new session, as the
SIP bridge does for a real inbound call. The number is normalised to
E.164 (+ followed by digits).

With --watch the session is then monitored like 'callmon watch'.

Examples:
  callmon dial 15551234567
  callmon dial "+1 (555) 123-4567" --to +15105551234 --watch
  callmon dial 15551234567 --directory memory --watch`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, backend, err := openBackend()
		if err != nil {
			return err
		}
		defer backend.Close()

		w := cmd.OutOrStdout()
		session, err := runDial(cmd.Context(), backend, args[0], dialOpts, w)
		if err != nil {
			return err
		}
		if !dialOpts.Watch {
			return nil
		}
		return runWatch(cmd.Context(), cfg, backend, session, watchOpts, w)
	},
}

type dialOptions struct {
	To      string
	Session string
	Watch   bool
}

// DefaultCalleeNumber is dialled when --to is not given.
const DefaultCalleeNumber = "+15105551234"

var dialOpts dialOptions

func init() {
	dialCmd.Flags().StringVar(&dialOpts.To, "to", DefaultCalleeNumber, "callee number")
	dialCmd.Flags().StringVar(&dialOpts.Session, "session", "", "session name (default: test-inbound-<random>)")
	dialCmd.Flags().BoolVarP(&dialOpts.Watch, "watch", "w", false, "watch the session after dialling")
	dialCmd.Flags().DurationVar(&watchOpts.MaxDuration, "max-duration", 0,
		"with --watch: force-end the call after this long (0 = unlimited)")
}

// runDial provisions the simulated call and returns the session name.
func runDial(ctx context.Context, prov core.SessionProvisioner, number string, opts dialOptions, w io.Writer) (string, error) {
	caller := classifier.NormalizeE164(number)
	if caller == "" {
		return "", fmt.Errorf("invalid caller number %q", number)
	}
	callee := classifier.NormalizeE164(opts.To)

	session := opts.Session
	if session == "" {
		var err error
		if session, err = newSessionName(); err != nil {
			return "", err
		}
	}

	p, err := prov.AttachSignalingParticipant(ctx, session, caller, callee)
	if err != nil {
		return "", fmt.Errorf("failed to attach signaling participant: %w", err)
	}

	fmt.Fprintf(w, "✓ Simulated inbound call from %s\n", caller)
	fmt.Fprintf(w, "  session:     %s\n", session)
	fmt.Fprintf(w, "  participant: %s\n", p.Identity)
	return session, nil
}

// newSessionName returns test-inbound-<8 hex digits>.
func newSessionName() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate session name: %w", err)
	}
	return "test-inbound-" + hex.EncodeToString(b[:]), nil
}
