package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/callmon/internal/classifier"
	"firestige.xyz/callmon/internal/config"
	"firestige.xyz/callmon/internal/core"
)

var rosterCmd = &cobra.Command{
	Use:   "roster <session>",
	Short: "List the participants of a session",
	Long: `Print the current participants of a session as YAML. Telephony
participants are marked and their call details extracted.

Examples:
  callmon roster test-inbound-3f9a2c1d`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, backend, err := openBackend()
		if err != nil {
			return err
		}
		defer backend.Close()
		return runRoster(cmd.Context(), backend, classifierFor(cfg), args[0], cmd.OutOrStdout())
	},
}

type rosterEntry struct {
	Identity    string            `yaml:"identity"`
	Name        string            `yaml:"name,omitempty"`
	Telephony   bool              `yaml:"telephony"`
	Origin      string            `yaml:"origin,omitempty"`
	Destination string            `yaml:"destination,omitempty"`
	Status      string            `yaml:"status,omitempty"`
	Attributes  map[string]string `yaml:"attributes,omitempty"`
}

func runRoster(ctx context.Context, dir core.RoomDirectory, cls *classifier.Classifier, session string, w io.Writer) error {
	roster, err := dir.ListParticipants(ctx, session)
	if err != nil {
		return err
	}
	if len(roster) == 0 {
		fmt.Fprintf(w, "session %s has no participants\n", session)
		return nil
	}

	entries := make([]rosterEntry, 0, len(roster))
	for _, p := range roster {
		e := rosterEntry{Identity: p.Identity, Name: p.Name, Attributes: p.Attributes}
		if cls.IsTelephonyParticipant(p) {
			info := cls.Describe(p)
			e.Telephony = true
			e.Origin = info.Origin
			e.Destination = info.Destination
			e.Status = info.Status
		}
		entries = append(entries, e)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{"session": session, "participants": entries}); err != nil {
		return fmt.Errorf("failed to encode roster: %w", err)
	}
	return enc.Close()
}

func classifierFor(cfg *config.GlobalConfig) *classifier.Classifier {
	return classifier.New(classifier.Keys{
		CallStatus:        cfg.Monitor.Attributes.CallStatus,
		OriginNumber:      cfg.Monitor.Attributes.OriginNumber,
		DestinationNumber: cfg.Monitor.Attributes.DestinationNumber,
	})
}
