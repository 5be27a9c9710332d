package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/callmon/internal/command"
	"firestige.xyz/callmon/internal/config"
	"firestige.xyz/callmon/internal/core"
	"firestige.xyz/callmon/internal/events"
	"firestige.xyz/callmon/internal/history"
	"firestige.xyz/callmon/internal/log"
	"firestige.xyz/callmon/internal/metrics"
	"firestige.xyz/callmon/internal/monitor"
	"firestige.xyz/callmon/internal/orchestrator"
)

var watchCmd = &cobra.Command{
	Use:   "watch <session>",
	Short: "Watch a session for an inbound call and follow it to the end",
	Long: `Wait for the signaling participant of a telephony call to appear in the
session, then poll it until the caller hangs up, leaves, or the call can no
longer be observed.

If no telephony participant shows up within the discovery timeout the
session is released and the command fails.

Examples:
  callmon watch test-inbound-3f9a2c1d
  callmon watch room-42 --discovery-timeout 1m --max-duration 30m
  callmon watch room-42 --directory memory`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, backend, err := openBackend()
		if err != nil {
			return err
		}
		defer backend.Close()
		return runWatch(cmd.Context(), cfg, backend, args[0], watchOpts, cmd.OutOrStdout())
	},
}

type watchOptions struct {
	DiscoveryTimeout time.Duration
	MaxDuration      time.Duration
	Greeting         string
}

var watchOpts watchOptions

func init() {
	watchCmd.Flags().DurationVar(&watchOpts.DiscoveryTimeout, "discovery-timeout", 0,
		"override monitor.discovery_timeout")
	watchCmd.Flags().DurationVar(&watchOpts.MaxDuration, "max-duration", 0,
		"force-end the call after this long (0 = unlimited)")
	watchCmd.Flags().StringVar(&watchOpts.Greeting, "greeting", "",
		"message the placeholder voice pipeline logs for the caller")
}

// runWatch runs one orchestrator over session. extra options are applied
// after the ones derived from cfg.
func runWatch(ctx context.Context, cfg *config.GlobalConfig, dir core.RoomDirectory, session string, opts watchOptions, w io.Writer, extra ...orchestrator.Option) error {
	ocfg := orchestrator.ConfigFrom(cfg.Monitor)
	if opts.DiscoveryTimeout > 0 {
		ocfg.Monitor.DiscoveryTimeout = opts.DiscoveryTimeout
	}

	cls := classifierFor(cfg)

	store, err := openHistory(cfg.History)
	if err != nil {
		return err
	}

	reporter, err := openEvents(cfg.Events)
	if err != nil {
		return err
	}
	defer func() {
		if err := reporter.Close(); err != nil {
			log.GetLogger().WithError(err).Warn("failed to close event reporter")
		}
	}()

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer srv.Stop(context.WithoutCancel(ctx))
	}

	logger := log.GetLogger().WithField("node", cfg.Node.Hostname)
	orchOpts := []orchestrator.Option{
		orchestrator.WithEvents(reporter),
		orchestrator.WithLogger(logger),
		orchestrator.WithNode(cfg.Node.Hostname),
		orchestrator.WithHistory(store, cfg.History.MaxRecords),
		orchestrator.WithPipeline(&orchestrator.GreetingPipeline{Greeting: opts.Greeting, Classifier: cls, Log: logger}),
		orchestrator.WithShutdown(func(reason string) {
			fmt.Fprintf(w, "session %s released: %s\n", session, reason)
		}),
	}
	o := orchestrator.New(session, dir, cls, ocfg, append(orchOpts, extra...)...)

	if opts.MaxDuration > 0 {
		go enforceMaxDuration(ctx, o, opts.MaxDuration, w)
	}

	if cfg.Commands.Enabled {
		stop, err := startCommands(ctx, cfg, o)
		if err != nil {
			return err
		}
		defer stop()
	}

	fmt.Fprintf(w, "watching session %s (discovery timeout %s)\n", session, ocfg.Monitor.DiscoveryTimeout)
	res, err := o.Run(ctx)
	switch {
	case errors.Is(err, core.ErrDiscoveryTimeout):
		return err
	case errors.Is(err, context.Canceled) && res.Participant.Identity == "":
		fmt.Fprintln(w, "interrupted before a call was found")
		return nil
	}

	printResult(w, res)
	return err
}

// enforceMaxDuration terminates the call once it has been up for limit.
func enforceMaxDuration(ctx context.Context, o *orchestrator.Orchestrator, limit time.Duration, w io.Writer) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var h *monitor.Handle
	for h == nil {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h = o.Handle()
			if h == nil && o.State().Terminal() {
				return
			}
		}
	}

	timer := time.NewTimer(time.Until(h.StartedAt().Add(limit)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-h.Done():
	case <-timer.C:
		fmt.Fprintf(w, "call exceeded %s, terminating\n", limit)
		if err := o.Terminate(ctx); err != nil {
			fmt.Fprintf(w, "terminate failed: %v\n", err)
		}
	}
}

func printResult(w io.Writer, res orchestrator.Result) {
	fmt.Fprintf(w, "call in %s ended\n", res.Session)
	fmt.Fprintf(w, "  participant: %s\n", res.Participant.Identity)
	fmt.Fprintf(w, "  from:        %s\n", res.Info.Origin)
	fmt.Fprintf(w, "  to:          %s\n", res.Info.Destination)
	fmt.Fprintf(w, "  reason:      %s\n", res.Reason)
	if !res.StartedAt.IsZero() && !res.EndedAt.IsZero() {
		fmt.Fprintf(w, "  duration:    %s\n", res.EndedAt.Sub(res.StartedAt).Round(time.Millisecond))
	}
	if res.Terminated {
		fmt.Fprintln(w, "  terminated:  yes")
	}
	if res.Err != nil {
		fmt.Fprintf(w, "  error:       %v\n", res.Err)
	}
}

// openEvents returns the configured lifecycle event reporter.
func openEvents(ec config.EventsConfig) (events.Reporter, error) {
	if !ec.Enabled {
		return events.NopReporter{}, nil
	}
	r, err := events.NewKafkaReporter(ec.Kafka)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// startCommands consumes remote commands for the watched session until
// the returned stop function is called.
func startCommands(ctx context.Context, cfg *config.GlobalConfig, o *orchestrator.Orchestrator) (func(), error) {
	h := command.NewHandler()
	command.RegisterTerminate(h, o)
	consumer, err := command.NewKafkaCommandConsumer(cfg.Commands, cfg.Node.Hostname, h)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = consumer.Start(cctx)
	}()
	return func() {
		cancel()
		<-done
		if err := consumer.Stop(); err != nil {
			log.GetLogger().WithError(err).Warn("failed to stop command consumer")
		}
	}, nil
}

// openHistory returns the configured call record store.
func openHistory(hc config.HistoryConfig) (history.Store, error) {
	if !hc.Enabled {
		return history.NoopStore{}, nil
	}
	store, err := history.NewFileStore(hc.Dir)
	if err != nil {
		return nil, err
	}
	return store, nil
}
