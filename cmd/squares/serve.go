package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/squares/pkg/api"
	"github.com/cuemby/squares/pkg/events"
	"github.com/cuemby/squares/pkg/health"
	"github.com/cuemby/squares/pkg/log"
	"github.com/cuemby/squares/pkg/manager"
	"github.com/cuemby/squares/pkg/metrics"
	"github.com/cuemby/squares/pkg/platform"
	"github.com/cuemby/squares/pkg/platform/discord"
	"github.com/cuemby/squares/pkg/squareboard"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to Discord and track square reactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(true); err != nil {
			return err
		}
		logger := log.WithComponent("serve")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := discord.New(cfg.Discord.Token)
		if err != nil {
			return err
		}
		if err := client.Open(); err != nil {
			metrics.UpdateComponent(metrics.ComponentDiscord, false, err.Error())
			return err
		}
		metrics.UpdateComponent(metrics.ComponentDiscord, true, "")

		mgr, err := newManager(client)
		if err != nil {
			metrics.UpdateComponent(metrics.ComponentStorage, false, err.Error())
			_ = client.Close()
			return err
		}
		gate := newReactionGate(mgr.HandleReaction, logger)
		defer func() {
			// Gateway first, then drain handlers, then the store
			if err := client.Close(); err != nil {
				logger.Warn().Err(err).Msg("Failed to close discord session")
			}
			gate.Close()
			if err := mgr.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close manager")
			}
		}()
		metrics.UpdateComponent(metrics.ComponentStorage, true, "")

		collector := metrics.NewCollector(mgr)
		collector.Start()
		defer collector.Stop()

		monitor := health.NewMonitor(metrics.UpdateComponent)
		monitor.Register(metrics.ComponentStorage, health.NewFuncChecker(mgr.Ping), health.DefaultConfig())
		monitor.Register(metrics.ComponentDiscord, health.NewFuncChecker(client.Ping), health.DefaultConfig())
		if cfg.Influx.URL != "" {
			monitor.Register(metrics.ComponentInflux,
				health.NewHTTPChecker(strings.TrimRight(cfg.Influx.URL, "/")+"/health").WithJSONStatus("pass"),
				health.DefaultConfig())
		}
		monitor.Start(ctx)
		defer monitor.Stop()

		if cfg.Influx.URL != "" {
			sink := metrics.NewInfluxSink(metrics.InfluxConfig{
				URL:    cfg.Influx.URL,
				Token:  cfg.Influx.Token,
				Org:    cfg.Influx.Org,
				Bucket: cfg.Influx.Bucket,
			}, mgr.Users())
			defer sink.Close()
			go sink.Run(ctx, mgr.EventBroker().Subscribe(events.EventReactionsCommitted))
			logger.Info().Str("url", cfg.Influx.URL).Msg("Influx sink enabled")
		}

		go func() {
			if err := mgr.Warmup(ctx, cfg.Warmup.Rate); err != nil {
				logger.Warn().Err(err).Msg("Warmup interrupted")
			}
		}()

		client.OnReaction(func(evt platform.ReactionEvent) {
			gate.Handle(ctx, evt)
		})

		errCh := make(chan error, 1)
		var apiServer *api.Server
		if cfg.API.Addr != "" {
			apiServer = api.NewServer(mgr)
			go func() {
				if err := apiServer.Start(cfg.API.Addr); err != nil {
					errCh <- err
				}
			}()
		} else {
			metrics.UpdateComponent(metrics.ComponentAPI, true, "disabled")
		}

		logger.Info().Msg("Squares is running. Press Ctrl+C to stop.")

		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutting down")
		case err := <-errCh:
			logger.Error().Err(err).Msg("API server failed")
		}

		if apiServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := apiServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("API shutdown")
			}
		}
		return nil
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the squareboard from stored reactions",
	Long: `Refresh the squareboard for every tracked message and every existing
mirror, posting, editing and deleting mirrors as needed, then exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(true); err != nil {
			return err
		}

		client, err := discord.New(cfg.Discord.Token)
		if err != nil {
			return err
		}
		if err := client.Open(); err != nil {
			return err
		}
		defer client.Close()

		mgr, err := newManager(client)
		if err != nil {
			return err
		}
		defer mgr.Close()

		result, err := mgr.Rebuild(cmd.Context())
		for _, t := range []squareboard.Transition{
			squareboard.TransitionInsert,
			squareboard.TransitionAmend,
			squareboard.TransitionDelete,
		} {
			fmt.Printf("  %-7s %d\n", t, result[t])
		}
		if err != nil {
			return fmt.Errorf("rebuild finished with errors: %w", err)
		}
		fmt.Println("✓ Squareboard rebuilt")
		return nil
	},
}

func newManager(client platform.Client) (*manager.Manager, error) {
	return manager.NewManager(&manager.Config{
		DataDir:      cfg.DataDir,
		Client:       client,
		ChannelName:  cfg.Squareboard.Channel,
		HiddenUsers:  cfg.HiddenUsers,
		FetchTimeout: cfg.FetchTimeout,
	})
}

// reactionGate forwards reaction events to a handler until closed. Close
// waits for in-flight events, so the store can be closed right after.
type reactionGate struct {
	mu     sync.RWMutex
	closed bool
	handle func(context.Context, platform.ReactionEvent) error
	logger zerolog.Logger
}

func newReactionGate(handle func(context.Context, platform.ReactionEvent) error, logger zerolog.Logger) *reactionGate {
	return &reactionGate{handle: handle, logger: logger}
}

// Handle runs the handler unless the gate is closed
func (g *reactionGate) Handle(ctx context.Context, evt platform.ReactionEvent) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return
	}
	if err := g.handle(ctx, evt); err != nil {
		g.logger.Error().Err(err).Str("message_id", evt.MessageID).Msg("Failed to handle reaction")
	}
}

// Close rejects new events and blocks until running ones return
func (g *reactionGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
}
