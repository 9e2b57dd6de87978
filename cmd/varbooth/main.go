// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

// Command varbooth runs the video assistant referee booth: it follows
// the arena's match lifecycle, drives a HyperDeck recorder, stores
// review events per recorded match and serves the operator panels over
// websocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/varbooth/varbooth/internal/arena"
	"github.com/varbooth/varbooth/internal/config"
	"github.com/varbooth/varbooth/internal/controller"
	"github.com/varbooth/varbooth/internal/dispatch"
	"github.com/varbooth/varbooth/internal/hyperdeck"
	"github.com/varbooth/varbooth/internal/logging"
	"github.com/varbooth/varbooth/internal/retry"
	"github.com/varbooth/varbooth/internal/store"
	"github.com/varbooth/varbooth/internal/supervisor"
	"github.com/varbooth/varbooth/internal/web"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("varbooth exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("arena", cfg.Arena.Address).
		Str("hyperdeck", cfg.Hyperdeck.Address).
		Msg("starting varbooth")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.OpenBadger(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening match database: %w", err)
	}
	defer db.Close()

	matches := store.New(db)
	if err := matches.LoadAll(); err != nil {
		return fmt.Errorf("loading recorded matches: %w", err)
	}

	queue := dispatch.New()
	defer queue.Close()
	clock := retry.RealClock()

	arenaClient := arena.New(arena.Config{
		Address:           cfg.Arena.Address,
		Password:          cfg.Arena.Password,
		CompatMode:        cfg.Arena.CompatMode,
		ReconnectInterval: cfg.Arena.ReconnectInterval,
	}, queue, db, clock)

	deck := hyperdeck.New(hyperdeck.Config{
		Address:           cfg.Hyperdeck.Address,
		CommandAttempts:   cfg.Hyperdeck.CommandAttempts,
		CommandRetryDelay: cfg.Hyperdeck.CommandRetryDelay,
		ReconnectInterval: cfg.Hyperdeck.ReconnectInterval,
		ClipPollInterval:  cfg.Hyperdeck.ClipPollInterval,
		ClipPollTimeout:   cfg.Hyperdeck.ClipPollTimeout,
	}, queue, clock)

	ctrl := controller.New(controller.Config{
		AutoScoringDelay:    cfg.VAR.AutoScoringDelay,
		EndgameScoringDelay: cfg.VAR.EndgameScoringDelay,
		RecordingExtraTime:  cfg.VAR.RecordingExtraTime,
	}, queue, matches, deck, clock)
	matches.OnChange(ctrl.OnStoreChange)

	hub := web.NewHub(web.Config{
		PingInterval: cfg.Web.PingInterval,
		PongTimeout:  cfg.Web.PongTimeout,
		CommandRate:  cfg.Web.CommandRate,
		CommandBurst: cfg.Web.CommandBurst,
		UISettings:   web.UISettings{SwapRedBlue: cfg.Web.SwapRedBlue},
	}, queue)
	registerEventTypes(hub, ctrl)
	ctrl.SetNotifier(hub.Notify)

	router, err := web.NewRouter(hub, web.RouterConfig{
		AdminUsername: cfg.Web.AdminUsername,
		AdminPassword: cfg.Web.AdminPassword,
		CORSOrigins:   cfg.Web.CORSOrigins,
		StaticDir:     "static",
	})
	if err != nil {
		return fmt.Errorf("building router: %w", err)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: 0, // websocket connections are long-lived
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddUpstream(arenaClient)
	tree.AddUpstream(supervisor.Service{Name: "hyperdeck-events", Run: deck.RunEvents})
	tree.AddUpstream(supervisor.Service{Name: "hyperdeck-commands", Run: deck.RunCommands})
	tree.AddCore(ctrl)
	tree.AddCore(hub)
	tree.AddCore(&supervisor.HTTPService{Server: server})

	logging.Info().Str("addr", server.Addr).Msg("varbooth ready")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("varbooth stopped")
	return nil
}

// registerEventTypes binds every websocket event type to its controller
// snapshot. Subscribe requests replay these as initial_data so a panel
// is fully rendered before the first push arrives.
func registerEventTypes(hub *web.Hub, ctrl *controller.Controller) {
	hub.AddEventType(controller.EventControllerStatus, func() any { return ctrl.Status() })
	hub.AddEventType(controller.EventCurrentMatchData, func() any { return ctrl.MatchData() })
	hub.AddEventType(controller.EventCurrentMatchTime, func() any { return ctrl.MatchTime() })
	hub.AddEventType(controller.EventRealtimeScore, func() any { return ctrl.RealtimeScore() })
	hub.AddEventType(controller.EventScoringStatus, func() any { return ctrl.ScoringStatus() })
	hub.AddEventType(controller.EventMatchList, func() any { return ctrl.MatchList() })
	hub.AddEventType(controller.EventArenaMatches, func() any { return ctrl.ArenaMatches() })
	hub.AddEventType(controller.EventArenaConnection, func() any { return ctrl.ArenaConnection() })
	hub.AddEventType(controller.EventHyperdeckConnection, func() any { return ctrl.HyperdeckConnection() })
	hub.AddEventType(controller.EventHyperdeckStatus, func() any { return ctrl.HyperdeckStatus() })
}
