package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"clickerclicker.app/internal/config"
	"clickerclicker.app/internal/persistence/archive"
	plog "clickerclicker.app/internal/persistence/log"
	"clickerclicker.app/internal/persistence/snapshot"
	"clickerclicker.app/internal/protocol"
	"clickerclicker.app/internal/sim/engine"
	"clickerclicker.app/internal/sim/tuning"
	"clickerclicker.app/internal/syncclient"
	"clickerclicker.app/internal/transport/gameapi"
	"clickerclicker.app/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "game.yaml", "path to game.yaml (written with defaults if missing)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides data_dir)")
		listen     = flag.String("listen", "", "http listen address (overrides listen)")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (overrides tuning_file)")
		pullOnBoot = flag.Bool("pull_on_start", true, "pull remote progress at startup when an identity is remembered")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[game] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load config: %v", err)
		}
		if err := cfg.Save(*configPath); err != nil {
			logger.Printf("write default config: %v", err)
		} else {
			logger.Printf("wrote default config to %s", *configPath)
		}
	}
	if v := strings.TrimSpace(*dataDir); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(*listen); v != "" {
		cfg.Listen = v
	}
	if v := strings.TrimSpace(*tuningPath); v != "" {
		cfg.TuningFile = v
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	tune := tuning.Defaults()
	if cfg.TuningFile != "" {
		tune, err = tuning.Load(cfg.TuningFile)
		if err != nil {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	snapWriter := snapshot.NewWriter(cfg.StatePath(), logger)
	defer snapWriter.Close()
	events := plog.NewEventLogger(cfg.DataDir)
	defer events.Close()
	syncLog := plog.NewSyncLogger(cfg.DataDir)
	defer syncLog.Close()

	eng, loaded := engine.Open(cfg.StatePath(), engine.Options{
		Tuning:    tune,
		Persister: snapWriter,
		Events:    events,
		Logger:    logger,
	})
	if !loaded {
		logger.Printf("starting fresh battle at stage %d", eng.View().Stage)
	}

	dir := cfg.DataDir
	mp := syncclient.New(cfg.MultiplayerServerURL, syncclient.Options{
		Logger:  logger,
		Journal: syncLog,
		BeforeImport: func(reason string, remote protocol.PlayerProfile) error {
			path, err := archive.ArchiveBeforeImport(dir, eng.Snapshot(), reason, archive.Remote{
				PlayerID:   remote.PlayerID,
				Stage:      remote.Progress.Stage,
				LastUpdate: remote.LastUpdate,
			}, time.Now())
			if err != nil {
				// Losing the local copy is worse than skipping the import.
				return err
			}
			logger.Printf("archived local progress to %s before %s", path, reason)
			return nil
		},
	})
	if cfg.PlayerID != "" {
		mp.Restore(cfg.PlayerID, cfg.PlayerName)
	}
	holder := config.NewHolder(*configPath, cfg)

	ctx, cancel := signalContext()
	defer cancel()

	if *pullOnBoot && mp.IsConnected() {
		pctx, pcancel := context.WithTimeout(ctx, 10*time.Second)
		applied, err := mp.Pull(pctx, eng)
		pcancel()
		if err != nil {
			logger.Printf("startup pull: %v", err)
		} else {
			logger.Printf("startup pull: applied=%v", applied)
		}
	}

	input := &engine.Counter{Max: tune.MaxInputPerBatch}
	hub := ws.NewHub()
	updates := make(chan protocol.StateMsg, 1)
	eng.SetUpdateSink(updates)
	go hub.Run(ctx, updates)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := eng.Run(ctx, input); err != nil && err != context.Canceled {
			logger.Printf("engine stopped: %v", err)
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	gameapi.NewServer(eng, input, mp, holder, logger).Routes(r)
	r.Get("/v1/ws", ws.NewServer(eng, input, hub, logger).Handler())

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (state=%s sync=%v)", cfg.Listen, cfg.StatePath(), cfg.SyncEnabled())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
		cancel()
	}
	<-loopDone
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
