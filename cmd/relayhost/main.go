// relayhost hosts RTS game lobbies and relays in-game actions between
// players, with GProxy reconnect support, a REST API, an operator console
// and MQTT telemetry.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/relayhost/internal/api"
	"github.com/energizer-project/relayhost/internal/cli"
	"github.com/energizer-project/relayhost/internal/config"
	"github.com/energizer-project/relayhost/internal/events"
	"github.com/energizer-project/relayhost/internal/host"
	"github.com/energizer-project/relayhost/internal/maps"
	"github.com/energizer-project/relayhost/internal/network"
	"github.com/energizer-project/relayhost/internal/scheduler"
	"github.com/energizer-project/relayhost/internal/stats"
	"github.com/energizer-project/relayhost/internal/telemetry"
	"github.com/energizer-project/relayhost/internal/util"
)

const (
	AppName    = "relayhost"
	AppVersion = "1.0.0"

	lagCheckInterval = 30 * time.Second
)

func main() {
	configDir := flag.String("config", config.DefaultConfigDir, "configuration directory")
	noConsole := flag.Bool("no-console", false, "disable the interactive console")
	flag.Parse()

	if err := util.InitLogger(util.LogConfig{Level: "info", Directory: "logs", MaxBackups: 7, Console: true}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msgf("starting %s", AppName)

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if err := util.InitLogger(util.LogConfig{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxBackups: 7,
		Console:    true,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	if cfg.Host.ExternalIP == "" {
		if ip, err := util.GetLocalIP(); err == nil {
			cfg.Host.ExternalIP = ip.String()
			log.Info().Str("external_ip", cfg.Host.ExternalIP).Msg("using detected local address")
		} else {
			log.Warn().Err(err).Msg("no external address configured and detection failed")
		}
	}

	hostCfg := cfg.GetHost()
	gameMaps, err := maps.LoadDir(hostCfg.MapsDirectory)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load maps")
	}
	if len(gameMaps) == 0 {
		log.Warn().Str("dir", hostCfg.MapsDirectory).Msg("no map descriptors found")
	}
	for _, name := range maps.Names(gameMaps) {
		m := gameMaps[name]
		if err := m.LoadData(hostCfg.MapsDirectory); err != nil {
			log.Debug().Err(err).Str("map", name).Msg("map file not available for download")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := stats.OpenDatabase(cfg.Storage.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	store, err := stats.NewStore(ctx, db, cfg.Storage.SaveWorkers)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize statistics store")
	}

	eventBus := events.NewEventBus()
	lagMonitor := telemetry.NewLagMonitor(eventBus)

	var mqttHandler *telemetry.MQTTHandler
	if cfg.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg.MQTT, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	lobbyCfg := cfg.GetLobby()
	limiter := network.NewAcceptLimiter(lobbyCfg.AcceptPerSecond, lobbyCfg.AcceptBurst)

	opts := host.Options{
		Config:    cfg,
		Maps:      gameMaps,
		Publisher: eventBus,
		Persist:   store,
		Bans:      store,
		Limiter:   limiter,
	}

	var lan *network.LANAdvertiser
	if hostCfg.LANEnabled {
		lan, err = network.ListenLAN(ctx, hostCfg.LANPort, uint32(hostCfg.GameVersion))
		if err != nil {
			log.Warn().Err(err).Msg("LAN advertising disabled")
		} else {
			opts.Advertiser = lan
		}
	}

	h := host.New(opts)
	if cfg.GetRelay().GProxy {
		if err := h.ListenReconnect(ctx, hostCfg.ReconnectPort); err != nil {
			log.Warn().Err(err).Msg("GProxy reconnect disabled")
		}
	}

	if hostCfg.DefaultMap != "" {
		req := host.GameRequest{Name: hostCfg.VirtualHostName + " lobby", Map: hostCfg.DefaultMap, Public: true, Creator: AppName}
		if err := h.QueueGameCreate(req); err != nil {
			log.Warn().Err(err).Msg("failed to queue initial lobby")
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := h.Run(ctx); err != nil {
			errCh <- fmt.Errorf("host: %w", err)
		}
	}()

	if lan != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := lan.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("LAN advertiser stopped")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		lagMonitor.Start(ctx, lagCheckInterval)
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	if cfg.API.Enabled {
		apiServer := api.NewServer(cfg, h, store, lagMonitor)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.API.Port).Msg("starting REST API server")
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("API server failed (non-fatal)")
			}
		}()
	}

	sched := scheduler.NewScheduler(cfg.Storage, store)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	quitCh := make(chan struct{})
	var quitOnce sync.Once
	if !*noConsole {
		console := cli.NewCLI(h, store, func() { quitOnce.Do(func() { close(quitCh) }) }, os.Stdin, os.Stdout)
		go console.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-quitCh:
		log.Info().Msg("shutdown requested from console")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(45 * time.Second):
		log.Warn().Msg("shutdown timed out after 45 seconds, forcing exit")
	}

	eventBus.Stop()
	if err := store.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close statistics store")
	}

	log.Info().Msgf("%s stopped", AppName)
}
