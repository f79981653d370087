package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/aryansinha9/irl-among-us/config"
	"github.com/aryansinha9/irl-among-us/lobby"
	"github.com/aryansinha9/irl-among-us/logger"
	"github.com/aryansinha9/irl-among-us/monitor"
	"github.com/aryansinha9/irl-among-us/persistence"
	"github.com/aryansinha9/irl-among-us/server"
)

func main() {
	// .env 可选，环境变量优先于配置文件
	envErr := godotenv.Load()

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		panic(err)
	}

	// Initialize logger
	logger.Init(cfg.Log.Level, cfg.Log.Development)
	defer logger.Sync()
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logger.Log.Warnw("failed to read .env", "error", envErr)
	}

	// Initialize store
	db, err := persistence.Open(cfg)
	if err != nil {
		logger.Log.Fatalf("Failed to open %s store: %v", cfg.Store.Driver, err)
	}
	defer db.Close()
	logger.Log.Infow("lobby store ready", "driver", cfg.Store.Driver)

	mon := monitor.NewMonitor("lobby")
	mon.PublishExpvars()

	lobbies := lobby.NewManager(db,
		lobby.WithRecorder(db),
		lobby.WithMonitor(mon),
		lobby.WithDefaults(cfg.Game.DefaultSettings.Settings()),
		lobby.WithTasksPerPlayer(cfg.Game.TasksPerPlayer),
		lobby.WithTimeout(cfg.Store.Timeout),
	)

	// Initialize Game Server
	gameServer := server.NewGameServer(server.Options{
		HTTPAddress:        cfg.Server.HTTPAddress,
		RPCAddress:         cfg.Server.RPCAddress,
		GRPCAddress:        cfg.Server.GRPCAddress,
		MetricsAddress:     cfg.Server.MetricsAddress,
		SessionIdleTimeout: cfg.Server.SessionIdleTimeout,
		Heartbeat:          cfg.Server.Heartbeat,
	}, lobbies, db, mon)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Log.Infof("Starting lobby server on %s", cfg.Server.HTTPAddress)
	if err := gameServer.Start(ctx); err != nil {
		logger.Log.Errorf("Server stopped: %v", err)
	}
	logger.Log.Info("Server exited")
}
