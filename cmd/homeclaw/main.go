// Package main is the entry point for the homeclaw binary.
// homeclaw bridges MQTT devices to the Claude Code CLI: devices publish
// natural-language commands, the bridge streams agent output back and relays
// per-tool approval round-trips.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/homeclaw/homeclaw/internal/bridge"
	"github.com/homeclaw/homeclaw/internal/common/config"
	"github.com/homeclaw/homeclaw/internal/common/constants"
	"github.com/homeclaw/homeclaw/internal/common/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	if !cfg.MQTT.Enabled {
		log.Info("MQTT bridge disabled (set MQTT_ENABLED=true to enable), exiting")
		return
	}

	log.Info("starting homeclaw",
		zap.String("broker_url", cfg.MQTT.BrokerURL),
		zap.String("client_id", cfg.MQTT.ClientID),
		zap.String("command_topic", cfg.MQTT.CommandTopic),
		zap.Int("approval_timeout_ms", cfg.MQTT.ApprovalTimeout))

	b := bridge.New(cfg, log)

	ctx, cancel := context.WithTimeout(context.Background(), constants.BrokerConnectTimeout)
	err = b.Start(ctx)
	cancel()
	if err != nil {
		log.Error("failed to start bridge", zap.Error(err))
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("shutting down", zap.String("signal", sig.String()))

	b.Shutdown()
	log.Info("homeclaw stopped")
}
