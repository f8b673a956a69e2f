package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/anicoll/relay-bridge/internal/pkg/agent"
	"github.com/anicoll/relay-bridge/internal/pkg/config"
)

func AgentCommand(ctx *cli.Context) error {
	cfg, err := config.LoadAgentConfig()
	if err != nil {
		return err
	}
	if ctx.IsSet("device-id") {
		cfg.DeviceID = ctx.String("device-id")
	}
	if ctx.IsSet("server-url") {
		cfg.ServerURL = ctx.String("server-url")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	var opts []agent.Option
	if cfg.ModbusAddr != "" {
		driver, err := agent.NewModbusDriver(cfg.ModbusAddr, cfg.ModbusSlaveID, cfg.ModbusStartCoil)
		if err != nil {
			return err
		}
		opts = append(opts, agent.WithRelayDriver(driver))
		logger.Info("driving relays over modbus", zap.String("addr", cfg.ModbusAddr), zap.Uint16("start_coil", cfg.ModbusStartCoil))
	}
	a := agent.New(cfg, opts...)
	defer a.Close()

	sigCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := a.Run(sigCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
