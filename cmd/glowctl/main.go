package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/chaz8081/glowctl/internal/ble"
	"github.com/chaz8081/glowctl/internal/ble/protocol"
	"github.com/chaz8081/glowctl/internal/config"
	"github.com/chaz8081/glowctl/internal/glow"
)

// CLI is the root command structure for glowctl.
type CLI struct {
	Config  string `help:"Path to config file (default: ~/.config/glowctl/config.yaml)." type:"path" placeholder:"PATH"`
	Address string `short:"a" help:"Device address, overrides device.address from the config."`
	Verbose bool   `short:"v" help:"Enable debug logging."`

	Discover   DiscoverCmd   `cmd:"" help:"Scan for Glow lights."`
	On         OnCmd         `cmd:"" help:"Turn the light on."`
	Off        OffCmd        `cmd:"" help:"Turn the light off."`
	Pause      PauseCmd      `cmd:"" help:"Pause the dimming sequence."`
	Resume     ResumeCmd     `cmd:"" help:"Resume a paused dimming sequence."`
	Brightness BrightnessCmd `cmd:"" help:"Set brightness (60, 70, 80, 90 or 100 percent)."`
	Dimming    DimmingCmd    `cmd:"" help:"Set the dimming time (15, 30, 45, 60 or 90 minutes)."`
	State      StateCmd      `cmd:"" help:"Query and print the light's state."`
	Handshake  HandshakeCmd  `cmd:"" help:"Check that the light is reachable."`
	Capture    CaptureCmd    `cmd:"" help:"Print decoded notifications for protocol debugging."`
	InitConfig InitConfigCmd `cmd:"" name:"init-config" help:"Write a default config file."`
}

// app carries what every command needs.
type app struct {
	ctx     context.Context
	cfg     *config.Config
	address string
	adapter ble.Adapter
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("glowctl"),
		kong.Description("Control Casper Glow lights over Bluetooth LE."),
		kong.UsageOnError(),
	)

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		kctx.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		kctx.Fatalf("config validation: %v", err)
	}

	level := config.ParseLogLevel(cfg.LogLevel)
	if cli.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	address := cli.Address
	if address == "" {
		address = cfg.Device.Address
	}

	a := &app{
		ctx:     ctx,
		cfg:     cfg,
		address: address,
		adapter: ble.NewTinygoAdapter(),
	}
	err = kctx.Run(a)
	if errors.Is(err, protocol.ErrHandshakeTimeout) {
		err = fmt.Errorf("%w (is the light in range and not held by another phone or app?)", err)
	}
	kctx.FatalIfErrorf(err)
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

// requireAddress returns the target address or explains how to set one.
func (a *app) requireAddress() (string, error) {
	if a.address == "" {
		return "", errors.New("no device address: pass --address or set device.address (run \"glowctl discover\" to find one)")
	}
	return a.address, nil
}

// glow builds the facade for the configured device.
func (a *app) glow() (*glow.Glow, error) {
	addr, err := a.requireAddress()
	if err != nil {
		return nil, err
	}
	queryBody, err := a.cfg.QueryBody()
	if err != nil {
		return nil, err
	}

	g := glow.New(a.adapter, ble.Device{Name: a.cfg.Device.Name, MAC: addr},
		glow.WithSessionOptions(ble.SessionOptions{
			HandshakeTimeout: a.cfg.Timeouts.Handshake,
			ResponseTimeout:  a.cfg.Timeouts.Response,
		}),
		glow.WithQueryBody(queryBody),
	)
	g.RegisterCallback(func(s glow.State) {
		slog.Debug("state updated", "mac", addr, "state", s.String())
	})
	return g, nil
}
