// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/JackLamWC/mb-rtu-master/internal/config"
	"github.com/JackLamWC/mb-rtu-master/master"
	"github.com/JackLamWC/mb-rtu-master/store"
	"github.com/JackLamWC/mb-rtu-master/transport/rtu"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "rtumaster",
		Usage: "Modbus RTU master for a single serial line",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
			},
			&cli.StringFlag{
				Name:    "device",
				Aliases: []string{"d"},
				Usage:   "Serial device, e.g. /dev/ttyUSB0",
			},
			&cli.IntFlag{
				Name:  "baud",
				Usage: "Baud rate",
			},
			&cli.UintFlag{
				Name:    "slave",
				Aliases: []string{"s"},
				Usage:   "Modbus slave ID (1-255)",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "Response timeout",
			},
			&cli.IntFlag{
				Name:  "retries",
				Usage: "Extra attempts after a timeout",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
		},
		Commands: commands(),
	}
}

// flagKeys maps global flags onto configuration keys.
var flagKeys = map[string]string{
	"device":    "serial.device",
	"baud":      "serial.baud_rate",
	"slave":     "engine.slave_id",
	"timeout":   "engine.timeout",
	"retries":   "engine.retries",
	"log-level": "log.level",
}

// loadConfig reads the config file and environment, then applies the
// flags given on the command line.
func loadConfig(c *cli.Context) (*config.Config, error) {
	v := config.New()
	configFile := c.String("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	if err := config.Read(v, configFile != ""); err != nil {
		return nil, err
	}
	for flag, key := range flagKeys {
		if c.IsSet(flag) {
			v.Set(key, c.Value(flag))
		}
	}
	return config.Unmarshal(v)
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stderr: %v\n", err)
			handler = slog.NewTextHandler(os.Stderr, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		// Stdout carries command output.
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func engineOptions(cfg *config.Config) master.Options {
	return master.Options{
		Timeout:       cfg.Engine.Timeout,
		QuietInterval: cfg.Engine.QuietInterval,
		PollInterval:  cfg.Serial.PollInterval,
		Retries:       cfg.Engine.Retries,
		BaudRate:      cfg.Serial.BaudRate,
	}
}

func newStore(cfg config.StoreConfig) (*store.Store, error) {
	switch cfg.Mirror {
	case "mmap":
		m, err := store.OpenMmapMirror(cfg.Path)
		if err != nil {
			return nil, err
		}
		slog.Info("register store mirrored", "path", cfg.Path)
		return store.New(m), nil
	default:
		return store.New(store.NewMemoryMirror()), nil
	}
}

// withEngine opens the configured port, runs fn and shuts everything down.
// SIGINT and SIGTERM cancel the command in flight.
func withEngine(c *cli.Context, fn func(ctx context.Context, e *master.Engine) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	setupLogger(cfg.Log)

	port, err := rtu.Open(cfg.Serial)
	if err != nil {
		return err
	}
	st, err := newStore(cfg.Store)
	if err != nil {
		port.Close()
		return err
	}
	e := master.New(port, st, engineOptions(cfg))
	defer func() {
		if err := e.Close(); err != nil {
			slog.Error("Failed to close engine", "err", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return fn(ctx, e)
}
