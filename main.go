// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lighting-engine/internal/animation"
	"lighting-engine/internal/api"
	"lighting-engine/internal/config"
	"lighting-engine/internal/curve"
	"lighting-engine/internal/fixture"
	"lighting-engine/internal/http"
	"lighting-engine/internal/library"
	"lighting-engine/internal/lights"
	"lighting-engine/internal/modbus"
	"lighting-engine/internal/mqtt"
	"lighting-engine/internal/scheduler"
	"lighting-engine/internal/theme"
)

const version = "1.0.0"

var (
	configPath = "config.yaml"
	envPath    = ".env"
	logLevel   = "INFO"
	logger     *slog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "lighting-engine",
		Short:        "Lighting command and animation engine",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Setup slog
			opts := &slog.HandlerOptions{Level: parseLogLevel(logLevel)}
			logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
			slog.SetDefault(logger)

			if err := config.LoadEnvFile(envPath); err != nil {
				logger.Warn("Ignoring env file", "path", envPath, "error", err)
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", configPath, "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envPath, "env-file", envPath, "Optional dotenv file with LIGHTING_* overrides")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", logLevel, "Log level (DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(frameCmd())
	rootCmd.AddCommand(curveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the lighting engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				logger.Error("Failed to load configuration", "error", err, "path", configPath)
				return err
			}
			logger.Info("Configuration is valid",
				"fixtures", len(cfg.Fixtures),
				"groups", len(cfg.Groups),
				"transport", cfg.Transport.Type)
			return nil
		},
	}
}

func frameCmd() *cobra.Command {
	var (
		palettePath string
		at          time.Duration
		brightness  float64
	)

	cmd := &cobra.Command{
		Use:   "frame",
		Short: "Print the instructions of an animated palette at a point in time",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(palettePath)
			if err != nil {
				return err
			}
			p, err := theme.Decode(data)
			if err != nil {
				return err
			}
			frames, skipped, err := p.ParsedKeyframes()
			if err != nil {
				return err
			}
			for _, e := range skipped {
				logger.Warn("Skipping instruction", "error", e)
			}

			ins, done := animation.Frame(frames, p.CycleDuration(), p.Easing, p.Loop, at)

			type output struct {
				theme.Instruction
				Hardware int `json:"hardware_brightness"`
			}
			out := make([]output, len(ins))
			for i, in := range ins {
				out[i] = output{Instruction: in, Hardware: curve.ApplyBrightnessCurve(in.Brightness, 1, brightness)}
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(map[string]interface{}{
				"progress":     animation.Progress(at, p.CycleDuration()),
				"done":         done,
				"instructions": out,
			}); err != nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&palettePath, "palette", "", "Animated palette JSON file")
	cmd.Flags().DurationVar(&at, "at", 0, "Elapsed time (e.g. 5s)")
	cmd.Flags().Float64Var(&brightness, "brightness", 1, "Master brightness (0-1)")
	cmd.MarkFlagRequired("palette")
	return cmd
}

func curveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "curve <individual> [group] [master]",
		Short: "Print the hardware brightness for an individual brightness",
		Args:  cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := []float64{0, 1, 1}
			for i, a := range args {
				v, err := strconv.ParseFloat(a, 64)
				if err != nil {
					return fmt.Errorf("argument %d: %w", i+1, err)
				}
				values[i] = v
			}
			fmt.Println(curve.ApplyBrightnessCurve(values[0], values[1], values[2]))
			return nil
		},
	}
}

func runServer() error {
	logger.Info("Lighting engine starting", "version", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err, "path", configPath)
		return err
	}

	logger.Info("Configuration loaded",
		"fixtures", len(cfg.Fixtures),
		"groups", len(cfg.Groups),
		"http", cfg.Server.HTTP)

	// Setup context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	// MQTT client first: it may also carry fixture commands
	var mqttClient *mqtt.Client
	if cfg.MQTT != nil {
		mqttClient = mqtt.NewClient(cfg.MQTT, logger)
	}

	// Initialize fixture transport
	var transport lights.Transport
	var execClient *lights.ExecClient
	switch cfg.Transport.Type {
	case config.TransportExec:
		execClient = lights.NewExecClient(cfg.Transport, logger)
		execClient.Start()
		transport = execClient
	case config.TransportMQTT:
		transport = mqtt.NewTransport(mqttClient, mqttClient.Prefix(), logger)
	default:
		transport = lights.NewLogTransport(logger)
	}

	// Initialize state cache and dispatcher
	dispatcher := lights.NewDispatcher(fixture.FromConfig(cfg), transport, lights.Options{
		MaxTransition: cfg.MaxTransition(),
		Throttle:      time.Duration(cfg.State.ThrottleMs) * time.Millisecond,
	}, logger)

	// Start periodic refresh if configured
	if cfg.State.RefreshMs > 0 {
		dispatcher.StartRefresh(time.Duration(cfg.State.RefreshMs) * time.Millisecond)
	}

	engine := animation.New(dispatcher, animation.Config{Interval: cfg.Interval()}, logger)

	// Open theme library if configured
	var lib *library.Library
	if cfg.Library.Path != "" {
		lib, err = library.Open(cfg.Library.Path)
		if err != nil {
			logger.Error("Failed to open theme library", "error", err, "path", cfg.Library.Path)
			return err
		}
		defer lib.Close()
	}

	handler := api.NewHandler(dispatcher, engine, lib, cfg.Animation.DefaultBrightness, logger)

	// Resume the last active theme
	if lib != nil {
		if p, err := lib.Active(); err == nil {
			if _, err := handler.Activate(p, nil, false); err != nil {
				logger.Warn("Failed to resume active theme", "theme", p.ID, "error", err)
			} else {
				logger.Info("Resumed active theme", "theme", p.ID, "name", p.Name)
			}
		}
	}

	// Create scheduler if configured
	var sched *scheduler.Scheduler
	if cfg.Schedule != nil && len(cfg.Schedule.Events) > 0 {
		sched, err = scheduler.New(cfg.Schedule, handler, logger)
		if err != nil {
			logger.Error("Failed to create scheduler", "error", err)
			return err
		}
	}

	// Start HTTP server with WebSocket
	httpServer := http.NewServer(cfg.Server.HTTP, dispatcher, handler, logger)
	if sched != nil {
		httpServer.SetScheduler(sched)
	}
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", "error", err)
		return err
	}

	// Start Modbus TCP server if configured
	var modbusServer *modbus.Server
	if cfg.Modbus != nil {
		modbusServer = modbus.NewServer(cfg.Modbus, handler, logger)
		if err := modbusServer.Start(); err != nil {
			logger.Error("Failed to start Modbus server", "error", err)
			return err
		}
	}

	// Start MQTT client if configured
	if mqttClient != nil {
		mqttClient.Attach(handler, dispatcher)
		if err := mqttClient.Start(); err != nil {
			logger.Error("Failed to start MQTT client", "error", err)
			return err
		}
	}

	// Start scheduler if configured
	if sched != nil {
		sched.Start()
	}

	logger.Info("Lighting engine ready",
		"http", cfg.Server.HTTP,
		"transport", cfg.Transport.Type,
		"library", lib != nil,
		"modbus", cfg.Modbus != nil,
		"mqtt", cfg.MQTT != nil,
		"schedule", sched != nil)

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	logger.Info("Initiating graceful shutdown...")

	if sched != nil {
		sched.Stop()
	}

	engine.Stop()
	dispatcher.StopRefresh()

	if mqttClient != nil {
		mqttClient.Stop()
	}

	if modbusServer != nil {
		modbusServer.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if execClient != nil {
		execClient.Stop()
	}

	logger.Info("Lighting engine stopped")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
