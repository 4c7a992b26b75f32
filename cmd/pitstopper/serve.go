package main

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/life-stream-dev/pitstopper/internal/config"
	"github.com/life-stream-dev/pitstopper/internal/event"
	"github.com/life-stream-dev/pitstopper/internal/lifecycle"
	"github.com/life-stream-dev/pitstopper/internal/logger"
	"github.com/spf13/cobra"
)

var (
	serveConfigFile string
	servePort       int
	serveWSAddr     string
	serveSimulate   bool
	serveDebug      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the broker",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadServeConfig(cmd)
		if err != nil {
			return err
		}

		level, err := logger.ParseLevel(cfg.Log.Level)
		if err != nil {
			return err
		}
		if cfg.DebugMode {
			level = slog.LevelDebug
		}
		loggerCallback := logger.Init(logger.Options{
			Dir:           cfg.Log.Dir,
			Level:         level,
			Color:         cfg.Log.Color,
			RetentionDays: cfg.Log.RetentionDays,
		})
		logger.Debug("Application initializing...")

		manager := lifecycle.NewManager(cfg)
		if err := manager.Start(cmd.Context()); err != nil {
			logger.FatalF("Error occured while starting broker, details: %v", err)
			_ = loggerCallback.Invoke(cmd.Context())
			return err
		}

		cleaner := event.NewCleaner(10 * time.Second)
		cleaner.Add(manager)
		cleaner.Init(cmd.Context(), loggerCallback)

		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Server running at %s (device %s)\n", manager.Info(), manager.DeviceID())
		<-cleaner.Done()
		return nil
	},
}

// loadServeConfig applies command line overrides on top of the file.
func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(serveConfigFile)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("port") {
		host, _, err := net.SplitHostPort(cfg.Server.TCPAddr)
		if err != nil {
			return nil, fmt.Errorf("server.tcp_addr is invalid: %w", err)
		}
		cfg.Server.TCPAddr = net.JoinHostPort(host, strconv.Itoa(servePort))
	}
	if flags.Changed("ws-addr") {
		cfg.Server.WSAddr = serveWSAddr
	}
	if flags.Changed("simulate") {
		cfg.Location.Simulate = serveSimulate
	}
	if flags.Changed("debug") {
		cfg.DebugMode = serveDebug
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigFile, "config", "c", "config.yaml", "Configuration file, defaults apply when missing")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 1883, "MQTT TCP port (1024-65535)")
	serveCmd.Flags().StringVar(&serveWSAddr, "ws-addr", "", "WebSocket listener address, empty disables it")
	serveCmd.Flags().BoolVar(&serveSimulate, "simulate", false, "Publish simulated location fixes")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	rootCmd.AddCommand(serveCmd)
}
