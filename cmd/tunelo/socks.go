package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/proxyworks/tunelo/internal/config"
	"github.com/proxyworks/tunelo/internal/metrics"
)

func socksServerCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "socks-server",
		Short: "Run the SOCKS4a/SOCKS5 proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if !cfg.SOCKS.Enabled {
				return fmt.Errorf("socks-server: socks_server.enabled is false in %s", configPath)
			}

			logger := buildLogger(cfg.Logging)
			m := metrics.Default()
			f := buildFilter(cfg.Filter)

			server := buildSOCKSServer(cfg, logger, m, f)
			if err := server.Start(); err != nil {
				return fmt.Errorf("socks-server: %w", err)
			}
			logger.Info("socks server listening", "addr", server.Addr())

			waitForShutdown()
			return server.Stop()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "path to config file")
	return cmd
}

// loadConfig loads path if it exists, falling back to config.Default().
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		return config.Default(), nil
	}
	return config.Load(path)
}

// waitForShutdown blocks until SIGINT or SIGTERM is received.
func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
