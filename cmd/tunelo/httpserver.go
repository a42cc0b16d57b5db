package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/proxyworks/tunelo/internal/metrics"
)

func httpServerCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "http-server",
		Short: "Run the HTTP CONNECT tunneling server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if !cfg.HTTP.Enabled {
				return fmt.Errorf("http-server: http_server.enabled is false in %s", configPath)
			}

			logger := buildLogger(cfg.Logging)
			m := metrics.Default()
			f := buildFilter(cfg.Filter)

			server := buildHTTPServer(cfg, logger, m, f)
			if err := server.Start(); err != nil {
				return fmt.Errorf("http-server: %w", err)
			}
			logger.Info("http connect server listening", "addr", server.Addr())

			waitForShutdown()
			return server.Stop()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "path to config file")
	return cmd
}
