package main

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/proxyworks/tunelo/internal/metrics"
)

// listener is the minimal shape multiProxyCmd drives: both socks.Server
// and httpconn.Server satisfy it.
type listener interface {
	Start() error
	Stop() error
	Addr() net.Addr
}

func multiProxyCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "multi-proxy",
		Short: "Run every enabled listener (socks, http) concurrently",
		Long: `multi-proxy starts whichever of the socks and http listeners are
enabled in the config file and runs them concurrently, aggregating
per-listener errors into a single error on exit, per spec.md §7's
"Collection errors" rule.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			logger := buildLogger(cfg.Logging)
			m := metrics.Default()
			f := buildFilter(cfg.Filter)

			var listeners []listener
			if cfg.SOCKS.Enabled {
				listeners = append(listeners, buildSOCKSServer(cfg, logger, m, f))
			}
			if cfg.HTTP.Enabled {
				listeners = append(listeners, buildHTTPServer(cfg, logger, m, f))
			}
			if len(listeners) == 0 {
				return fmt.Errorf("multi-proxy: no listener enabled in %s", configPath)
			}

			if err := startAll(listeners, logger); err != nil {
				stopAll(listeners, logger)
				return err
			}

			waitForShutdown()
			return stopAll(listeners, logger)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "path to config file")
	return cmd
}

func startAll(listeners []listener, logger *slog.Logger) error {
	var g errgroup.Group
	for _, l := range listeners {
		l := l
		g.Go(func() error {
			if err := l.Start(); err != nil {
				return err
			}
			logger.Info("listener started", "addr", l.Addr())
			return nil
		})
	}
	return g.Wait()
}

func stopAll(listeners []listener, logger *slog.Logger) error {
	var g errgroup.Group
	for _, l := range listeners {
		l := l
		g.Go(l.Stop)
	}
	if err := g.Wait(); err != nil {
		logger.Error("error stopping listeners", "error", err)
		return err
	}
	return nil
}
