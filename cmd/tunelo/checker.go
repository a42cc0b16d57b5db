package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/proxyworks/tunelo/internal/checker"
	"github.com/proxyworks/tunelo/internal/config"
	"github.com/proxyworks/tunelo/internal/hostaddr"
	"github.com/proxyworks/tunelo/internal/metrics"
)

func proxyCheckerCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "proxy-checker",
		Short: "Probe liveness and reachability of configured proxy servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			strategies := make([]hostaddr.ProxyStrategy, 0, len(cfg.Checker.ProxyServers))
			for _, raw := range cfg.Checker.ProxyServers {
				h, err := hostaddr.ParseProxyHost(raw)
				if err != nil {
					return fmt.Errorf("proxy-checker: %w", err)
				}
				strategies = append(strategies, hostaddr.Single(h))
			}
			if len(strategies) == 0 {
				return fmt.Errorf("proxy-checker: no proxy_servers configured in %s", configPath)
			}

			probers, err := buildProbers(cfg.Checker)
			if err != nil {
				return err
			}

			c := &checker.Checker{
				ParallelCount: cfg.Checker.ParallelCount,
				ProxyServers:  strategies,
				Probers:       probers,
				ProbeTimeout:  cfg.Checker.ProbeTimeout,
				Metrics:       metrics.Default(),
			}

			reports, err := c.Run(context.Background())
			if err != nil {
				return fmt.Errorf("proxy-checker: %w", err)
			}

			printReports(reports)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "path to config file")
	return cmd
}

func buildProbers(cfg config.CheckerConfig) ([]checker.Prober, error) {
	var probers []checker.Prober
	for _, kind := range cfg.Probers {
		switch kind {
		case "liveness":
			// Liveness always runs first; it is not a configurable Prober.
		case "basic":
			if cfg.BasicDestination == "" {
				return nil, fmt.Errorf("proxy-checker: basic_destination required for the \"basic\" prober")
			}
			dest, err := parseDestination(cfg.BasicDestination)
			if err != nil {
				return nil, err
			}
			probers = append(probers, checker.BasicProber{Destination: dest})
		case "http":
			if cfg.HTTPURL == "" {
				return nil, fmt.Errorf("proxy-checker: http_url required for the \"http\" prober")
			}
			probers = append(probers, checker.HTTPProber{
				Method:       cfg.HTTPMethod,
				URL:          cfg.HTTPURL,
				ExpectedCode: cfg.HTTPExpectedCode,
			})
		default:
			return nil, fmt.Errorf("proxy-checker: unknown prober %q", kind)
		}
	}
	return probers, nil
}

// printReports renders one line per proxy strategy, indenting detail
// lines when stdout is a terminal, and a humanized summary count.
func printReports(reports []checker.ProxyReport) {
	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	indent := "  "
	if !interactive {
		indent = ""
	}

	alive := 0
	for _, r := range reports {
		status := "DOWN"
		if r.Alive() {
			status = "UP"
			alive++
		}
		fmt.Printf("%-8s %s\n", status, r.Strategy.HostAddress().String())
		for _, report := range r.Reports {
			fmt.Printf("%s%s\n", indent, report.String())
		}
	}

	fmt.Printf("\nchecked %s proxies (%s up)\n", humanize.Comma(int64(len(reports))), humanize.Comma(int64(alive)))
}
