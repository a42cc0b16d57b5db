package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/proxyworks/tunelo/internal/client"
	"github.com/proxyworks/tunelo/internal/hostaddr"
)

// proxyChainCmd dials a destination through a single proxy or an
// ordered chain of proxies and pipes the tunnel to stdin/stdout, a
// netcat-through-proxy client tool per spec.md §6's CLI surface.
func proxyChainCmd() *cobra.Command {
	var hops []string
	var destination string

	cmd := &cobra.Command{
		Use:   "proxy-chain",
		Short: "Dial a destination through one or more chained proxies",
		Long: `proxy-chain opens a connection to --destination by walking each
--hop's handshake in turn (socks4a://, socks5://, http:// URLs), then
pipes the resulting tunnel to stdin/stdout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(hops) == 0 {
				return fmt.Errorf("proxy-chain: at least one --hop is required")
			}
			if destination == "" {
				return fmt.Errorf("proxy-chain: --destination is required")
			}

			strategy, err := buildStrategy(hops)
			if err != nil {
				return err
			}

			dest, err := parseDestination(destination)
			if err != nil {
				return err
			}

			connector := client.NewProxyConnector(strategy)
			conn, err := connector.Connect(context.Background(), dest)
			if err != nil {
				return fmt.Errorf("proxy-chain: connect: %w", err)
			}
			defer conn.Close()

			return pipe(conn)
		},
	}

	cmd.Flags().StringSliceVar(&hops, "hop", nil, "proxy hop URL, repeatable for a chain (socks4a://, socks5://, http://)")
	cmd.Flags().StringVar(&destination, "destination", "", "destination host:port to reach through the chain")
	return cmd
}

func buildStrategy(hopURLs []string) (hostaddr.ProxyStrategy, error) {
	hops := make([]hostaddr.ProxyHost, 0, len(hopURLs))
	for _, raw := range hopURLs {
		h, err := hostaddr.ParseProxyHost(raw)
		if err != nil {
			return hostaddr.ProxyStrategy{}, fmt.Errorf("proxy-chain: %w", err)
		}
		hops = append(hops, h)
	}
	if len(hops) == 1 {
		return hostaddr.Single(hops[0]), nil
	}
	return hostaddr.Chain(hops), nil
}

func parseDestination(raw string) (hostaddr.HostAddress, error) {
	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		return hostaddr.HostAddress{}, fmt.Errorf("parse destination %q: %w", raw, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return hostaddr.HostAddress{}, fmt.Errorf("parse destination port %q: %w", portStr, err)
	}
	return hostaddr.NewDomain(strings.TrimSpace(host), uint16(port)).Fit(), nil
}

// pipe copies stdin to conn and conn to stdout until either side closes.
func pipe(conn io.ReadWriteCloser) error {
	done := make(chan error, 2)
	go func() {
		_, err := io.Copy(conn, os.Stdin)
		done <- err
	}()
	go func() {
		_, err := io.Copy(os.Stdout, conn)
		done <- err
	}()
	err1 := <-done
	err2 := <-done
	if err1 != nil {
		return err1
	}
	return err2
}
