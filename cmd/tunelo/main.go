package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "tunelo",
		Short:   "tunelo - a multi-protocol proxy engine",
		Version: Version,
		Long: `tunelo runs SOCKS4a, SOCKS5, and HTTP CONNECT proxy ingress,
a client-side proxy-chain dialer, and a liveness/reachability checker
for upstream proxies.`,
	}

	rootCmd.AddGroup(&cobra.Group{ID: "serve", Title: "Run a server:"})
	rootCmd.AddGroup(&cobra.Group{ID: "client", Title: "Client tools:"})
	rootCmd.AddGroup(&cobra.Group{ID: "admin", Title: "Administration:"})

	for _, c := range []*cobra.Command{socksServerCmd(), httpServerCmd(), multiProxyCmd()} {
		c.GroupID = "serve"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{proxyChainCmd(), proxyCheckerCmd()} {
		c.GroupID = "client"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{versionCmd(), completionsCmd(rootCmd)} {
		c.GroupID = "admin"
		rootCmd.AddCommand(c)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
