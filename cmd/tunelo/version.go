package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tunelo version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if term.IsTerminal(int(os.Stdout.Fd())) {
				fmt.Printf("tunelo %s (%s/%s)\n", Version, runtime.GOOS, runtime.GOARCH)
				return nil
			}
			fmt.Println(Version)
			return nil
		},
	}
}
