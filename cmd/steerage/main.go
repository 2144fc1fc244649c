package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "steerage",
		Short:   "Budget-governed model routing for a personal AI gateway",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newSnapshotCmd(),
		newEventsCmd(),
		newProfileCmd(),
		newModeCmd(),
		newResetCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
