package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "questd",
		Short: "questd - in-memory multi-tenant job queue server",
		Long:  "questd runs the job-queue network front end and queue manager described by the HELLO/ADDJOB/GETJOB/ACKJOB/STATQUE/DELQUE wire protocol.",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a JSON or YAML config file (optional, flags override)")

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
