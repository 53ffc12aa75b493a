package main

import (
	"github.com/spf13/cobra"
)

type serverFlags struct {
	port     int
	logLevel string
}

func rootCmd() *cobra.Command {
	flags := &serverFlags{}

	c := &cobra.Command{
		Use:          "gatekeeper",
		Short:        "Single-flight job gatekeeper for a lip-sync inference backend",
		Example:      "gatekeeper --port 7861",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), flags)
		},
	}

	c.Flags().IntVar(&flags.port, "port", 0, "HTTP listen port (overrides GATEKEEPER_PORT)")
	c.Flags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides GATEKEEPER_LOG_LEVEL)")

	return c
}
