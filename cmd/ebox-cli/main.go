package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// Version is set at build time
var Version = "dev"

func newRootCmd() *cobra.Command {
	cli := &CLI{
		BaseURL: getEnv("EBOX_URL", "http://localhost:8080"),
		Token:   os.Getenv("EBOX_TOKEN"),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}

	cmd := &cobra.Command{
		Use:   "ebox-cli",
		Short: "ebox-cli - eboxsecure pickup tooling",
		Long: `ebox-cli manages pickup secrets and handoff device credentials, and talks to a
running ebox server.

Environment Variables:
  EBOX_URL    Base URL of the ebox server (default: http://localhost:8080)
  EBOX_TOKEN  Session id or device credential sent as bearer token`,
		SilenceUsage: true,
	}

	fs := cmd.PersistentFlags()
	fs.StringVar(&cli.BaseURL, "url", cli.BaseURL, "base URL of the ebox server")
	fs.StringVar(&cli.Token, "token", cli.Token, "bearer token (session id or device credential)")

	cmd.AddCommand(
		keygenCmd(),
		deviceTokenCmd(),
		inspectCmd(),
		healthCmd(cli),
		issueCmd(cli),
		verifyCmd(cli),
		ordersCmd(cli),
		&cobra.Command{
			Use:   "version",
			Short: "Show CLI version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "ebox-cli %s\n", Version)
			},
		},
	)
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
