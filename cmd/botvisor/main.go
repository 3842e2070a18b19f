package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/botvisor/pkg/client"
)

func main() {
	root := buildRoot(command{out: os.Stdout})
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands.
func buildRoot(cmd command) *cobra.Command {
	clientFlags := &ClientFlags{}
	statusFlags := &StatusFlags{}
	serveFlags := &ServeFlags{}

	root := &cobra.Command{
		Use:   "botvisor",
		Short: "Supervisor for an external messaging-bot worker",
		Long: `botvisor launches, monitors and tears down a messaging-bot worker
(for example "node chatbot.js") and reports its pairing state.

Examples:
  botvisor serve botvisor.toml       # run the HTTP API
  botvisor start                     # launch the worker through the API
  botvisor status --qr-out qr.png    # show status and save a pending QR code
  botvisor disconnect                # log out and delete the session`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&clientFlags.APIUrl, "api-url", client.DefaultBaseURL, "botvisor API URL including the base path")
	root.PersistentFlags().DurationVar(&clientFlags.APITimeout, "api-timeout", 30*time.Second, "API request timeout")

	root.AddCommand(
		createServeCommand(cmd, serveFlags),
		createStatusCommand(cmd, clientFlags, statusFlags),
		createLifecycleCommand(cmd, clientFlags, "start", "Start the worker", (*client.Client).Start),
		createLifecycleCommand(cmd, clientFlags, "stop", "Stop the worker and remove its QR and status files", (*client.Client).Stop),
		createLifecycleCommand(cmd, clientFlags, "restart", "Stop the worker if running, then start it", (*client.Client).Restart),
		createLifecycleCommand(cmd, clientFlags, "clear-qr", "Remove the QR image", (*client.Client).ClearQR),
		createDisconnectCommand(cmd, clientFlags),
	)
	return root
}

func createServeCommand(cmd command, flags *ServeFlags) *cobra.Command {
	c := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the HTTP API until interrupted",
		Long: `Run the HTTP API until SIGINT or SIGTERM. The worker keeps running
after the server exits.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if len(args) == 1 {
				flags.ConfigPath = args[0]
			}
			return cmd.Serve(c.Context(), *flags)
		},
	}
	c.Flags().StringVar(&flags.Listen, "listen", "", "listen address (overrides server.listen)")
	return c
}

func createStatusCommand(cmd command, cf *ClientFlags, flags *StatusFlags) *cobra.Command {
	c := &cobra.Command{
		Use:   "status",
		Short: "Show the reconciled worker status",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return cmd.Status(c.Context(), *cf, *flags)
		},
	}
	c.Flags().StringVar(&flags.QROut, "qr-out", "", "write a pending QR code PNG to this file")
	return c
}

func createLifecycleCommand(cmd command, cf *ClientFlags, use, short string, op lifecycleOp) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return cmd.Run(c.Context(), *cf, op)
		},
	}
}

func createDisconnectCommand(cmd command, cf *ClientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Log the worker out and delete its session",
		Long: `Stop the worker if running, then delete the QR image, the status file
and the authentication cache. The worker must pair again afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return cmd.Disconnect(c.Context(), *cf)
		},
	}
}
