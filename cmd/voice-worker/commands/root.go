package commands

import (
	"github.com/spf13/cobra"

	"github.com/parvbhullar/unpod-sub001/pkg/worker/config"
)

var rootCmd = &cobra.Command{
	Use:   "voice-worker",
	Short: "Worker process for synthetic-agent phone calls",
	Long: `voice-worker runs synthetic-agent phone conversations.

The worker sweeps the task store for due outbound calls, dials each one
into a room, and hosts the call session until it reaches a terminal
status. Results, transcripts, and metrics are persisted to sqlite.

Commands:
  serve    - run the worker loop until SIGINT/SIGTERM
  prewarm  - load the shared service cache and exit
  call     - enqueue an outbound call task
  agent    - manage agent records

Configuration comes from environment variables; a .env file in the
working directory is loaded first when present.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.ApplyEnvFile(".env")
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(prewarmCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(agentCmd)
}
