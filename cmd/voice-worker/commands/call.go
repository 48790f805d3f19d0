package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parvbhullar/unpod-sub001/pkg/store/sqlite"
)

var callCmd = &cobra.Command{
	Use:   "call <agent-id> <phone-number>",
	Short: "Enqueue an outbound call task",
	Long: `Creates a call task for the given agent and phone number. A running
worker picks the task up on its next sweep.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := sqlite.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		task, err := st.CreateTask(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "task %s (thread %s) queued for %s\n", task.ID, task.ThreadID, task.PhoneNumber)
		return nil
	},
}
