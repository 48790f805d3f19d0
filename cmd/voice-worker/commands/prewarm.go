package commands

import (
	"github.com/spf13/cobra"

	"github.com/parvbhullar/unpod-sub001/pkg/core/services"
)

var prewarmCmd = &cobra.Command{
	Use:   "prewarm",
	Short: "Load the shared service cache and exit",
	Long: `Loads the pinned service-cache resources (embedding function and
turn-completion checker) and reports whether construction succeeded.
Useful as a deploy-time credential check.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		cache := services.NewCache()
		if err := cache.Prewarm(cmd.Context(), services.PrewarmConfig{OpenAIKey: cfg.OpenAIKey}, logger); err != nil {
			return err
		}
		logger.Info("prewarm complete")
		return nil
	},
}
