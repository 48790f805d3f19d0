package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parvbhullar/unpod-sub001/pkg/core/call"
	"github.com/parvbhullar/unpod-sub001/pkg/store"
	"github.com/parvbhullar/unpod-sub001/pkg/store/sqlite"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage agent records",
}

var (
	agentHandle    string
	agentToken     string
	agentNumber    string
	agentPrompt    string
	agentGreeting  string
	agentVoice     string
	agentModel     string
	agentKnowledge string
	agentUseRAG    bool
)

var agentAddCmd = &cobra.Command{
	Use:   "add <agent-id>",
	Short: "Create or replace an agent record",
	Args:  cobra.ExactArgs(1),
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

		agent := store.Agent{
			ID:          args[0],
			Handle:      agentHandle,
			Token:       agentToken,
			PhoneNumber: agentNumber,
			Config: call.Config{
				AgentID:      args[0],
				SystemPrompt: agentPrompt,
				Greeting:     agentGreeting,
				TTSVoice:     agentVoice,
				LLMModel:     agentModel,
				UseRAG:       agentUseRAG,
			},
		}
		if agentKnowledge != "" {
			agent.Config.Metadata = map[string]string{"knowledge": agentKnowledge}
		}
		if err := st.PutAgent(cmd.Context(), agent); err != nil {
			return fmt.Errorf("put agent: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "agent %s saved\n", agent.ID)
		return nil
	},
}

func init() {
	agentAddCmd.Flags().StringVar(&agentHandle, "handle", "", "public handle for SDK call resolution")
	agentAddCmd.Flags().StringVar(&agentToken, "token", "", "access token required with the handle")
	agentAddCmd.Flags().StringVar(&agentNumber, "number", "", "inbound phone number owned by this agent")
	agentAddCmd.Flags().StringVar(&agentPrompt, "prompt", "", "system prompt")
	agentAddCmd.Flags().StringVar(&agentGreeting, "greeting", "", "opening line spoken on connect")
	agentAddCmd.Flags().StringVar(&agentVoice, "voice", "", "TTS voice id")
	agentAddCmd.Flags().StringVar(&agentModel, "model", "", "LLM model")
	agentAddCmd.Flags().StringVar(&agentKnowledge, "knowledge", "", "reference notes the agent may ground replies on")
	agentAddCmd.Flags().BoolVar(&agentUseRAG, "rag", false, "include the knowledge notes in reply generation")

	agentCmd.AddCommand(agentAddCmd)
}
