package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/kbsearch/kbsearch/internal/llm"
	"github.com/kbsearch/kbsearch/internal/search"
)

// newExpandCmd creates the expand command.
func newExpandCmd() *cobra.Command {
	var history []string

	cmd := &cobra.Command{
		Use:   "expand [query]",
		Short: "Rewrite a query into standalone search variants",
		Long: `Ask the configured model to rewrite the query into several
standalone search queries, resolving references against the optional
conversation history. Prints one variant per line.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")

			var messages []llm.Message
			for i, h := range history {
				role := llm.RoleUser
				if i%2 == 1 {
					role = llm.RoleAssistant
				}
				messages = append(messages, llm.Message{Role: role, Content: h})
			}

			expander := search.NewExpander(buildCompleter(cfg),
				search.WithExpansionCount(cfg.Search.ExtensionCount))
			expansions, usage, err := expander.Expand(cmd.Context(), query, messages)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, q := range expansions {
				if _, err := out.Write([]byte(q + "\n")); err != nil {
					return err
				}
			}
			cmd.PrintErrf("tokens: %d in, %d out\n", usage.InputTokens, usage.OutputTokens)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&history, "history", nil,
		"Conversation turns, alternating user and assistant")
	return cmd
}
