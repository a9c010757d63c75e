package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/mindmate/internal/memory"
	"github.com/raphaelgruber/mindmate/internal/server"
)

var (
	memoryUser    string
	memoryExclude string
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect what is remembered about a user",
}

var memoryFactsCmd = &cobra.Command{
	Use:   "facts",
	Short: "List the facts known about a user",
	Long: `List the facts extracted from a user's earlier messages, oldest first.

Examples:
  mindmate memory facts -u alice
  mindmate --server http://localhost:5555 memory facts -u alice`,
	Args: cobra.NoArgs,
	RunE: runMemoryFacts,
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search a user's conversation memory",
	Long: `Print the earlier utterances and replies most similar to a query.

Examples:
  mindmate memory search -u alice "my sister"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMemorySearch,
}

var memorySummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize the facts known about a user",
	Long: `Ask the model for a short digest of a user's facts.

Examples:
  mindmate memory summary -u alice
  mindmate memory summary -u alice --exclude-session 1a2b3c4d`,
	Args: cobra.NoArgs,
	RunE: runMemorySummary,
}

func memoryNamespace() string {
	if memoryUser == "" {
		return server.DefaultUser
	}
	return memoryUser
}

func runMemoryFacts(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var facts []string
	if remote() {
		var err error
		if facts, err = newClient().Facts(ctx, memoryNamespace()); err != nil {
			return fmt.Errorf("list facts: %w", err)
		}
	} else {
		a, err := getApp(ctx)
		if err != nil {
			return err
		}
		if facts, err = a.Memory.RetrieveFacts(ctx, memoryNamespace(), memory.FactQuery{ExcludeSession: memoryExclude}); err != nil {
			return fmt.Errorf("list facts: %w", err)
		}
	}

	printList(cmd.OutOrStdout(), facts, "No facts known.")
	return nil
}

func runMemorySearch(cmd *cobra.Command, args []string) error {
	if remote() {
		return fmt.Errorf("memory search runs locally; omit --server")
	}
	ctx := cmd.Context()

	a, err := getApp(ctx)
	if err != nil {
		return err
	}
	texts, err := a.Memory.RetrieveRelevant(ctx, memoryNamespace(), strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("search memory: %w", err)
	}

	printList(cmd.OutOrStdout(), texts, "No matching memories.")
	return nil
}

func runMemorySummary(cmd *cobra.Command, args []string) error {
	if remote() {
		return fmt.Errorf("memory summary runs locally; omit --server")
	}
	ctx := cmd.Context()

	a, err := getApp(ctx)
	if err != nil {
		return err
	}

	res := a.Memory.SummarizeFacts(ctx, memoryNamespace(), memoryExclude)
	out := cmd.OutOrStdout()
	switch res.Outcome {
	case memory.OutcomeOK:
		fmt.Fprintln(out, res.Text)
	case memory.OutcomeEmpty:
		fmt.Fprintln(out, "No facts to summarize.")
	default:
		return fmt.Errorf("summarize facts: %w", res.Err)
	}
	return nil
}

func printList(out io.Writer, items []string, empty string) {
	if len(items) == 0 {
		fmt.Fprintln(out, empty)
		return
	}
	for _, item := range items {
		fmt.Fprintf(out, "  • %s\n", item)
	}
}

func init() {
	memoryCmd.PersistentFlags().StringVarP(&memoryUser, "user", "u", "", "user id (default \"anonymous\")")
	memoryFactsCmd.Flags().StringVar(&memoryExclude, "exclude-session", "", "leave out facts learned in this session")
	memorySummaryCmd.Flags().StringVar(&memoryExclude, "exclude-session", "", "leave out facts learned in this session")

	memoryCmd.AddCommand(memoryFactsCmd)
	memoryCmd.AddCommand(memorySearchCmd)
	memoryCmd.AddCommand(memorySummaryCmd)
}
