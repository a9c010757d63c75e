package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/mindmate/internal/corpus"
)

var corpusTopK int

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Build and search the knowledge corpus",
}

var corpusBuildCmd = &cobra.Command{
	Use:   "build <path>",
	Short: "Rebuild the corpus from a file or directory",
	Long: `Chunk and embed a text or Markdown source and replace the current corpus.

The path may be a single file or a directory of .md, .markdown and .txt files.
The previous corpus stays in place until every chunk has been embedded.

Examples:
  mindmate corpus build ./knowledge.txt
  mindmate corpus build ./docs/psychology/`,
	Args: cobra.ExactArgs(1),
	RunE: runCorpusBuild,
}

var corpusSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the corpus by similarity",
	Long: `Print the corpus chunks most similar to a query.

Examples:
  mindmate corpus search "coping with anxiety"
  mindmate corpus search -k 5 "sleep problems"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCorpusSearch,
}

func runCorpusBuild(cmd *cobra.Command, args []string) error {
	if remote() {
		return fmt.Errorf("corpus build runs locally; omit --server")
	}
	ctx := cmd.Context()
	path := args[0]

	a, err := getApp(ctx)
	if err != nil {
		return err
	}

	build := func(ctx context.Context, progress corpus.ProgressFunc) (*corpus.BuildResult, error) {
		return a.Builder.Build(ctx, path, progress)
	}

	if term.IsTerminal(int(os.Stdout.Fd())) && !verbose {
		_, err := RunBuildProgress(ctx, path, build)
		return err
	}

	out := cmd.OutOrStdout()
	last := -10
	result, err := build(ctx, func(done, total int) {
		if total == 0 {
			return
		}
		pct := done * 100 / total
		if pct/10 != last/10 {
			fmt.Fprintf(out, "embedded %d/%d chunks\n", done, total)
			last = pct
		}
	})
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	fmt.Fprint(out, formatBuildResult(result))
	return nil
}

func runCorpusSearch(cmd *cobra.Command, args []string) error {
	if remote() {
		return fmt.Errorf("corpus search runs locally; omit --server")
	}
	ctx := cmd.Context()
	query := strings.Join(args, " ")

	a, err := getApp(ctx)
	if err != nil {
		return err
	}

	chunks, err := a.Corpus.Search(ctx, query, corpusTopK)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(chunks) == 0 {
		fmt.Fprintln(out, "No matching corpus chunks.")
		return nil
	}
	for i, c := range chunks {
		fmt.Fprintf(out, "%s\n%s\n\n", defaultTheme.statusStyle().Render(fmt.Sprintf("[%d]", i+1)), c)
	}
	return nil
}

func init() {
	corpusSearchCmd.Flags().IntVarP(&corpusTopK, "top-k", "k", 0, "number of chunks (default from MINDMATE_CORPUS_TOP_K)")

	corpusCmd.AddCommand(corpusBuildCmd)
	corpusCmd.AddCommand(corpusSearchCmd)
}
