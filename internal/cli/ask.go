package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/snuttify/snuttify-agent/internal/analysis"
	"github.com/snuttify/snuttify-agent/internal/library"
	"github.com/snuttify/snuttify-agent/internal/logging"
)

var askLimit int

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the model which library snippets answer a question",
	Long: `Offer library snippets to the analysis model and print the ones it
picks as relevant, most relevant first.

Snippets matching the question in the search index are offered first and
the rest of the library fills up to --limit.

Examples:
  snuttify ask "something to fix a bike with"
  snuttify ask "cordless drill with batteries" -n 20`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().IntVarP(&askLimit, "limit", "n", 50, "max snippets offered to the model")
}

type snippetSearcher interface {
	Search(ctx context.Context, raw string) ([]*library.Record, error)
}

func runAsk(cmd *cobra.Command, args []string) error {
	model, err := analysis.NewOpenAIModel(analysis.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey(),
		BaseURL: cfg.OpenAIBaseURL(),
		Model:   cfg.AnalysisModel(),
	})
	if err != nil {
		return fmt.Errorf("ask needs an analysis model: %w", err)
	}

	a, err := openLibrary(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ranker := analysis.NewRanker(model, logging.WithComponent(logger, "ask"))
	return ask(context.Background(), cmd.OutOrStdout(), a.store, ranker, args[0], askLimit)
}

func ask(ctx context.Context, w io.Writer, lib snippetSearcher, ranker *analysis.Ranker, question string, limit int) error {
	hits, err := lib.Search(ctx, question)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	rest, err := lib.Search(ctx, "")
	if err != nil {
		return fmt.Errorf("list library: %w", err)
	}

	candidates := analysis.Candidates(append(hits, rest...), limit)
	if len(candidates) == 0 {
		fmt.Fprintln(w, "No snippets in the library.")
		return nil
	}

	picked, err := ranker.Rank(ctx, question, candidates)
	if err != nil {
		return err
	}
	printRanked(w, picked, verbose)
	return nil
}

func printRanked(w io.Writer, picked []analysis.Candidate, showTranscript bool) {
	if len(picked) == 0 {
		fmt.Fprintln(w, "No matching snippets.")
		return
	}
	for i, c := range picked {
		fmt.Fprintf(w, "%d. %s  %.2fs-%.2fs  %s (%s)\n", i+1, c.ID, c.Start, c.End, c.Title, c.SourceName)
		if c.Description != "" {
			fmt.Fprintf(w, "      %s\n", c.Description)
		}
		if showTranscript {
			fmt.Fprintf(w, "      \"%s\"\n", c.Transcript)
		}
	}
}
