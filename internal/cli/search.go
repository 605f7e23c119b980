package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snuttify/snuttify-agent/internal/library"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search snippets in the library",
	Long: `Search snippet titles, descriptions, metadata and transcript text.

A "field:term" query narrows the match to that metadata field plus the
title and description. Without a query every video is listed.

Examples:
  snuttify search drill
  snuttify search brand:bosch
  snuttify search "missing_parts:charger"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := ""
	if len(args) == 1 {
		query = args[0]
	}

	a, err := openLibrary(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.store.Search(context.Background(), query)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	printResults(cmd.OutOrStdout(), records, verbose)
	return nil
}

func printResults(w io.Writer, records []*library.Record, showTranscript bool) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}

	for _, rec := range records {
		fmt.Fprintf(w, "%s (%s) [%s]\n", rec.VideoID, rec.SourceName, rec.Status)
		if rec.ErrorDetail != "" {
			fmt.Fprintf(w, "  error: %s\n", rec.ErrorDetail)
		}
		for _, sn := range rec.Snippets {
			fmt.Fprintf(w, "  - %s  %.2fs-%.2fs  %s\n", sn.ID, sn.Start, sn.End, sn.Title)
			if sn.Description != "" {
				fmt.Fprintf(w, "      %s\n", sn.Description)
			}
			if tags := metadataTags(sn.Metadata); tags != "" {
				fmt.Fprintf(w, "      %s\n", tags)
			}
			if showTranscript {
				fmt.Fprintf(w, "      \"%s\"\n", rec.SpanText(sn))
			}
		}
	}
}

func metadataTags(m library.Metadata) string {
	var parts []string
	add := func(name string, v *string) {
		if v != nil && *v != "" {
			parts = append(parts, name+"="+*v)
		}
	}
	add("type", m.ProductType)
	add("brand", m.Brand)
	add("condition", m.Condition)
	add("compatibility", m.Compatibility)
	add("use", m.IntendedUse)
	if len(m.Modifications) > 0 {
		parts = append(parts, "modified="+strings.Join(m.Modifications, ","))
	}
	if len(m.MissingParts) > 0 {
		parts = append(parts, "missing="+strings.Join(m.MissingParts, ","))
	}
	return strings.Join(parts, " ")
}
