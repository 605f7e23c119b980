package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/snuttify/snuttify-agent/internal/library"
)

const (
	SnippetSheet = "Snippets"
	unspecified  = "unspecified"
)

var snippetColumns = []string{
	"Video ID", "Source", "Snippet ID", "Title", "Description",
	"Start (s)", "End (s)", "Product type", "Condition", "Brand",
	"Compatibility", "Intended use", "Modifications", "Missing parts", "Transcript",
}

// WriteWorkbook writes one row per snippet across records to w as xlsx.
func WriteWorkbook(w io.Writer, records []*library.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SnippetSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]interface{}, len(snippetColumns))
	for i, c := range snippetColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(SnippetSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	if err := f.SetRowStyle(SnippetSheet, 1, 1, bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	row := 2
	for _, rec := range records {
		for _, sn := range rec.Snippets {
			cell, _ := excelize.CoordinatesToCellName(1, row)
			values := []interface{}{
				rec.VideoID,
				rec.SourceName,
				sn.ID,
				sn.Title,
				sn.Description,
				sn.Start,
				sn.End,
				orUnspecified(sn.Metadata.ProductType),
				orUnspecified(sn.Metadata.Condition),
				orUnspecified(sn.Metadata.Brand),
				orUnspecified(sn.Metadata.Compatibility),
				orUnspecified(sn.Metadata.IntendedUse),
				strings.Join(sn.Metadata.Modifications, "; "),
				strings.Join(sn.Metadata.MissingParts, "; "),
				rec.SpanText(sn),
			}
			if err := f.SetSheetRow(SnippetSheet, cell, &values); err != nil {
				return fmt.Errorf("write row %d: %w", row, err)
			}
			row++
		}
	}

	if err := f.SetColWidth(SnippetSheet, "A", "C", 24); err != nil {
		return err
	}
	if err := f.SetColWidth(SnippetSheet, "D", "E", 48); err != nil {
		return err
	}
	if err := f.SetPanes(SnippetSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func orUnspecified(s *string) string {
	if s == nil {
		return unspecified
	}
	return *s
}
