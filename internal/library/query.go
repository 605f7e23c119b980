package library

import "strings"

// searchColumns maps query field names to index columns.
var searchColumns = map[string]string{
	"title":         "title",
	"description":   "description",
	"product_type":  "product_type",
	"condition":     "condition",
	"brand":         "brand",
	"compatibility": "compatibility",
	"intended_use":  "intended_use",
	"modifications": "modifications",
	"missing_parts": "missing_parts",
}

var allColumns = []string{
	"title", "description", "product_type", "condition", "brand",
	"compatibility", "intended_use", "modifications", "missing_parts", "transcript",
}

// Query is a parsed search string. A "field:term" query narrows matching
// to that field plus title and description; anything else is a plain
// substring over every field and the spanned transcript.
type Query struct {
	Field string
	Term  string
}

func ParseQuery(raw string) Query {
	raw = strings.TrimSpace(raw)
	if field, term, ok := strings.Cut(raw, ":"); ok {
		key := strings.ToLower(strings.TrimSpace(field))
		if _, known := searchColumns[key]; known {
			return Query{Field: key, Term: fold(strings.TrimSpace(term))}
		}
	}
	return Query{Term: fold(raw)}
}

func (q Query) IsEmpty() bool {
	return q.Term == ""
}

func (q Query) columns() []string {
	if q.Field == "" {
		return allColumns
	}
	cols := []string{"title", "description"}
	if col := searchColumns[q.Field]; col != "title" && col != "description" {
		cols = append(cols, col)
	}
	return cols
}
