package library

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// indexTimeLayout is fixed-width so created_at sorts lexically.
const indexTimeLayout = "2006-01-02T15:04:05.000000000Z"

// Index mirrors record status and case-folded snippet text into sqlite so
// listing and search do not have to read every record from disk.
type Index struct {
	conn *sql.DB
}

func NewIndex(conn *sql.DB) *Index {
	return &Index{conn: conn}
}

// Match identifies one snippet hit.
type Match struct {
	VideoID   string
	SnippetID string
}

// Put replaces everything indexed for rec.
func (i *Index) Put(ctx context.Context, rec *Record) error {
	tx, err := i.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin index tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO videos (video_id, source_name, status, error_detail, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(video_id) DO UPDATE SET
			source_name = excluded.source_name,
			status = excluded.status,
			error_detail = excluded.error_detail,
			updated_at = excluded.updated_at`,
		rec.VideoID, rec.SourceName, rec.Status, rec.ErrorDetail,
		rec.CreatedAt.UTC().Format(indexTimeLayout), rec.UpdatedAt.UTC().Format(indexTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert video: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM snippets WHERE video_id = ?`, rec.VideoID); err != nil {
		return fmt.Errorf("failed to clear snippets: %w", err)
	}

	for pos, sn := range rec.Snippets {
		m := sn.Metadata
		_, err := tx.ExecContext(ctx, `
			INSERT INTO snippets (video_id, snippet_id, position, title, description,
				product_type, condition, brand, compatibility, intended_use,
				modifications, missing_parts, transcript)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.VideoID, sn.ID, pos, fold(sn.Title), fold(sn.Description),
			foldPtr(m.ProductType), foldPtr(m.Condition), foldPtr(m.Brand),
			foldPtr(m.Compatibility), foldPtr(m.IntendedUse),
			fold(strings.Join(m.Modifications, "\n")), fold(strings.Join(m.MissingParts, "\n")),
			fold(rec.SpanText(sn)),
		)
		if err != nil {
			return fmt.Errorf("failed to index snippet %s: %w", sn.ID, err)
		}
	}

	return tx.Commit()
}

// Reset drops all indexed rows.
func (i *Index) Reset(ctx context.Context) error {
	if _, err := i.conn.ExecContext(ctx, `DELETE FROM snippets`); err != nil {
		return err
	}
	_, err := i.conn.ExecContext(ctx, `DELETE FROM videos`)
	return err
}

// VideoIDs lists indexed videos, oldest first.
func (i *Index) VideoIDs(ctx context.Context) ([]string, error) {
	rows, err := i.conn.QueryContext(ctx, `SELECT video_id FROM videos ORDER BY created_at, video_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Search returns snippet hits for q ordered by video age then snippet
// position. q.Term must be non-empty.
func (i *Index) Search(ctx context.Context, q Query) ([]Match, error) {
	cols := q.columns()
	pattern := "%" + escapeLike(q.Term) + "%"

	conds := make([]string, len(cols))
	args := make([]any, len(cols))
	for n, col := range cols {
		conds[n] = "s." + col + ` LIKE ? ESCAPE '\'`
		args[n] = pattern
	}

	query := `
		SELECT s.video_id, s.snippet_id
		FROM snippets s JOIN videos v ON v.video_id = s.video_id
		WHERE ` + strings.Join(conds, " OR ") + `
		ORDER BY v.created_at, s.video_id, s.position`

	rows, err := i.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search snippets: %w", err)
	}
	defer rows.Close()

	matches := []Match{}
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.VideoID, &m.SnippetID); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func fold(s string) string {
	return strings.ToLower(s)
}

func foldPtr(s *string) string {
	if s == nil {
		return ""
	}
	return strings.ToLower(*s)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
