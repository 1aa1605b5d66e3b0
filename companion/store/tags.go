package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Tags is the memory tag ledger: the text behind every long-term label of a
// conversation. The vector index only holds label embeddings; fragments are
// read back from here.
type Tags struct {
	db  *sql.DB
	now func() time.Time
}

// Labels lists the conversation's labels in creation order.
func (r *Tags) Labels(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT label FROM memory_tags WHERE conversation_id = ? ORDER BY id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query labels: %w", err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// Append adds text to the fragment behind label, creating the tag when it is new.
func (r *Tags) Append(ctx context.Context, conversationID, label, text string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO memory_tags (conversation_id, label, content, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(conversation_id, label) DO UPDATE SET
		   content = memory_tags.content || char(10) || excluded.content,
		   updated_at = excluded.updated_at`,
		conversationID, label, text, r.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to append to tag %q: %w", label, err)
	}
	return nil
}

// Fragments returns the text behind each requested label. Unknown labels are
// absent from the result.
func (r *Tags) Fragments(ctx context.Context, conversationID string, labels []string) (map[string]string, error) {
	out := make(map[string]string, len(labels))
	if len(labels) == 0 {
		return out, nil
	}

	args := make([]any, 0, len(labels)+1)
	args = append(args, conversationID)
	for _, l := range labels {
		args = append(args, l)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(labels)), ",")

	rows, err := r.db.QueryContext(ctx,
		`SELECT label, content FROM memory_tags WHERE conversation_id = ? AND label IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fragments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var label, content string
		if err := rows.Scan(&label, &content); err != nil {
			return nil, fmt.Errorf("failed to scan fragment: %w", err)
		}
		out[label] = content
	}
	return out, rows.Err()
}
