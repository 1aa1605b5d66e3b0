package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Diary struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

type Diaries struct {
	db  *sql.DB
	now func() time.Time
}

func (r *Diaries) Add(ctx context.Context, conversationID, content string) (Diary, error) {
	now := r.now()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO diaries (conversation_id, content, created_at) VALUES (?, ?, ?)`,
		conversationID, content, now.UnixMilli())
	if err != nil {
		return Diary{}, fmt.Errorf("failed to insert diary: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Diary{}, fmt.Errorf("failed to read diary id: %w", err)
	}
	return Diary{ID: id, ConversationID: conversationID, Content: content, CreatedAt: now.UTC().Truncate(time.Millisecond)}, nil
}

// List returns the conversation's diaries, newest first.
func (r *Diaries) List(ctx context.Context, conversationID string) ([]Diary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, conversation_id, content, created_at FROM diaries WHERE conversation_id = ? ORDER BY id DESC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query diaries: %w", err)
	}
	defer rows.Close()

	var out []Diary
	for rows.Next() {
		var (
			d       Diary
			created int64
		)
		if err := rows.Scan(&d.ID, &d.ConversationID, &d.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan diary: %w", err)
		}
		d.CreatedAt = fromMillis(created)
		out = append(out, d)
	}
	return out, rows.Err()
}
