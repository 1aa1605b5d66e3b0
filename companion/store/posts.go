package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Post is one persisted social-style post ("moment").
type Post struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Caption        string    `json:"caption"`
	Labels         []string  `json:"labels"`
	PostedAt       string    `json:"posted_at"` // free-form time of day chosen by the model
	ImagePath      string    `json:"image_path,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Posts struct {
	db  *sql.DB
	now func() time.Time
}

func (r *Posts) Add(ctx context.Context, p Post) (Post, error) {
	if p.Labels == nil {
		p.Labels = []string{}
	}
	labels, err := json.Marshal(p.Labels)
	if err != nil {
		return Post{}, fmt.Errorf("failed to encode labels: %w", err)
	}
	now := r.now()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO social_posts (conversation_id, caption, labels, posted_at, image_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ConversationID, p.Caption, string(labels), p.PostedAt, p.ImagePath, now.UnixMilli())
	if err != nil {
		return Post{}, fmt.Errorf("failed to insert post: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return Post{}, fmt.Errorf("failed to read post id: %w", err)
	}
	p.CreatedAt = now.UTC().Truncate(time.Millisecond)
	return p, nil
}

// List returns the conversation's posts, newest first.
func (r *Posts) List(ctx context.Context, conversationID string) ([]Post, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, conversation_id, caption, labels, posted_at, image_path, created_at
		 FROM social_posts WHERE conversation_id = ? ORDER BY id DESC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	defer rows.Close()

	var out []Post
	for rows.Next() {
		var (
			p       Post
			labels  string
			created int64
		)
		if err := rows.Scan(&p.ID, &p.ConversationID, &p.Caption, &labels, &p.PostedAt, &p.ImagePath, &created); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		if err := json.Unmarshal([]byte(labels), &p.Labels); err != nil {
			return nil, fmt.Errorf("failed to decode labels of post %d: %w", p.ID, err)
		}
		p.CreatedAt = fromMillis(created)
		out = append(out, p)
	}
	return out, rows.Err()
}
