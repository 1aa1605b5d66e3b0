package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/companion-graph/companion/workflow"
)

// ChatMessage is one persisted entry of a conversation's full history. Unlike
// short memory it is never pruned.
type ChatMessage struct {
	ID             int64         `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Role           workflow.Role `json:"role"`
	Content        string        `json:"content"`
	ImagePath      string        `json:"image_path,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Message converts the log entry to its short-memory form.
func (m ChatMessage) Message() workflow.Message {
	return workflow.Message{Role: m.Role, Content: m.Content, ImageRef: m.ImagePath}
}

// Messages is the append-only chat history log.
type Messages struct {
	db  *sql.DB
	now func() time.Time
}

func (r *Messages) Append(ctx context.Context, conversationID string, msg workflow.Message) (ChatMessage, error) {
	now := r.now()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_messages (conversation_id, role, content, image_path, created_at) VALUES (?, ?, ?, ?, ?)`,
		conversationID, string(msg.Role), msg.Content, msg.ImageRef, now.UnixMilli())
	if err != nil {
		return ChatMessage{}, fmt.Errorf("failed to append message to %s: %w", conversationID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ChatMessage{}, fmt.Errorf("failed to read message id: %w", err)
	}
	return ChatMessage{
		ID:             id,
		ConversationID: conversationID,
		Role:           msg.Role,
		Content:        msg.Content,
		ImagePath:      msg.ImageRef,
		CreatedAt:      now.UTC().Truncate(time.Millisecond),
	}, nil
}

// History returns the whole log in insertion order.
func (r *Messages) History(ctx context.Context, conversationID string) ([]ChatMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, image_path, created_at
		 FROM chat_messages WHERE conversation_id = ? ORDER BY id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history of %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var (
			m       ChatMessage
			role    string
			created int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.ImagePath, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = workflow.Role(role)
		m.CreatedAt = fromMillis(created)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return out, nil
}

// Recent returns the history as short-memory messages.
func (r *Messages) Recent(ctx context.Context, conversationID string) ([]workflow.Message, error) {
	hist, err := r.History(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	out := make([]workflow.Message, len(hist))
	for i, m := range hist {
		out[i] = m.Message()
	}
	return out, nil
}
