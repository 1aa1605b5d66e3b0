package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/companion-graph/companion"
	"github.com/ZanzyTHEbar/companion-graph/companion/workflow"
)

// Character is one persona a user converses with.
type Character struct {
	ID          int64     `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	FirstLine   string    `json:"first_line"`
	AvatarPath  string    `json:"avatar_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ConversationID is the chat thread id of the character.
func (c Character) ConversationID() string { return companion.ChatThreadID(c.ID) }

type Characters struct {
	db  *sql.DB
	now func() time.Time
}

// Create inserts the character and logs its first line as the opening agent
// message of the conversation, in one transaction.
func (r *Characters) Create(ctx context.Context, c Character) (Character, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.OwnerID == "" || c.Name == "" {
		return Character{}, fmt.Errorf("character needs an owner and a name")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Character{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := r.now()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO characters (owner_id, name, description, first_line, avatar_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.OwnerID, c.Name, c.Description, c.FirstLine, c.AvatarPath, now.UnixMilli())
	if err != nil {
		return Character{}, fmt.Errorf("failed to insert character: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return Character{}, fmt.Errorf("failed to read character id: %w", err)
	}

	if c.FirstLine != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_messages (conversation_id, role, content, image_path, created_at) VALUES (?, ?, ?, '', ?)`,
			c.ConversationID(), string(workflow.RoleAgent), c.FirstLine, now.UnixMilli()); err != nil {
			return Character{}, fmt.Errorf("failed to log first line: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Character{}, fmt.Errorf("failed to commit character: %w", err)
	}
	c.CreatedAt = now.UTC().Truncate(time.Millisecond)
	return c, nil
}

// Get looks a character up by id regardless of owner.
func (r *Characters) Get(ctx context.Context, id int64) (Character, error) {
	return r.scanOne(ctx,
		`SELECT id, owner_id, name, description, first_line, avatar_path, created_at FROM characters WHERE id = ?`, id)
}

// GetOwned returns the character only if ownerID owns it. A character owned by
// someone else is reported as ErrNotFound.
func (r *Characters) GetOwned(ctx context.Context, id int64, ownerID string) (Character, error) {
	return r.scanOne(ctx,
		`SELECT id, owner_id, name, description, first_line, avatar_path, created_at FROM characters WHERE id = ? AND owner_id = ?`,
		id, ownerID)
}

// ListOwned returns the characters of one owner, oldest first.
func (r *Characters) ListOwned(ctx context.Context, ownerID string) ([]Character, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner_id, name, description, first_line, avatar_path, created_at FROM characters WHERE owner_id = ? ORDER BY id`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query characters: %w", err)
	}
	defer rows.Close()

	var out []Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating characters: %w", err)
	}
	return out, nil
}

func (r *Characters) scanOne(ctx context.Context, query string, args ...any) (Character, error) {
	c, err := scanCharacter(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Character{}, ErrNotFound
	}
	return c, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCharacter(row rowScanner) (Character, error) {
	var (
		c       Character
		created int64
	)
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Description, &c.FirstLine, &c.AvatarPath, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Character{}, err
		}
		return Character{}, fmt.Errorf("failed to scan character: %w", err)
	}
	c.CreatedAt = fromMillis(created)
	return c, nil
}
