// Package store holds the relational repositories backing characters, chat
// history, the memory tag ledger, diaries and social posts.
package store

import (
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a looked-up row does not exist or is not visible
// to the caller.
var ErrNotFound = errors.New("not found")

// Store groups the repositories over one database handle.
type Store struct {
	Characters *Characters
	Messages   *Messages
	Tags       *Tags
	Diaries    *Diaries
	Posts      *Posts
}

func New(db *sql.DB) *Store {
	return &Store{
		Characters: &Characters{db: db, now: time.Now},
		Messages:   &Messages{db: db, now: time.Now},
		Tags:       &Tags{db: db, now: time.Now},
		Diaries:    &Diaries{db: db, now: time.Now},
		Posts:      &Posts{db: db, now: time.Now},
	}
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
