package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/companion-graph/companion/workflow"
)

// SQLStore persists checkpoints in the checkpoints table created by the db
// migrations. The version column gives optimistic concurrency; updated_at is
// unix milliseconds.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

func (s *SQLStore) Load(ctx context.Context, threadID string) (Checkpoint, bool, error) {
	var (
		data      string
		version   int64
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT state, version, updated_at FROM checkpoints WHERE thread_id = ?`, threadID,
	).Scan(&data, &version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{ThreadID: threadID}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("load checkpoint %s: %w", threadID, err)
	}

	st, err := decodeState([]byte(data))
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
	}
	return Checkpoint{ThreadID: threadID, State: st, Version: version, UpdatedAt: time.UnixMilli(updatedAt).UTC()}, true, nil
}

func (s *SQLStore) Save(ctx context.Context, threadID string, st workflow.State, expect int64) (int64, error) {
	data, err := encodeState(st)
	if err != nil {
		return 0, fmt.Errorf("encode checkpoint %s: %w", threadID, err)
	}
	next := expect + 1
	now := s.now().UnixMilli()

	var res sql.Result
	if expect == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO checkpoints (thread_id, state, version, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(thread_id) DO NOTHING`,
			threadID, string(data), next, now)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE checkpoints SET state = ?, version = ?, updated_at = ? WHERE thread_id = ? AND version = ?`,
			string(data), next, now, threadID, expect)
	}
	if err != nil {
		return 0, fmt.Errorf("save checkpoint %s: %w", threadID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("save checkpoint %s: %w", threadID, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: %s expected version %d", ErrVersionConflict, threadID, expect)
	}
	return next, nil
}

var _ Store = (*SQLStore)(nil)
