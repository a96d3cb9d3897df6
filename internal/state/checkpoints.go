package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ordino-dev/ordino/internal/recovery"
)

// SaveCheckpoint writes or replaces the checkpoint for a task.
func (db *DB) SaveCheckpoint(_ context.Context, cp recovery.Checkpoint) error {
	if cp.TaskID == "" {
		return fmt.Errorf("save checkpoint: empty task id")
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO checkpoints (task_id, step, payload, attempt, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			step = excluded.step,
			payload = excluded.payload,
			attempt = excluded.attempt,
			created_at = excluded.created_at`,
		cp.TaskID, cp.Step, cp.Payload, cp.Attempt, cp.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint for %s: %w", cp.TaskID, err)
	}
	return nil
}

// LoadCheckpoint returns the checkpoint for a task, or false if none.
func (db *DB) LoadCheckpoint(_ context.Context, taskID string) (recovery.Checkpoint, bool, error) {
	var cp recovery.Checkpoint
	row := db.QueryRow(`
		SELECT task_id, step, COALESCE(payload, ''), attempt, created_at
		FROM checkpoints WHERE task_id = ?`, taskID)
	err := row.Scan(&cp.TaskID, &cp.Step, &cp.Payload, &cp.Attempt, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return recovery.Checkpoint{}, false, nil
	}
	if err != nil {
		return recovery.Checkpoint{}, false, fmt.Errorf("load checkpoint for %s: %w", taskID, err)
	}
	return cp, true, nil
}

// DeleteCheckpoint discards the checkpoint for a task. Deleting a missing
// checkpoint is a no-op.
func (db *DB) DeleteCheckpoint(_ context.Context, taskID string) error {
	if _, err := db.Exec("DELETE FROM checkpoints WHERE task_id = ?", taskID); err != nil {
		return fmt.Errorf("delete checkpoint for %s: %w", taskID, err)
	}
	return nil
}

var _ recovery.CheckpointStore = (*DB)(nil)
