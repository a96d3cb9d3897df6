package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ordino-dev/ordino/pkg/models"
)

// Outcome is one finished task's record, appended after settlement.
type Outcome struct {
	TaskID     string
	Tier       models.Tier
	Success    bool
	Duration   time.Duration
	Subtasks   int
	Downgrades int
	// ErrorKind is the taxonomy kind on failure, empty on success.
	ErrorKind   string
	CompletedAt time.Time
}

// TierHistory summarizes past outcomes of one tier inside a window.
type TierHistory struct {
	Total       int
	Succeeded   int
	SuccessRate float64
	AvgDuration time.Duration
	// AvgSubtasks calibrates decomposition estimates.
	AvgSubtasks float64
}

// RecordOutcome appends a task outcome. The history is append-only.
func (db *DB) RecordOutcome(o Outcome) error {
	if !o.Tier.Valid() {
		return fmt.Errorf("record outcome for %s: invalid tier %q", o.TaskID, o.Tier)
	}
	if o.CompletedAt.IsZero() {
		o.CompletedAt = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO outcomes (task_id, tier, success, duration_ms, subtasks, downgrades, error_kind, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.TaskID, string(o.Tier), boolToInt(o.Success), o.Duration.Milliseconds(),
		o.Subtasks, o.Downgrades, o.ErrorKind, o.CompletedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record outcome for %s: %w", o.TaskID, err)
	}
	return nil
}

// TierStats reads the rolled-up history of one tier over the last
// windowDays days. A non-positive window reads all history.
func (db *DB) TierStats(tier models.Tier, windowDays int) (TierHistory, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(success), 0),
		       COALESCE(AVG(duration_ms), 0), COALESCE(AVG(subtasks), 0)
		FROM outcomes WHERE tier = ?`
	args := []any{string(tier)}
	if windowDays > 0 {
		query += " AND completed_at >= ?"
		args = append(args, time.Now().UTC().AddDate(0, 0, -windowDays))
	}

	var h TierHistory
	var avgMs float64
	row := db.QueryRow(query, args...)
	if err := row.Scan(&h.Total, &h.Succeeded, &avgMs, &h.AvgSubtasks); err != nil {
		if err == sql.ErrNoRows {
			return TierHistory{}, nil
		}
		return TierHistory{}, fmt.Errorf("tier stats for %s: %w", tier, err)
	}
	if h.Total > 0 {
		h.SuccessRate = float64(h.Succeeded) / float64(h.Total)
		h.AvgDuration = time.Duration(avgMs) * time.Millisecond
	}
	return h, nil
}

// RecentOutcomes returns the newest outcomes, most recent first.
func (db *DB) RecentOutcomes(limit int) ([]Outcome, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT task_id, tier, success, duration_ms, subtasks, downgrades, COALESCE(error_kind, ''), completed_at
		FROM outcomes ORDER BY completed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent outcomes: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		var tier string
		var success, durationMs int64
		if err := rows.Scan(&o.TaskID, &tier, &success, &durationMs, &o.Subtasks, &o.Downgrades, &o.ErrorKind, &o.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Tier = models.Tier(tier)
		o.Success = success != 0
		o.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, o)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
