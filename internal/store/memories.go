package store

import (
	"time"

	"github.com/syui/aigpt/internal/errs"
)

// maxMemorySize caps the stored content of one conversation turn.
const maxMemorySize = 4 * 1024

// Memory is one remembered conversation turn with a user.
type Memory struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	Content    string    `json:"content"`
	Importance float64   `json:"importance"`
	CreatedAt  time.Time `json:"created_at"`
}

// AddMemory stores a conversation turn for userID. Content past 4KB is
// truncated.
func (db *DB) AddMemory(userID, content string, importance float64, at time.Time) (int64, error) {
	if len(content) > maxMemorySize {
		content = content[:maxMemorySize]
	}
	res, err := db.Exec(`
		INSERT INTO memories (user_id, content, importance, created_at)
		VALUES (?, ?, ?, ?)
	`, userID, content, importance, at.UnixMilli())
	if err != nil {
		return 0, errs.E(errs.Persist, "add memory", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// RecentMemories returns up to limit memories of userID, newest first.
func (db *DB) RecentMemories(userID string, limit int) ([]Memory, error) {
	rows, err := db.Query(`
		SELECT id, user_id, content, importance, created_at
		FROM memories WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, errs.E(errs.Persist, "recent memories", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var m Memory
		var created int64
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &m.Importance, &created); err != nil {
			return nil, errs.E(errs.Persist, "scan memory", err)
		}
		m.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.E(errs.Persist, "recent memories", err)
	}
	return out, nil
}

// CountMemories returns how many memories are kept for userID.
func (db *DB) CountMemories(userID string) (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM memories WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, errs.E(errs.Persist, "count memories", err)
	}
	return n, nil
}

// ForgetMemories deletes the memories of userID created before cutoff whose
// importance is at most floor, and returns how many went.
func (db *DB) ForgetMemories(userID string, cutoff time.Time, floor float64) (int64, error) {
	res, err := db.Exec(`
		DELETE FROM memories WHERE user_id = ? AND created_at < ? AND importance <= ?
	`, userID, cutoff.UnixMilli(), floor)
	if err != nil {
		return 0, errs.E(errs.Persist, "forget memories", err)
	}
	return res.RowsAffected()
}
