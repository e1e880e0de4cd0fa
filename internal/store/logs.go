package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/syui/aigpt/internal/errs"
)

// Log streams.
const (
	StreamTransmissions    = "transmissions"
	StreamSchedulerHistory = "scheduler_history"
)

// LogRecord is one entry of an append-only stream.
type LogRecord struct {
	ID        int64
	Stream    string
	Subject   string
	Tag       string
	Value     json.RawMessage
	CreatedAt time.Time
}

// Decode unmarshals the record value into dest.
func (r LogRecord) Decode(dest any) error {
	if err := json.Unmarshal(r.Value, dest); err != nil {
		return errs.E(errs.Corrupt, fmt.Sprintf("decode %s#%d", r.Stream, r.ID), err)
	}
	return nil
}

// LogQuery filters a stream. Zero fields do not filter.
type LogQuery struct {
	Subject string
	Tag     string
	Since   time.Time // inclusive
	Until   time.Time // exclusive
	Limit   int
	Newest  bool // newest first
}

// AppendLog appends v to stream and returns the new record id.
func (db *DB) AppendLog(stream, subject, tag string, at time.Time, v any) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, errs.E(errs.InvalidInput, "encode "+stream, err)
	}
	res, err := db.Exec(`
		INSERT INTO logs (stream, subject, tag, value, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, stream, subject, tag, string(data), at.UnixMilli())
	if err != nil {
		return 0, errs.E(errs.Persist, "append "+stream, err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

func (q LogQuery) where(stream string) (string, []any) {
	clauses := []string{"stream = ?"}
	args := []any{stream}
	if q.Subject != "" {
		clauses = append(clauses, "subject = ?")
		args = append(args, q.Subject)
	}
	if q.Tag != "" {
		clauses = append(clauses, "tag = ?")
		args = append(args, q.Tag)
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	if !q.Until.IsZero() {
		clauses = append(clauses, "created_at < ?")
		args = append(args, q.Until.UnixMilli())
	}
	return strings.Join(clauses, " AND "), args
}

// QueryLog returns records of stream matching q, oldest first unless
// q.Newest is set.
func (db *DB) QueryLog(stream string, q LogQuery) ([]LogRecord, error) {
	where, args := q.where(stream)
	order := "ASC"
	if q.Newest {
		order = "DESC"
	}
	query := fmt.Sprintf(`
		SELECT id, stream, subject, tag, value, created_at FROM logs
		WHERE %s ORDER BY id %s`, where, order)
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, errs.E(errs.Persist, "query "+stream, err)
	}
	defer rows.Close()

	var out []LogRecord
	for rows.Next() {
		var r LogRecord
		var raw string
		var created int64
		if err := rows.Scan(&r.ID, &r.Stream, &r.Subject, &r.Tag, &raw, &created); err != nil {
			return nil, errs.E(errs.Persist, "scan "+stream, err)
		}
		r.Value = json.RawMessage(raw)
		r.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.E(errs.Persist, "query "+stream, err)
	}
	return out, nil
}

// CountLog counts records of stream matching q. Limit and order are ignored.
func (db *DB) CountLog(stream string, q LogQuery) (int, error) {
	where, args := q.where(stream)
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM logs WHERE "+where, args...).Scan(&n); err != nil {
		return 0, errs.E(errs.Persist, "count "+stream, err)
	}
	return n, nil
}

// CountLogByTag groups the records of stream matching q by tag.
func (db *DB) CountLogByTag(stream string, q LogQuery) (map[string]int, error) {
	where, args := q.where(stream)
	rows, err := db.Query("SELECT tag, COUNT(*) FROM logs WHERE "+where+" GROUP BY tag", args...)
	if err != nil {
		return nil, errs.E(errs.Persist, "count "+stream, err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var tag string
		var n int
		if err := rows.Scan(&tag, &n); err != nil {
			return nil, errs.E(errs.Persist, "scan "+stream, err)
		}
		out[tag] = n
	}
	return out, rows.Err()
}

// TrimLog keeps only the newest keep records of stream and returns how many
// were removed.
func (db *DB) TrimLog(stream string, keep int) (int64, error) {
	res, err := db.Exec(`
		DELETE FROM logs WHERE stream = ? AND id NOT IN (
			SELECT id FROM logs WHERE stream = ? ORDER BY id DESC LIMIT ?
		)
	`, stream, stream, keep)
	if err != nil {
		return 0, errs.E(errs.Persist, "trim "+stream, err)
	}
	return res.RowsAffected()
}
