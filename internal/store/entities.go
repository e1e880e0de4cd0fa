package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/syui/aigpt/internal/errs"
)

// Entity kinds persisted by the core.
const (
	KindRelationship   = "relationship"
	KindFortune        = "fortune"
	KindTask           = "scheduler_task"
	KindMaintenanceRun = "maintenance_run"
)

// Entity is one stored document as raw JSON.
type Entity struct {
	Kind      string
	Key       string
	Value     json.RawMessage
	UpdatedAt int64
}

// Decode unmarshals the entity value into dest.
func (e Entity) Decode(dest any) error {
	if err := json.Unmarshal(e.Value, dest); err != nil {
		return errs.E(errs.Corrupt, fmt.Sprintf("decode %s/%s", e.Kind, e.Key), err)
	}
	return nil
}

// Get loads the entity (kind, key) into dest. It reports false when the
// entity does not exist.
func (db *DB) Get(kind, key string, dest any) (bool, error) {
	var raw string
	err := db.QueryRow(`SELECT value FROM entities WHERE kind = ? AND key = ?`, kind, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errs.E(errs.Persist, "get "+kind, err)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, errs.E(errs.Corrupt, fmt.Sprintf("decode %s/%s", kind, key), err)
	}
	return true, nil
}

// Put writes v as the whole value of (kind, key). The write is a single
// statement, so readers see either the old or the new document.
// Existing rows keep their position in ListKind order.
func (db *DB) Put(kind, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errs.E(errs.InvalidInput, "encode "+kind, err)
	}
	_, err = db.Exec(`
		INSERT INTO entities (kind, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, kind, key, string(data), time.Now().UnixMilli())
	if err != nil {
		return errs.E(errs.Persist, "put "+kind, err)
	}
	return nil
}

// PutIfAbsent writes v only when (kind, key) does not exist yet.
// It reports whether the write happened.
func (db *DB) PutIfAbsent(kind, key string, v any) (bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return false, errs.E(errs.InvalidInput, "encode "+kind, err)
	}
	res, err := db.Exec(`
		INSERT OR IGNORE INTO entities (kind, key, value, updated_at)
		VALUES (?, ?, ?, ?)
	`, kind, key, string(data), time.Now().UnixMilli())
	if err != nil {
		return false, errs.E(errs.Persist, "put "+kind, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListKind returns every entity of kind in insertion order.
func (db *DB) ListKind(kind string) ([]Entity, error) {
	rows, err := db.Query(`
		SELECT kind, key, value, updated_at FROM entities
		WHERE kind = ? ORDER BY rowid ASC
	`, kind)
	if err != nil {
		return nil, errs.E(errs.Persist, "list "+kind, err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var e Entity
		var raw string
		if err := rows.Scan(&e.Kind, &e.Key, &raw, &e.UpdatedAt); err != nil {
			return nil, errs.E(errs.Persist, "scan "+kind, err)
		}
		e.Value = json.RawMessage(raw)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.E(errs.Persist, "list "+kind, err)
	}
	return out, nil
}

// CountKind returns the number of entities of kind.
func (db *DB) CountKind(kind string) (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM entities WHERE kind = ?`, kind).Scan(&n); err != nil {
		return 0, errs.E(errs.Persist, "count "+kind, err)
	}
	return n, nil
}

// Delete removes (kind, key). It reports whether a row was removed.
func (db *DB) Delete(kind, key string) (bool, error) {
	res, err := db.Exec(`DELETE FROM entities WHERE kind = ? AND key = ?`, kind, key)
	if err != nil {
		return false, errs.E(errs.Persist, "delete "+kind, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
