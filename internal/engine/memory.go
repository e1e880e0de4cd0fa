package engine

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/syui/aigpt/internal/errs"
	"github.com/syui/aigpt/internal/store"
)

// Conversation memory:
//   - every chat turn is kept as "User: ...\nAI: ..." with importance
//     |delta| * 0.1, capped at 1
//   - the newest ChatMemoryLimit turns go into the next reply's prompt
//   - turns at or below ForgetFloor are dropped once older than ForgetAfter
const (
	ChatMemoryLimit = 5
	ForgetFloor     = 0.1
	ForgetAfter     = 30 * 24 * time.Hour
)

// DefaultMemoryLimit is how many memories Memories returns when asked for
// zero or fewer.
const DefaultMemoryLimit = 10

func memoryImportance(delta float64) float64 {
	return min(1, math.Abs(delta)*0.1)
}

func (e *Engine) remember(userID, message, reply string, delta float64) error {
	now, err := e.now()
	if err != nil {
		return err
	}
	content := fmt.Sprintf("User: %s\nAI: %s", message, reply)
	if _, err := e.DB.AddMemory(userID, content, memoryImportance(delta), now); err != nil {
		return err
	}
	_, err = e.DB.ForgetMemories(userID, now.Add(-ForgetAfter), ForgetFloor)
	return err
}

// recall returns the newest turns with userID, oldest first.
func (e *Engine) recall(userID string) ([]string, error) {
	mems, err := e.DB.RecentMemories(userID, ChatMemoryLimit)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(mems))
	for _, m := range mems {
		out = append(out, m.Content)
	}
	slices.Reverse(out)
	return out, nil
}

// Memories returns the newest remembered turns with userID, newest first.
func (e *Engine) Memories(userID string, limit int) ([]store.Memory, error) {
	if userID == "" {
		return nil, errs.Errorf(errs.InvalidInput, "memories", "user id is empty")
	}
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	mems, err := e.DB.RecentMemories(userID, limit)
	if err != nil {
		return nil, err
	}
	if mems == nil {
		mems = []store.Memory{}
	}
	return mems, nil
}
