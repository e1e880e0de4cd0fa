package transmission

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"time"

	"github.com/syui/aigpt/internal/fortune"
	"github.com/syui/aigpt/internal/relationship"
)

// Kind is the reason a transmission was sent.
type Kind string

const (
	Autonomous   Kind = "autonomous"
	Breakthrough Kind = "breakthrough"
	Maintenance  Kind = "maintenance"
	Scheduled    Kind = "scheduled"
)

// Timing rules.
const (
	Cooldown            = 24 * time.Hour
	MaintenanceSilence  = 7 * 24 * time.Hour
	MaintenanceMaxUsers = 3
)

// Log is one entry of the transmission log.
type Log struct {
	ID        int64     `json:"id,omitempty"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Fallback  bool      `json:"fallback,omitempty"`
}

var baseProbability = map[relationship.Status]float64{
	relationship.New:          0.10,
	relationship.Acquaintance: 0.20,
	relationship.Friend:       0.40,
	relationship.CloseFriend:  0.60,
	relationship.Broken:       0,
}

// Probability is the chance of an autonomous transmission to a relationship
// with the given status under today's fortune.
func Probability(status relationship.Status, f fortune.Fortune) float64 {
	base, ok := baseProbability[status]
	if !ok || status == relationship.Broken {
		return 0
	}
	return math.Max(0, math.Min(1, base+f.Modifier()))
}

// Roll draws a reproducible value in [0, 1) from the user id and the epoch
// second of now. The same inputs always give the same draw.
func Roll(userID string, now time.Time) float64 {
	h := fnv.New64a()
	h.Write([]byte(userID))
	var buf [9]byte
	binary.BigEndian.PutUint64(buf[1:], uint64(now.Unix()))
	h.Write(buf[:])
	return float64(mix64(h.Sum64())>>11) / (1 << 53)
}

// mix64 is the splitmix64 finalizer. It spreads the trailing time bytes of
// the FNV input into the high bits.
func mix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
