package relationship

import (
	"time"
)

// Status is the relationship band derived from score.
type Status string

const (
	New          Status = "new"
	Acquaintance Status = "acquaintance"
	Friend       Status = "friend"
	CloseFriend  Status = "close_friend"
	Broken       Status = "broken"
)

// Statuses lists every status in ascending order of closeness, Broken last.
var Statuses = []Status{New, Acquaintance, Friend, CloseFriend, Broken}

// Score bounds and thresholds.
const (
	MinScore         = -50.0
	MaxScore         = 100.0
	BreakScore       = -20.0
	DefaultThreshold = 10.0
	DefaultDailyCap  = 10

	// DecayRate is the fraction of score lost per day of silence.
	DecayRate = 0.1
)

// StatusForScore classifies a score of a relationship that is not broken.
func StatusForScore(score float64) Status {
	switch {
	case score >= 50:
		return CloseFriend
	case score >= 20:
		return Friend
	case score >= 5:
		return Acquaintance
	default:
		return New
	}
}

// Relationship is the per-user state.
type Relationship struct {
	UserID                string     `json:"user_id"`
	Score                 float64    `json:"score"`
	Threshold             float64    `json:"threshold"`
	Status                Status     `json:"status"`
	TotalInteractions     int        `json:"total_interactions"`
	PositiveInteractions  int        `json:"positive_interactions"`
	NegativeInteractions  int        `json:"negative_interactions"`
	TransmissionEnabled   bool       `json:"transmission_enabled"`
	IsBroken              bool       `json:"is_broken"`
	LastInteraction       *time.Time `json:"last_interaction,omitempty"`
	LastTransmission      *time.Time `json:"last_transmission,omitempty"`
	LastDecay             *time.Time `json:"last_decay,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	DailyInteractionCount int        `json:"daily_interaction_count"`
	LastDailyReset        time.Time  `json:"last_daily_reset"`
}

func newRelationship(userID string, threshold float64, now time.Time) Relationship {
	return Relationship{
		UserID:         userID,
		Threshold:      threshold,
		Status:         New,
		CreatedAt:      now,
		LastDailyReset: now,
	}
}

// Eligible reports whether autonomous transmissions may target r.
func (r *Relationship) Eligible() bool {
	return r.TransmissionEnabled && !r.IsBroken && r.Score >= r.Threshold
}

// BreakthroughEligible reports whether r may receive a breakthrough message.
func (r *Relationship) BreakthroughEligible() bool {
	return r.TransmissionEnabled && !r.IsBroken && (r.Status == Friend || r.Status == CloseFriend)
}

// SinceInteraction returns how long ago the last interaction was, or false
// when there has never been one.
func (r *Relationship) SinceInteraction(now time.Time) (time.Duration, bool) {
	if r.LastInteraction == nil {
		return 0, false
	}
	return now.Sub(*r.LastInteraction), true
}

// SinceTransmission returns how long ago the last transmission was, or false
// when there has never been one.
func (r *Relationship) SinceTransmission(now time.Time) (time.Duration, bool) {
	if r.LastTransmission == nil {
		return 0, false
	}
	return now.Sub(*r.LastTransmission), true
}
