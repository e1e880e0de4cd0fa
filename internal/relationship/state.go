package relationship

import (
	"math"
	"time"
)

// event is the cause of a state re-evaluation. Interactions can break a
// relationship and arm transmission; decay can only disarm it.
type event int

const (
	eventInteraction event = iota
	eventDecay
	eventEnable
	eventDisable
)

func clampScore(s float64) float64 {
	return math.Max(MinScore, math.Min(MaxScore, s))
}

// settle applies the state machine after the score or flags changed.
// Broken is absorbing: once set, every event leaves the relationship broken
// with transmission off.
func (r *Relationship) settle(ev event) {
	if r.IsBroken {
		r.Status = Broken
		r.TransmissionEnabled = false
		return
	}

	switch ev {
	case eventInteraction:
		if r.Score <= BreakScore {
			r.IsBroken = true
			r.Status = Broken
			r.TransmissionEnabled = false
			return
		}
		if r.Score >= r.Threshold {
			r.TransmissionEnabled = true
		}
	case eventDecay:
		if r.Score < r.Threshold {
			r.TransmissionEnabled = false
		}
	case eventEnable:
		r.TransmissionEnabled = true
	case eventDisable:
		r.TransmissionEnabled = false
	}

	r.Status = StatusForScore(r.Score)
}

// resetDailyIfNewDay zeroes the daily counter when now falls on a later
// calendar date than the last reset. It reports whether a reset happened.
func (r *Relationship) resetDailyIfNewDay(now time.Time, loc *time.Location) bool {
	if now.In(loc).Format("2006-01-02") <= r.LastDailyReset.In(loc).Format("2006-01-02") {
		return false
	}
	r.DailyInteractionCount = 0
	r.LastDailyReset = now
	return true
}

// interactionDelta is sentiment*0.5 damped by 1% per prior interaction.
func interactionDelta(sentiment float64, total int) float64 {
	return sentiment * 0.5 / (1 + float64(total)*0.01)
}

// interact applies one counted interaction and returns the computed delta.
func (r *Relationship) interact(sentiment float64, now time.Time) float64 {
	delta := interactionDelta(sentiment, r.TotalInteractions)
	r.Score = clampScore(r.Score + delta)

	r.TotalInteractions++
	switch {
	case sentiment > 0:
		r.PositiveInteractions++
	case sentiment < 0:
		r.NegativeInteractions++
	}
	t := now
	r.LastInteraction = &t
	r.DailyInteractionCount++

	r.settle(eventInteraction)
	return delta
}

// decay shrinks the score toward zero by 10% per day elapsed since the later
// of the last interaction and the last decay. It reports whether anything
// changed.
func (r *Relationship) decay(now time.Time) bool {
	if r.LastInteraction == nil {
		return false
	}
	since := *r.LastInteraction
	if r.LastDecay != nil && r.LastDecay.After(since) {
		since = *r.LastDecay
	}
	elapsed := now.Sub(since)
	if elapsed <= 0 {
		return false
	}

	days := elapsed.Hours() / 24
	r.Score = math.Copysign(math.Abs(r.Score)*math.Pow(1-DecayRate, days), r.Score)
	t := now
	r.LastDecay = &t

	r.settle(eventDecay)
	return true
}
