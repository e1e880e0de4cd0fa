package fortune

// Mood is the companion's disposition for the day.
type Mood string

const (
	Contemplative Mood = "contemplative"
	Neutral       Mood = "neutral"
	Optimistic    Mood = "optimistic"
	Energetic     Mood = "energetic"
)

// MoodFor maps a fortune value to its mood band.
func MoodFor(value int) Mood {
	switch {
	case value >= 9:
		return Energetic
	case value >= 7:
		return Optimistic
	case value >= 4:
		return Neutral
	default:
		return Contemplative
	}
}

// Describe returns a short phrase for prompts and status output.
func (m Mood) Describe() string {
	switch m {
	case Energetic:
		return "energetic and inspired"
	case Optimistic:
		return "optimistic and cheerful"
	case Contemplative:
		return "quiet and contemplative"
	default:
		return "calm and balanced"
	}
}
