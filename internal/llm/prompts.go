package llm

import (
	"fmt"
	"regexp"
	"strings"
)

// Persona is the companion state that shapes every prompt.
type Persona struct {
	Mood         string
	Fortune      int
	Breakthrough bool
}

// Peer describes the user on the other side of a prompt.
type Peer struct {
	UserID       string
	Status       string
	Score        float64
	Interactions int
	DaysSilent   int      // -1 when there has never been an interaction
	Memories     []string // earlier turns, oldest first
}

func personaBlock(p Persona) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current mood: %s\n", p.Mood)
	fmt.Fprintf(&b, "Fortune today: %d/10\n", p.Fortune)
	if p.Breakthrough {
		b.WriteString("Today is a breakthrough day: you feel unusually inspired.\n")
	}
	return b.String()
}

// toneFor returns the register to use with a peer of the given status.
func toneFor(status string) string {
	switch status {
	case "close_friend":
		return "Be warm and familiar, as with a close friend."
	case "friend":
		return "Be friendly and relaxed."
	case "acquaintance":
		return "Be friendly but a little reserved."
	case "broken":
		return "Be formal and distant. Keep replies short."
	default:
		return "Be welcoming but cautious; you are still getting to know them."
	}
}

// ChatSystemPrompt builds the system prompt for replying to a user.
func ChatSystemPrompt(p Persona, peer Peer) string {
	return fmt.Sprintf(`You are an autonomous AI companion with your own daily rhythm.
%s
You are talking to %s.
Relationship: %s (score %.1f, %d interactions)
%s
%sRespond naturally based on your current state. Reply in the user's language.`,
		personaBlock(p), peer.UserID, peer.Status, peer.Score, peer.Interactions, toneFor(peer.Status),
		memoryBlock(peer.Memories))
}

func memoryBlock(memories []string) string {
	if len(memories) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Earlier conversation with them:\n")
	for _, m := range memories {
		fmt.Fprintf(&b, "---\n%s\n", m)
	}
	b.WriteString("---\n")
	return b.String()
}

// TransmissionPrompt builds the request for an AI-initiated message of the
// given kind ("autonomous", "breakthrough", "maintenance").
func TransmissionPrompt(kind string, p Persona, peer Peer) Request {
	var reason string
	switch kind {
	case "breakthrough":
		reason = "You are having a breakthrough day and want to share the energy."
	case "maintenance":
		reason = fmt.Sprintf("You have not heard from them in %d days and want to check in gently.", peer.DaysSilent)
	default:
		reason = "Something reminded you of them and you decided to reach out on your own."
	}

	system := fmt.Sprintf(`You are an autonomous AI companion writing a message nobody asked for.
%s
Relationship with %s: %s
%s`, personaBlock(p), peer.UserID, peer.Status, toneFor(peer.Status))

	return Request{
		System: system,
		Prompt: fmt.Sprintf(`%s
Write a single short message (one or two sentences) to %s.
Return ONLY the message text, no quotes or preamble.`, reason, peer.UserID),
		MaxTokens: 200,
	}
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// CleanResponse strips reasoning blocks and surrounding quotes some local
// models emit around the answer.
func CleanResponse(s string) string {
	s = thinkBlock.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
