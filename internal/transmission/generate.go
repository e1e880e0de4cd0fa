package transmission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/syui/aigpt/internal/errs"
	"github.com/syui/aigpt/internal/fortune"
	"github.com/syui/aigpt/internal/llm"
	"github.com/syui/aigpt/internal/relationship"
)

// Request is everything a Generator may use to write a message.
type Request struct {
	Kind         Kind
	Relationship relationship.Relationship
	Fortune      fortune.Fortune
	Now          time.Time
}

// Generator writes the text of an outbound message.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

var autonomousFallbacks = []string{
	"Hey! How have you been?",
	"Just thinking about our last conversation...",
	"Hope you're having a good day!",
	"Something interesting happened today and it reminded me of you.",
}

const (
	breakthroughFallback = "Amazing day today! ⚡ Fortune is at %d/10 and I'm feeling incredibly inspired. Had to share this energy with you!"
	maintenanceFallback  = "Hey! It's been a while since we last talked. Just checking in to see how you're doing!"
)

// Fallback returns the canned message for a kind. Autonomous messages rotate
// through a fixed table by epoch second.
func Fallback(kind Kind, f fortune.Fortune, now time.Time) string {
	switch kind {
	case Breakthrough:
		return fmt.Sprintf(breakthroughFallback, f.Value)
	case Maintenance:
		return maintenanceFallback
	default:
		n := int64(len(autonomousFallbacks))
		i := now.Unix() % n
		if i < 0 {
			i += n
		}
		return autonomousFallbacks[i]
	}
}

// LLMGenerator writes messages with a language model.
type LLMGenerator struct {
	Client llm.Client
}

// Generate asks the model for a message and cleans up the reply.
func (g LLMGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if g.Client == nil {
		return "", errs.Errorf(errs.Generation, "generate", "no language model configured")
	}
	days := -1
	if since, ok := req.Relationship.SinceInteraction(req.Now); ok {
		days = int(since.Hours() / 24)
	}
	r := llm.TransmissionPrompt(string(req.Kind),
		llm.Persona{
			Mood:         string(req.Fortune.Mood()),
			Fortune:      req.Fortune.Value,
			Breakthrough: req.Fortune.Breakthrough,
		},
		llm.Peer{
			UserID:       req.Relationship.UserID,
			Status:       string(req.Relationship.Status),
			Score:        req.Relationship.Score,
			Interactions: req.Relationship.TotalInteractions,
			DaysSilent:   days,
		})

	resp, err := g.Client.Complete(ctx, r)
	if err != nil {
		return "", errs.E(errs.Generation, "generate", err)
	}
	msg := llm.CleanResponse(resp.Content)
	if strings.TrimSpace(msg) == "" {
		return "", errs.Errorf(errs.Generation, "generate", "%s returned an empty message", resp.Provider)
	}
	return msg, nil
}
