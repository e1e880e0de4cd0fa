package engine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/syui/aigpt/internal/errs"
	"github.com/syui/aigpt/internal/llm"
	"github.com/syui/aigpt/internal/relationship"
)

var (
	positiveWords = []string{"good", "great", "awesome", "love", "like", "happy", "thank"}
	negativeWords = []string{"bad", "hate", "awful", "terrible", "angry", "sad"}
)

// Sentiment scores a message in [-1, 1] by counting positive and negative
// keywords. Each keyword counts once however often it appears.
func Sentiment(message string) float64 {
	lower := strings.ToLower(message)
	var score float64
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			score++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			score--
		}
	}
	return max(-1, min(1, score))
}

// ChatResult is the outcome of one chat turn.
type ChatResult struct {
	Reply        string                    `json:"reply"`
	Sentiment    float64                   `json:"sentiment"`
	Delta        float64                   `json:"delta"`
	Capped       bool                      `json:"capped,omitempty"`
	Fallback     bool                      `json:"fallback,omitempty"`
	Relationship relationship.Relationship `json:"relationship"`
}

func fallbackReply(message string) string {
	return fmt.Sprintf("I understand your message: '%s'", message)
}

// Chat ingests a message from userID as an interaction and answers it. The
// reply is generated after the relationship is updated, so its tone follows
// the new status. Recent turns with the user go into the prompt and the new
// turn is remembered.
func (e *Engine) Chat(ctx context.Context, userID, message string) (ChatResult, error) {
	if strings.TrimSpace(message) == "" {
		return ChatResult{}, errs.Errorf(errs.InvalidInput, "chat", "message is empty")
	}
	s := Sentiment(message)
	ing, err := e.Interact(userID, s)
	if err != nil {
		return ChatResult{}, err
	}
	res := ChatResult{
		Sentiment:    s,
		Delta:        ing.Delta,
		Capped:       ing.Capped,
		Relationship: ing.Relationship,
	}

	if e.LLM != nil {
		if res.Reply, err = e.generateReply(ctx, ing.Relationship, message); err != nil {
			return res, err
		}
	}
	if res.Reply == "" {
		res.Reply = fallbackReply(message)
		res.Fallback = true
	}

	if err := e.remember(userID, message, res.Reply, ing.Delta); err != nil {
		return res, err
	}
	return res, nil
}

// generateReply asks the model for a reply. A failed or empty generation
// returns "" and no error.
func (e *Engine) generateReply(ctx context.Context, r relationship.Relationship, message string) (string, error) {
	f, err := e.TodaysFortune()
	if err != nil {
		return "", err
	}
	memories, err := e.recall(r.UserID)
	if err != nil {
		return "", err
	}
	system := llm.ChatSystemPrompt(
		llm.Persona{Mood: string(f.Mood()), Fortune: f.Value, Breakthrough: f.Breakthrough},
		llm.Peer{
			UserID:       r.UserID,
			Status:       string(r.Status),
			Score:        r.Score,
			Interactions: r.TotalInteractions,
			Memories:     memories,
		},
	)

	gctx, cancel := context.WithTimeout(ctx, e.genTimeout)
	defer cancel()
	resp, err := e.LLM.Complete(gctx, llm.Request{System: system, Prompt: message})
	var reply string
	if err == nil {
		reply = llm.CleanResponse(resp.Content)
	}
	if reply == "" {
		log.Printf("chat: reply to %s failed, using fallback: %v", r.UserID, err)
	}
	return reply, nil
}
