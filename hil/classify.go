package hil

import (
	"context"
	"fmt"
	"strings"

	"goa.design/flow/model"
)

// Class is the HIL outcome. Classes double as the output keys a HIL node
// routes on.
type Class string

const (
	ClassConfirmed Class = "confirmed"
	ClassRejected  Class = "rejected"
	ClassUnrelated Class = "unrelated"
	ClassTimeout   Class = "timeout"
)

// Valid reports whether c is a known class.
func (c Class) Valid() bool {
	switch c {
	case ClassConfirmed, ClassRejected, ClassUnrelated, ClassTimeout:
		return true
	}
	return false
}

const classifySystemPrompt = `You classify a human reply to an approval request.
Answer with exactly one word: confirmed, rejected or unrelated.
confirmed means the human approves the request.
rejected means the human declines the request.
unrelated means the reply does not answer the request.`

// Classifier maps free-form human replies to a Class. Structured replies
// bypass the model.
type Classifier struct {
	client model.Client
	model  string
}

// NewClassifier constructs a classifier using the given analysis model.
func NewClassifier(client model.Client, modelID string) *Classifier {
	return &Classifier{client: client, model: modelID}
}

// Classify determines the outcome of a human response. prompt is the
// original question shown to the human, used as context for ambiguous
// replies.
func (c *Classifier) Classify(ctx context.Context, prompt string, resp Response) (Class, error) {
	if resp.Approved != nil {
		if *resp.Approved {
			return ClassConfirmed, nil
		}
		return ClassRejected, nil
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return ClassUnrelated, nil
	}
	if class, ok := classifyKeyword(text); ok {
		return class, nil
	}
	if c.client == nil {
		return ClassUnrelated, nil
	}
	out, err := c.client.Call(ctx, model.Request{
		Model:        c.model,
		SystemPrompt: classifySystemPrompt,
		Messages: []model.Message{{
			Role:    model.RoleUser,
			Content: fmt.Sprintf("Request: %s\n\nReply: %s", prompt, text),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("classify response: %w", err)
	}
	switch Class(strings.ToLower(strings.TrimSpace(out.Content))) {
	case ClassConfirmed:
		return ClassConfirmed, nil
	case ClassRejected:
		return ClassRejected, nil
	default:
		return ClassUnrelated, nil
	}
}

// classifyKeyword handles unambiguous single-word replies without a model
// round trip.
func classifyKeyword(text string) (Class, bool) {
	switch strings.ToLower(strings.Trim(text, " .!")) {
	case "yes", "approve", "approved", "confirm", "confirmed", "ok", "lgtm":
		return ClassConfirmed, true
	case "no", "reject", "rejected", "deny", "denied", "decline", "declined":
		return ClassRejected, true
	}
	return "", false
}
