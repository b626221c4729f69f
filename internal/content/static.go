package content

import (
	"context"
	"strings"
)

// StaticModel returns a fixed lesson. It lets the service run without an API
// key in development.
type StaticModel struct{}

func (StaticModel) GenerateText(_ context.Context, prompt string) (string, error) {
	topic := "your topic"
	if line, _, _ := strings.Cut(prompt, "\n"); strings.Contains(line, " about ") {
		_, t, _ := strings.Cut(line, " about ")
		topic = strings.TrimSuffix(t, ".")
	}
	return "**Subject: A fresh look at " + topic + "**\n\n" +
		"Did you know that most experts in " + topic + " learned it one small idea at a time?\n\n" +
		"Here's why this matters: steady daily practice builds durable understanding, and each lesson adds one piece to the picture.\n\n" +
		"Let's see it in action: pick one concept from " + topic + " today and explain it to a friend in two sentences.\n\n" +
		"Question for Reflection: which part of " + topic + " would you like to understand better by next week?", nil
}
