// Package agent runs model-backed generation with optional tool calls.
package agent

import (
	"context"
	"fmt"
)

// Message is one turn of a conversation sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tool is a capability the model may invoke during generation. Schema
// is a JSON Schema object describing the input.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
	Run         func(ctx context.Context, input map[string]any) (string, error)
}

// Request describes a single generation.
type Request struct {
	Model       string
	Temperature float64
	System      string
	Messages    []Message
	Tools       []Tool
	// MaxSteps caps the number of model round-trips. Each tool-call
	// exchange consumes one step.
	MaxSteps int
}

// Provider generates an assistant reply for a request.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// ErrStepLimit is wrapped into the error returned when a generation
// keeps requesting tools past its step budget.
var ErrStepLimit = fmt.Errorf("generation exceeded step limit")

func findTool(tools []Tool, name string) (Tool, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

func runTool(ctx context.Context, tools []Tool, name string, input map[string]any) string {
	tool, ok := findTool(tools, name)
	if !ok {
		return fmt.Sprintf("unknown tool %q", name)
	}
	result, err := tool.Run(ctx, input)
	if err != nil {
		// Tool failures go back to the model as text so it can
		// recover instead of aborting the whole generation.
		return fmt.Sprintf("tool %s failed: %v", name, err)
	}
	return result
}
