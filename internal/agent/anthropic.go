package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const anthropicVersion = "2023-06-01"

// Anthropic calls the Anthropic Messages API directly over HTTP.
type Anthropic struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewAnthropic(apiKey string) *Anthropic {
	return &Anthropic{
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com",
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *Anthropic) Name() string { return "anthropic" }

type anthropicContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
	// tool_result fields
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
}

// Generate runs the conversation, resolving tool_use turns locally
// until the model stops or the step budget runs out.
func (p *Anthropic) Generate(ctx context.Context, req Request) (string, error) {
	conversation := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		conversation = append(conversation, anthropicMessage{
			Role:    m.Role,
			Content: []anthropicContentBlock{{Type: "text", Text: m.Content}},
		})
	}

	var tools []map[string]any
	for _, t := range req.Tools {
		tools = append(tools, map[string]any{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": t.Schema,
		})
	}

	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 1
	}

	var reply strings.Builder
	for step := 0; step < maxSteps; step++ {
		body := map[string]any{
			"model":       req.Model,
			"max_tokens":  4096,
			"temperature": req.Temperature,
			"messages":    conversation,
		}
		if req.System != "" {
			body["system"] = req.System
		}
		if len(tools) > 0 {
			body["tools"] = tools
		}

		resp, err := p.call(ctx, body)
		if err != nil {
			return "", err
		}

		var toolResults []anthropicContentBlock
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				reply.WriteString(block.Text)
			case "tool_use":
				toolResults = append(toolResults, anthropicContentBlock{
					Type:      "tool_result",
					ToolUseID: block.ID,
					Content:   runTool(ctx, req.Tools, block.Name, block.Input),
				})
			}
		}

		if resp.StopReason != "tool_use" {
			return reply.String(), nil
		}

		conversation = append(conversation,
			anthropicMessage{Role: "assistant", Content: resp.Content},
			anthropicMessage{Role: "user", Content: toolResults},
		)
	}

	return reply.String(), fmt.Errorf("anthropic: %w after %d steps", ErrStepLimit, maxSteps)
}

func (p *Anthropic) call(ctx context.Context, body map[string]any) (anthropicResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return anthropicResponse{}, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return anthropicResponse{}, fmt.Errorf("anthropic: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		return anthropicResponse{}, fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return anthropicResponse{}, fmt.Errorf("anthropic: status %d: %s", resp.StatusCode, string(data))
	}

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return anthropicResponse{}, fmt.Errorf("anthropic: decode response: %w", err)
	}
	return parsed, nil
}
