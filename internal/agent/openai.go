package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAI calls the OpenAI Chat Completions API directly over HTTP.
type OpenAI struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{
		apiKey:  apiKey,
		baseURL: "https://api.openai.com",
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *OpenAI) Name() string { return "openai" }

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiResponse struct {
	Choices []struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
}

// Generate runs the conversation, resolving tool calls locally until
// the model stops or the step budget runs out.
func (p *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	conversation := make([]openaiMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		conversation = append(conversation, openaiMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		conversation = append(conversation, openaiMessage{Role: m.Role, Content: m.Content})
	}

	var tools []map[string]any
	for _, t := range req.Tools {
		tools = append(tools, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Schema,
			},
		})
	}

	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 1
	}

	for step := 0; step < maxSteps; step++ {
		body := map[string]any{
			"model":       req.Model,
			"temperature": req.Temperature,
			"messages":    conversation,
		}
		if len(tools) > 0 {
			body["tools"] = tools
		}

		resp, err := p.call(ctx, body)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("openai: response has no choices")
		}

		choice := resp.Choices[0]
		if choice.FinishReason != "tool_calls" {
			return choice.Message.Content, nil
		}

		conversation = append(conversation, choice.Message)
		for _, call := range choice.Message.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
				input = map[string]any{}
			}
			conversation = append(conversation, openaiMessage{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    runTool(ctx, req.Tools, call.Function.Name, input),
			})
		}
	}

	return "", fmt.Errorf("openai: %w after %d steps", ErrStepLimit, maxSteps)
}

func (p *OpenAI) call(ctx context.Context, body map[string]any) (openaiResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return openaiResponse{}, fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return openaiResponse{}, fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return openaiResponse{}, fmt.Errorf("openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return openaiResponse{}, fmt.Errorf("openai: status %d: %s", resp.StatusCode, string(data))
	}

	var parsed openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return openaiResponse{}, fmt.Errorf("openai: decode response: %w", err)
	}
	return parsed, nil
}
