package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o"

	// X post length limit; also caps generation cost.
	maxCompletionTokens = 280
)

type Client struct {
	baseURL    string
	apiKey     string
	model      string
	HTTPClient *http.Client
}

func NewClient(apiKey string) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		model:      defaultModel,
		HTTPClient: http.DefaultClient,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// ContentAnalysis is the model's verdict on how to answer a piece of
// content.
type ContentAnalysis struct {
	Type string `json:"type"` // "text" or "image"
}

func (c Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := c.complete(ctx, chatCompletionRequest{
		Model:     c.model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: maxCompletionTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

// AnalyzeContent asks the model whether content calls for a text or an
// image response. The JSON response format keeps the answer parseable.
func (c Client) AnalyzeContent(ctx context.Context, prompt string) (*ContentAnalysis, error) {
	resp, err := c.complete(ctx, chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "Analyze the content and respond with JSON indicating if it needs an image or text response, as {\"type\": \"image\"} or {\"type\": \"text\"}."},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}

	var analysis ContentAnalysis
	if err = json.Unmarshal([]byte(resp.Choices[0].Message.Content), &analysis); err != nil {
		return nil, err
	}
	return &analysis, nil
}

func (c Client) complete(ctx context.Context, reqBody chatCompletionRequest) (*chatCompletionResponse, error) {
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/chat/completions", c.baseURL), bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var ccr chatCompletionResponse
	if err = json.Unmarshal(respBody, &ccr); err != nil {
		return nil, err
	}
	if ccr.Error != nil {
		return nil, fmt.Errorf("chat completion failed: %s (%s)", ccr.Error.Message, ccr.Error.Type)
	}
	if len(ccr.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices (status %d)", resp.StatusCode)
	}
	return &ccr, nil
}
