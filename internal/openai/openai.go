package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wanglab/roichat/internal/providers"
)

const DefaultURL = "https://api.openai.com/v1/chat/completions"

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type message struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

// OpenAI is a provider for OpenAI compatible chat completion endpoints
type OpenAI struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// New returns a new OpenAI provider. An empty url means api.openai.com.
func New(url, apiKey string, timeout time.Duration) *OpenAI {
	if url == "" {
		url = DefaultURL
	}
	return &OpenAI{url: url, apiKey: apiKey, httpClient: &http.Client{Timeout: timeout}}
}

// Chat sends the transcript as multimodal chat messages, images inlined as data URIs
func (o *OpenAI) Chat(ctx context.Context, req providers.Request) (string, error) {
	if o.apiKey == "" {
		return "", fmt.Errorf("%w: OPENAI_API_KEY environment variable not set", providers.ErrUnavailable)
	}
	url := o.url
	if req.Endpoint != "" {
		url = req.Endpoint
	}

	msgs := make([]message, 0, len(req.Messages))
	for _, turn := range req.Messages {
		parts := []contentPart{{Type: "text", Text: turn.Content}}
		for _, a := range providers.ReadAttachments(turn.Images) {
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: a.DataURI()}})
		}
		msgs = append(msgs, message{Role: turn.Role, Content: parts})
	}

	requestBody, err := json.Marshal(map[string]interface{}{
		"model":    req.Model,
		"messages": msgs,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(requestBody))
	if err != nil {
		return "", fmt.Errorf("failed to create new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", providers.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: %d - %s", providers.ErrStatus, resp.StatusCode, string(body))
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("%w: %v", providers.ErrMalformed, err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned from OpenAI", providers.ErrMalformed)
	}

	reply := strings.TrimSpace(response.Choices[0].Message.Content)
	if reply == "" {
		return "", providers.ErrEmptyReply
	}
	return reply, nil
}
