package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/wanglab/roichat/internal/models"
	"github.com/wanglab/roichat/internal/providers"
)

// Gemini is a provider for Google Gemini
type Gemini struct {
	apiKey string
}

// New returns a new Gemini provider
func New(apiKey string) *Gemini {
	return &Gemini{apiKey: apiKey}
}

// Chat replays the earlier turns as chat history and sends the last one
func (g *Gemini) Chat(ctx context.Context, req providers.Request) (string, error) {
	if g.apiKey == "" {
		return "", fmt.Errorf("%w: GEMINI_API_KEY environment variable not set", providers.ErrUnavailable)
	}
	if len(req.Messages) == 0 {
		return "", fmt.Errorf("%w: empty conversation", providers.ErrMalformed)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create new gemini client: %v", providers.ErrUnavailable, err)
	}
	defer client.Close()

	cs := client.GenerativeModel(req.Model).StartChat()
	history, last := Contents(req.Messages)
	cs.History = history

	resp, err := cs.SendMessage(ctx, last.Parts...)
	if err != nil {
		return "", fmt.Errorf("%w: failed to generate content: %v", providers.ErrUnavailable, err)
	}
	return replyText(resp)
}

// Contents converts a transcript into genai history plus the turn to send
func Contents(t models.Transcript) ([]*genai.Content, *genai.Content) {
	contents := make([]*genai.Content, 0, len(t))
	for _, turn := range t {
		role := "user"
		if turn.Role == models.RoleAssistant {
			role = "model"
		}
		parts := []genai.Part{genai.Text(turn.Content)}
		for _, a := range providers.ReadAttachments(turn.Images) {
			parts = append(parts, genai.ImageData(imageFormat(a.MimeType), a.Data))
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents[:len(contents)-1], contents[len(contents)-1]
}

// imageFormat turns "image/png" into the "png" genai.ImageData expects
func imageFormat(mimeType string) string {
	if i := strings.IndexByte(mimeType, '/'); i >= 0 {
		return mimeType[i+1:]
	}
	return "png"
}

func replyText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates returned from Gemini", providers.ErrMalformed)
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", providers.ErrEmptyReply
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	reply := strings.TrimSpace(sb.String())
	if reply == "" {
		return "", providers.ErrEmptyReply
	}
	return reply, nil
}
