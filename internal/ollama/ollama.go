package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/wanglab/roichat/internal/providers"
)

const (
	DefaultEndpoint = "http://localhost:11434"
	chatPath        = "/api/chat"
	// cap on the body we are willing to read back
	maxResponseBytes = 16 << 20
)

var (
	ErrNotRunning = errors.New("ollama not running")
	ErrTimeout    = errors.New("ollama request timed out")
)

type message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatResponse struct {
	Message *struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error,omitempty"`
}

// Ollama is a provider for Ollama's /api/chat
type Ollama struct {
	endpoint   string
	httpClient *http.Client
}

// New returns a new Ollama provider. An empty endpoint means the local default.
func New(endpoint string, timeout time.Duration) *Ollama {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Ollama{
		endpoint:   normalizeEndpoint(endpoint),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// normalizeEndpoint accepts both OLLAMA_HOST style "host:port" values and
// full URLs, with or without the /api/chat suffix.
func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimRight(endpoint, "/")
	endpoint = strings.TrimSuffix(endpoint, chatPath)
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	return endpoint
}

// Chat sends the full transcript, with images attached as base64, and
// returns the assistant's reply.
func (o *Ollama) Chat(ctx context.Context, req providers.Request) (string, error) {
	endpoint := o.endpoint
	if req.Endpoint != "" {
		endpoint = normalizeEndpoint(req.Endpoint)
	}

	msgs := make([]message, 0, len(req.Messages))
	for _, turn := range req.Messages {
		m := message{Role: turn.Role, Content: turn.Content}
		for _, a := range providers.ReadAttachments(turn.Images) {
			m.Images = append(m.Images, a.Base64())
		}
		msgs = append(msgs, m)
	}

	requestBody, err := json.Marshal(chatRequest{Model: req.Model, Messages: msgs, Stream: false})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+chatPath, bytes.NewReader(requestBody))
	if err != nil {
		return "", fmt.Errorf("failed to create new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: %v", providers.ErrMalformed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: %d - %s", providers.ErrStatus, resp.StatusCode, truncate(string(body), 200))
	}

	var response chatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("%w: %v", providers.ErrMalformed, err)
	}
	if response.Error != "" {
		return "", fmt.Errorf("%w: %s", providers.ErrStatus, response.Error)
	}
	if response.Message == nil {
		return "", fmt.Errorf("%w: missing message", providers.ErrMalformed)
	}
	reply := strings.TrimSpace(response.Message.Content)
	if reply == "" {
		return "", providers.ErrEmptyReply
	}

	slog.Info("Ollama reply", "model", req.Model, "turns", len(msgs), "duration", time.Since(start))
	return reply, nil
}

func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", providers.ErrUnavailable, ErrTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", providers.ErrUnavailable, ErrTimeout)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %w", providers.ErrUnavailable, ErrNotRunning)
	}
	return fmt.Errorf("%w: %v", providers.ErrUnavailable, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
