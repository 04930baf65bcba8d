package providers

import (
	"context"
	"errors"

	"github.com/wanglab/roichat/internal/models"
)

var (
	ErrUnavailable = errors.New("model endpoint unavailable")
	ErrStatus      = errors.New("model endpoint returned an error status")
	ErrMalformed   = errors.New("malformed model response")
	ErrEmptyReply  = errors.New("empty model reply")
)

// Request is one multimodal chat completion. Messages is the whole
// conversation, oldest first; image paths on a turn are read and attached by
// the provider.
type Request struct {
	Model    string
	Endpoint string
	Messages models.Transcript
}

// Provider defines the interface for a chat model backend
type Provider interface {
	Chat(ctx context.Context, req Request) (string, error)
}

// Func adapts a plain function to Provider
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Chat(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
