package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/you-humble/snapchef/core/domain"
)

// VisionBackend answers a prompt about an image.
type VisionBackend interface {
	Describe(ctx context.Context, prompt string, image []byte) (string, error)
}

// TextBackend completes a text prompt.
type TextBackend interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// timeoutOr maps deadline and network timeouts to domain.ErrTimeout and
// returns other errors unchanged.
func timeoutOr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(domain.ErrTimeout, err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return errors.Join(domain.ErrTimeout, err)
	}
	return err
}

// Backend serves both vision and text prompts.
type Backend interface {
	VisionBackend
	TextBackend
}

type BackendConfig struct {
	// Provider is ollama or openai.
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

func NewBackend(cfg BackendConfig) (Backend, error) {
	switch cfg.Provider {
	case "", "ollama":
		return NewOllama(cfg.Model, cfg.BaseURL, cfg.Timeout)
	case "openai":
		return NewOpenAI(cfg.Model, cfg.APIKey, cfg.BaseURL, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}
