package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/you-humble/snapchef/core/domain"

	olla "github.com/ollama/ollama/api"
)

// Ollama talks to an Ollama server. One instance serves one model.
type Ollama struct {
	client *olla.Client
	model  string
}

func NewOllama(model, baseURL string, timeout time.Duration) (*Ollama, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama: empty model")
	}
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ollama: invalid base URL: %w", err)
	}

	return &Ollama{
		client: olla.NewClient(parsed, &http.Client{Timeout: timeout}),
		model:  model,
	}, nil
}

func (o *Ollama) Describe(ctx context.Context, prompt string, image []byte) (string, error) {
	return o.generate(ctx, &olla.GenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Images: []olla.ImageData{image},
	})
}

func (o *Ollama) Complete(ctx context.Context, prompt string) (string, error) {
	return o.generate(ctx, &olla.GenerateRequest{
		Model:  o.model,
		Prompt: prompt,
	})
}

// generate streams the answer and concatenates the chunks.
func (o *Ollama) generate(ctx context.Context, req *olla.GenerateRequest) (string, error) {
	stream := true
	req.Stream = &stream

	var sb strings.Builder
	err := o.client.Generate(ctx, req, func(resp olla.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		var se olla.StatusError
		if errors.As(err, &se) {
			body := se.ErrorMessage
			if body == "" {
				body = se.Status
			}
			return "", &domain.BackendError{StatusCode: se.StatusCode, Body: body}
		}
		return "", fmt.Errorf("ollama generate: %w", timeoutOr(err))
	}

	return sb.String(), nil
}
