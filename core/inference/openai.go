package inference

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/you-humble/snapchef/core/domain"

	"github.com/gabriel-vasile/mimetype"
	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAI talks to any OpenAI compatible chat completion endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
}

func NewOpenAI(model, apiKey, baseURL string, timeout time.Duration) (*OpenAI, error) {
	if model == "" {
		return nil, fmt.Errorf("openai: empty model")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

func (o *OpenAI) Describe(ctx context.Context, prompt string, image []byte) (string, error) {
	dataURI := "data:" + mimetype.Detect(image).String() + ";base64," +
		base64.StdEncoding.EncodeToString(image)

	return o.chat(ctx, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURI,
				Detail: openai.ImageURLDetailAuto,
			}},
		},
	})
}

func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	return o.chat(ctx, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})
}

func (o *OpenAI) chat(ctx context.Context, msg openai.ChatCompletionMessage) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: []openai.ChatCompletionMessage{msg},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
			return "", &domain.BackendError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
			return "", &domain.BackendError{StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
		}
		return "", fmt.Errorf("openai chat completion: %w", timeoutOr(err))
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in completion", domain.ErrMalformedResponse)
	}
	return resp.Choices[0].Message.Content, nil
}
