package inference

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/you-humble/snapchef/core/domain"
)

type fakeVision struct {
	mu      sync.Mutex
	answer  string
	err     error
	prompts []string
	images  [][]byte
}

func (f *fakeVision) Describe(_ context.Context, prompt string, image []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.images = append(f.images, image)
	return f.answer, f.err
}

type fakeText struct {
	answer string
	err    error
	prompt string
}

func (f *fakeText) Complete(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.answer, f.err
}

type memImages map[string][]byte

func (m memImages) Open(_ context.Context, name string) (io.ReadCloser, int64, error) {
	b, ok := m[name]
	if !ok {
		return nil, 0, domain.ErrTaskNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), int64(len(b)), nil
}
