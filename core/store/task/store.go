// Package taskstore keeps recognition and recipe results keyed by task id.
package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/you-humble/snapchef/core/domain"
)

// ErrNotFound is returned by a KV backend for a missing key.
var ErrNotFound = errors.New("key not found")

// KV is the storage a Store is built on. Put must be atomic per key: a
// concurrent Get sees either the old or the new value, never a mix.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// cleaner is implemented by backends without native expiry.
type cleaner interface {
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) error
}

type Store struct {
	kv KV
}

func New(kv KV) *Store {
	return &Store{kv: kv}
}

func (s *Store) Recognition(ctx context.Context, taskID string) (domain.RecognitionResult, error) {
	var res domain.RecognitionResult
	if err := s.get(ctx, recognitionKey(taskID), &res); err != nil {
		return domain.RecognitionResult{}, err
	}
	return res, nil
}

func (s *Store) PutRecognition(ctx context.Context, taskID string, res domain.RecognitionResult) error {
	return s.put(ctx, recognitionKey(taskID), res)
}

func (s *Store) Recipes(ctx context.Context, taskID string) (domain.RecipeResult, error) {
	var res domain.RecipeResult
	if err := s.get(ctx, recipesKey(taskID), &res); err != nil {
		return domain.RecipeResult{}, err
	}
	return res, nil
}

func (s *Store) PutRecipes(ctx context.Context, taskID string, res domain.RecipeResult) error {
	return s.put(ctx, recipesKey(taskID), res)
}

// CleanupOlderThan removes entries older than maxAge. Backends that expire
// entries themselves, like Redis, make it a no-op.
func (s *Store) CleanupOlderThan(ctx context.Context, maxAge time.Duration) error {
	c, ok := s.kv.(cleaner)
	if !ok {
		return nil
	}
	return c.CleanupOlderThan(ctx, maxAge)
}

func (s *Store) get(ctx context.Context, key string, v any) error {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.ErrTaskNotFound
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

const (
	resultsDir = "results/"
	recipesDir = "recipes/"
)

func recognitionKey(taskID string) string {
	return resultsDir + taskID + ".json"
}

func recipesKey(taskID string) string {
	return recipesDir + taskID + "_recipes.json"
}
