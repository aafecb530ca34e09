package taskstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you-humble/snapchef/core/domain"
	filestore "github.com/you-humble/snapchef/core/store/file"
)

func newFileStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	fs, err := filestore.NewLocalStore(dir)
	require.NoError(t, err)
	return New(NewFileKV(fs)), dir
}

func newRedisStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(NewRedisKV(rdb, time.Hour)), mr
}

func backends(t *testing.T) map[string]*Store {
	fileStore, _ := newFileStore(t)
	redisStore, _ := newRedisStore(t)
	return map[string]*Store{"file": fileStore, "redis": redisStore}
}

func TestStore_Recognition(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Recognition(ctx, "missing")
			assert.ErrorIs(t, err, domain.ErrTaskNotFound)

			want := domain.RecognitionResult{
				Status:      domain.StatusDone,
				Ingredients: domain.Ingredients{{Name: "chicken"}, {Name: "broccoli"}},
			}
			require.NoError(t, s.PutRecognition(ctx, "t1", want))

			got, err := s.Recognition(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestStore_Recipes(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Recipes(ctx, "t1")
			assert.ErrorIs(t, err, domain.ErrTaskNotFound)

			want := domain.RecipeResult{
				TaskID:      "t1",
				Ingredients: domain.Ingredients{{Name: "broccoli"}},
				Recipes: []domain.Recipe{{
					Name:        "Steamed broccoli",
					Ingredients: []string{"broccoli"},
					Steps:       []domain.Step{{Order: 1, Instruction: "Steam"}},
					CookingTime: "10 min",
				}},
				FeedbackUsed: "нет",
			}
			require.NoError(t, s.PutRecipes(ctx, "t1", want))

			got, err := s.Recipes(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestFileStore_RedeliveryWriteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, dir := newFileStore(t)

	res := domain.RecognitionResult{Status: domain.StatusError, Error: "could not process image"}

	require.NoError(t, s.PutRecognition(ctx, "t1", res))
	first, err := os.ReadFile(filepath.Join(dir, "results", "t1.json"))
	require.NoError(t, err)

	require.NoError(t, s.PutRecognition(ctx, "t1", res))
	second, err := os.ReadFile(filepath.Join(dir, "results", "t1.json"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	entries, err := os.ReadDir(filepath.Join(dir, "results"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRedisStore_RedeliveryWriteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)

	res := domain.RecognitionResult{Status: domain.StatusDone, Ingredients: domain.Ingredients{{Name: "egg"}}}

	require.NoError(t, s.PutRecognition(ctx, "t1", res))
	first, err := mr.Get("snapchef:results/t1.json")
	require.NoError(t, err)

	require.NoError(t, s.PutRecognition(ctx, "t1", res))
	second, err := mr.Get("snapchef:results/t1.json")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, mr.Keys(), 1)
	assert.Equal(t, time.Hour, mr.TTL("snapchef:results/t1.json"))
}

func TestFileStore_ConcurrentReadersNeverSeePartialWrites(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileStore(t)

	big := make(domain.Ingredients, 500)
	for i := range big {
		big[i] = domain.Ingredient{Name: "ingredient"}
	}
	require.NoError(t, s.PutRecognition(ctx, "t1", domain.RecognitionResult{Status: domain.StatusProcessing}))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 50 {
			_ = s.PutRecognition(ctx, "t1", domain.RecognitionResult{Status: domain.StatusDone, Ingredients: big})
		}
	}()
	go func() {
		defer wg.Done()
		for range 200 {
			_, err := s.Recognition(ctx, "t1")
			assert.NoError(t, err)
		}
	}()
	wg.Wait()
}

func TestFileStore_CleanupKeepsImages(t *testing.T) {
	ctx := context.Background()
	s, dir := newFileStore(t)

	require.NoError(t, s.PutRecognition(ctx, "old", domain.RecognitionResult{Status: domain.StatusDone}))
	require.NoError(t, s.PutRecipes(ctx, "old", domain.RecipeResult{TaskID: "old"}))
	require.NoError(t, s.PutRecognition(ctx, "fresh", domain.RecognitionResult{Status: domain.StatusQueued}))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "images"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "images", "old.jpg"), []byte("x"), 0o644))

	past := time.Now().Add(-3 * time.Hour)
	for _, p := range []string{"results/old.json", "recipes/old_recipes.json", "images/old.jpg"} {
		require.NoError(t, os.Chtimes(filepath.Join(dir, p), past, past))
	}

	require.NoError(t, s.CleanupOlderThan(ctx, time.Hour))

	_, err := s.Recognition(ctx, "old")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	_, err = s.Recipes(ctx, "old")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)

	got, err := s.Recognition(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, got.Status)

	assert.FileExists(t, filepath.Join(dir, "images", "old.jpg"))
}

func TestRedisStore_CleanupIsNoop(t *testing.T) {
	ctx := context.Background()
	s, _ := newRedisStore(t)

	require.NoError(t, s.PutRecognition(ctx, "t1", domain.RecognitionResult{Status: domain.StatusDone}))
	require.NoError(t, s.CleanupOlderThan(ctx, 0))

	_, err := s.Recognition(ctx, "t1")
	assert.NoError(t, err)
}
