package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/you-humble/snapchef/core/domain"
	"github.com/you-humble/snapchef/core/filter"
	"github.com/you-humble/snapchef/core/inference"
	"github.com/you-humble/snapchef/core/metrics"
	"github.com/you-humble/snapchef/core/retry"
	"github.com/you-humble/snapchef/core/store/preferences"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const (
	// sniffLen is how much of an upload is inspected to detect its type.
	sniffLen  = 3072
	imagesDir = "images/"
)

var allowedExt = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
}

type FileStore interface {
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error)
	Delete(ctx context.Context, filename string) error
}

type TaskStore interface {
	Recognition(ctx context.Context, taskID string) (domain.RecognitionResult, error)
	PutRecognition(ctx context.Context, taskID string, res domain.RecognitionResult) error
	Recipes(ctx context.Context, taskID string) (domain.RecipeResult, error)
	PutRecipes(ctx context.Context, taskID string, res domain.RecipeResult) error
}

type TaskQueue interface {
	Publish(ctx context.Context, taskID, imagePath string) error
}

type RecipeGenerator interface {
	Generate(ctx context.Context, req inference.RecipeRequest) ([]domain.Recipe, domain.Ingredients, error)
}

// Preferences is the optional user profile store.
type Preferences interface {
	ForbiddenProducts(ctx context.Context, userID int64) ([]string, error)
	Preferences(ctx context.Context, userID int64) (preferences.Preferences, error)
}

type RecipeRetry struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	AttemptTimeout time.Duration
}

// RecognitionView is what a client sees when polling a task.
type RecognitionView struct {
	Status      domain.TaskStatus
	Error       string
	Ingredients []string
	Raw         []string
	Removed     []string
}

type GenerateParams struct {
	Dietary               string
	Feedback              string
	PreferredCalorieLevel string
	PreferredCookingTime  string
	PreferredDifficulty   string
	ExistingRecipes       string
	ForbiddenProducts     string
	// UserID is nil for anonymous requests.
	UserID *int64
}

type usecase struct {
	taskStore   TaskStore
	fileStore   FileStore
	queue       TaskQueue
	generator   RecipeGenerator
	preferences Preferences
	recipeRetry RecipeRetry
	metrics     *metrics.Metrics
}

func New(
	taskStore TaskStore,
	fileStore FileStore,
	queue TaskQueue,
	generator RecipeGenerator,
	prefs Preferences,
	recipeRetry RecipeRetry,
	m *metrics.Metrics,
) *usecase {
	if recipeRetry.MaxAttempts <= 0 {
		recipeRetry.MaxAttempts = 5
	}
	if recipeRetry.BaseDelay <= 0 {
		recipeRetry.BaseDelay = time.Second
	}

	return &usecase{
		taskStore:   taskStore,
		fileStore:   fileStore,
		queue:       queue,
		generator:   generator,
		preferences: prefs,
		recipeRetry: recipeRetry,
		metrics:     m,
	}
}

// Submit stores the photo and enqueues its recognition.
func (uc *usecase) Submit(ctx context.Context, file io.Reader, filename string, size int64) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := allowedExt[ext]; !ok {
		return "", fmt.Errorf("%w: extension %q", domain.ErrInvalidFileType, ext)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]

	mt := mimetype.Detect(head)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("%w: content is %s", domain.ErrInvalidFileType, mt.String())
	}

	taskID := uuid.NewString()
	imagePath := imagesDir + taskID + ext
	log := slog.With(slog.String("task_id", taskID))

	written, hash, err := uc.fileStore.Save(ctx, io.MultiReader(bytes.NewReader(head), file), imagePath, size)
	if err != nil {
		return "", fmt.Errorf("save image: %w", err)
	}
	log.Info("image saved",
		slog.String("image_path", imagePath),
		slog.String("mime", mt.String()),
		slog.Int64("size", written),
		slog.String("sha256", hash),
	)

	if err := uc.taskStore.PutRecognition(ctx, taskID, domain.RecognitionResult{Status: domain.StatusQueued}); err != nil {
		_ = uc.fileStore.Delete(ctx, imagePath)
		return "", fmt.Errorf("create task: %w", err)
	}

	if err := uc.queue.Publish(ctx, taskID, imagePath); err != nil {
		log.Error("enqueue failed", slog.String("error", err.Error()))
		uc.metrics.PublishFailed(err)

		failed := domain.RecognitionResult{
			Status: domain.StatusError,
			Error:  "failed to enqueue task: " + err.Error(),
		}
		if perr := uc.taskStore.PutRecognition(ctx, taskID, failed); perr != nil {
			log.Error("mark task failed", slog.String("error", perr.Error()))
		}
		return "", fmt.Errorf("enqueue: %w", err)
	}

	uc.metrics.TaskSubmitted()
	return taskID, nil
}

// Result reports the recognition state with forbidden products removed.
func (uc *usecase) Result(ctx context.Context, taskID, forbiddenProducts string, userID *int64) (RecognitionView, error) {
	if strings.TrimSpace(taskID) == "" {
		return RecognitionView{}, domain.ErrMissingTaskID
	}

	res, err := uc.taskStore.Recognition(ctx, taskID)
	if errors.Is(err, domain.ErrTaskNotFound) {
		return RecognitionView{Status: domain.StatusProcessing}, nil
	}
	if err != nil {
		return RecognitionView{}, fmt.Errorf("read task: %w", err)
	}

	switch res.Status {
	case domain.StatusDone:
	case domain.StatusError:
		return RecognitionView{Status: res.Status, Error: res.Error}, nil
	default:
		return RecognitionView{Status: res.Status}, nil
	}

	forbidden := uc.forbidden(ctx, forbiddenProducts, userID)
	kept, removed := filter.Apply(res.Ingredients, forbidden)

	return RecognitionView{
		Status:      domain.StatusDone,
		Ingredients: kept.Names(),
		Raw:         res.Ingredients.Names(),
		Removed:     removed.Names(),
	}, nil
}

// GenerateRecipes asks the text model for recipes based on the recognised
// ingredients and persists the outcome.
func (uc *usecase) GenerateRecipes(ctx context.Context, taskID string, p GenerateParams) (domain.RecipeResult, error) {
	if strings.TrimSpace(taskID) == "" {
		return domain.RecipeResult{}, domain.ErrMissingTaskID
	}
	log := slog.With(slog.String("task_id", taskID))

	rec, err := uc.taskStore.Recognition(ctx, taskID)
	if err != nil {
		return domain.RecipeResult{}, err
	}
	switch rec.Status {
	case domain.StatusDone:
	case domain.StatusError:
		return domain.RecipeResult{}, fmt.Errorf("%w: %s", domain.ErrRecognitionFailed, rec.Error)
	default:
		return domain.RecipeResult{}, fmt.Errorf("%w: status %s", domain.ErrRecognitionNotReady, rec.Status)
	}

	forbidden := uc.forbidden(ctx, p.ForbiddenProducts, p.UserID)
	ingredients, _ := filter.Apply(rec.Ingredients, forbidden)
	if len(ingredients) == 0 {
		return domain.RecipeResult{}, domain.ErrNoIngredients
	}

	uc.fillPreferences(ctx, &p)

	req := inference.RecipeRequest{
		Ingredients:           ingredients,
		Dietary:               withForbidden(p.Dietary, forbidden),
		Feedback:              p.Feedback,
		PreferredCalorieLevel: p.PreferredCalorieLevel,
		PreferredCookingTime:  p.PreferredCookingTime,
		PreferredDifficulty:   p.PreferredDifficulty,
		ExistingRecipes:       p.ExistingRecipes,
	}

	type generated struct {
		recipes []domain.Recipe
		used    domain.Ingredients
	}
	out, err := retry.Do(ctx, uc.recipePolicy(log), func(ctx context.Context, _ int) (generated, error) {
		if uc.recipeRetry.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, uc.recipeRetry.AttemptTimeout)
			defer cancel()
		}

		started := time.Now()
		recipes, used, err := uc.generator.Generate(ctx, req)
		uc.metrics.Inference("llm", started, err)
		return generated{recipes: recipes, used: used}, err
	})
	if err != nil {
		log.Error("recipe generation failed", slog.String("error", err.Error()))
		return domain.RecipeResult{}, classifyGeneration(err)
	}

	recipes, dropped := filter.Recipes(out.recipes, forbidden)
	if len(dropped) > 0 {
		log.Info("recipes with forbidden products dropped", slog.Any("recipes", dropped))
	}
	if recipes == nil {
		recipes = []domain.Recipe{}
	}

	result := domain.RecipeResult{
		TaskID:                taskID,
		Ingredients:           out.used,
		Recipes:               recipes,
		FeedbackUsed:          p.Feedback,
		PreferredCalorieLevel: p.PreferredCalorieLevel,
		PreferredCookingTime:  p.PreferredCookingTime,
		PreferredDifficulty:   p.PreferredDifficulty,
		ExcludedRecipes:       p.ExistingRecipes,
	}
	if err := uc.taskStore.PutRecipes(ctx, taskID, result); err != nil {
		return domain.RecipeResult{}, fmt.Errorf("persist recipes: %w", err)
	}

	log.Info("recipes generated", slog.Int("recipes", len(recipes)))
	return result, nil
}

func (uc *usecase) Recipes(ctx context.Context, taskID string) (domain.RecipeResult, error) {
	if strings.TrimSpace(taskID) == "" {
		return domain.RecipeResult{}, domain.ErrMissingTaskID
	}
	return uc.taskStore.Recipes(ctx, taskID)
}

// recipePolicy backs off exponentially on rate limits and linearly on other
// transient failures. Client errors other than 429 are final.
func (uc *usecase) recipePolicy(log *slog.Logger) retry.Policy {
	base := uc.recipeRetry.BaseDelay
	return retry.Policy{
		MaxAttempts: uc.recipeRetry.MaxAttempts,
		Delay: func(attempt int, err error) time.Duration {
			if domain.RateLimited(err) {
				return retry.Exponential(base)(attempt, err)
			}
			return retry.Linear(base)(attempt, err)
		},
		Retryable: func(err error) bool {
			var be *domain.BackendError
			if errors.As(err, &be) {
				return domain.RateLimited(err) || domain.ServerSide(err)
			}
			return true
		},
		OnRetry: func(attempt int, err error, wait time.Duration) {
			log.Warn("recipe attempt failed",
				slog.Int("attempt", attempt+1),
				slog.Duration("retry_in", wait),
				slog.String("error", err.Error()),
			)
		},
	}
}

func classifyGeneration(err error) error {
	switch {
	case domain.RateLimited(err):
		return fmt.Errorf("%w: %w", domain.ErrRecipeRateLimited, err)
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", domain.ErrRecipeBackendTimeout, err)
	default:
		return fmt.Errorf("generate recipes: %w", err)
	}
}

// forbidden merges request terms with the stored profile. A broken profile
// store only costs the stored terms.
func (uc *usecase) forbidden(ctx context.Context, raw string, userID *int64) []string {
	terms := filter.ParseList(raw)
	if uc.preferences == nil || userID == nil {
		return terms
	}

	stored, err := uc.preferences.ForbiddenProducts(ctx, *userID)
	if err != nil {
		slog.Warn("load forbidden products",
			slog.Int64("user_id", *userID),
			slog.String("error", err.Error()),
		)
		return terms
	}
	return filter.Merge(terms, stored)
}

// fillPreferences uses the stored profile for fields the request left blank.
func (uc *usecase) fillPreferences(ctx context.Context, p *GenerateParams) {
	if uc.preferences == nil || p.UserID == nil {
		return
	}
	if p.PreferredCalorieLevel != "" && p.PreferredCookingTime != "" && p.PreferredDifficulty != "" {
		return
	}

	stored, err := uc.preferences.Preferences(ctx, *p.UserID)
	if err != nil {
		slog.Warn("load preferences",
			slog.Int64("user_id", *p.UserID),
			slog.String("error", err.Error()),
		)
		return
	}
	if p.PreferredCalorieLevel == "" {
		p.PreferredCalorieLevel = stored.CalorieLevel
	}
	if p.PreferredCookingTime == "" {
		p.PreferredCookingTime = stored.CookingTime
	}
	if p.PreferredDifficulty == "" {
		p.PreferredDifficulty = stored.Difficulty
	}
}

// withForbidden appends forbidden products to the dietary restrictions.
func withForbidden(dietary string, forbidden []string) string {
	if len(forbidden) == 0 {
		return dietary
	}
	list := strings.Join(forbidden, ", ")
	if inference.NoRestriction(dietary) {
		return list
	}
	return dietary + ", " + list
}
