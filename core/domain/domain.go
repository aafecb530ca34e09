package domain

import (
	"errors"
	"fmt"
	"strings"
)

type TaskStatus string

const (
	StatusQueued     TaskStatus = "queued"
	StatusProcessing TaskStatus = "processing"
	StatusDone       TaskStatus = "done"
	StatusError      TaskStatus = "error"
)

// Terminal reports whether the recognition phase can no longer change.
func (s TaskStatus) Terminal() bool {
	return s == StatusDone || s == StatusError
}

type Ingredient struct {
	Name string `json:"name" validate:"required"`
}

type Ingredients []Ingredient

func (in Ingredients) Names() []string {
	names := make([]string, 0, len(in))
	for _, i := range in {
		names = append(names, i.Name)
	}
	return names
}

// RecognitionResult is the task store entry of the recognition phase.
type RecognitionResult struct {
	Status      TaskStatus  `json:"status"`
	Ingredients Ingredients `json:"ingredients,omitempty"`
	Error       string      `json:"error,omitempty"`
}

type Step struct {
	Order       int    `json:"order"`
	Instruction string `json:"instruction"`
}

type Recipe struct {
	Name         string   `json:"name"`
	Ingredients  []string `json:"ingredients"`
	Steps        []Step   `json:"steps"`
	CookingTime  string   `json:"cooking_time"`
	Difficulty   string   `json:"difficulty"`
	CalorieLevel string   `json:"calorie_level"`
}

// RecipeResult is the task store entry of the generation phase.
type RecipeResult struct {
	TaskID                string      `json:"task_id"`
	Ingredients           Ingredients `json:"ingredients"`
	Recipes               []Recipe    `json:"recipes"`
	FeedbackUsed          string      `json:"feedback_used"`
	PreferredCalorieLevel string      `json:"preferred_calorie_level"`
	PreferredCookingTime  string      `json:"preferred_cooking_time"`
	PreferredDifficulty   string      `json:"preferred_difficulty"`
	ExcludedRecipes       string      `json:"excluded_recipes"`
}

// QueueMessage is the wire format of a recognition job.
type QueueMessage struct {
	TaskID    string  `json:"task_id"`
	ImagePath string  `json:"image_path"`
	QueuedAt  float64 `json:"queued_at"`
}

func (m QueueMessage) Validate() error {
	var missing []string
	if strings.TrimSpace(m.TaskID) == "" {
		missing = append(missing, "task_id")
	}
	if strings.TrimSpace(m.ImagePath) == "" {
		missing = append(missing, "image_path")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMalformedMessage, strings.Join(missing, ", "))
	}
	return nil
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var (
	ErrInvalidFileType = errors.New("file must be an image (jpg/jpeg/png)")
	ErrMissingTaskID   = errors.New("missing task id")

	ErrTaskNotFound         = errors.New("task not found")
	ErrRecognitionNotReady  = errors.New("ingredients are not recognized yet")
	ErrRecognitionFailed    = errors.New("ingredient recognition failed")
	ErrNoIngredients        = errors.New("no ingredients to generate recipes from")
	ErrTimeout              = errors.New("timeout")
	ErrMalformedResponse    = errors.New("malformed model response")
	ErrMalformedMessage     = errors.New("malformed queue message")
	ErrConnectionLost       = errors.New("queue connection lost")
	ErrPublishRejected      = errors.New("queue publish rejected")
	ErrRecipeRateLimited    = errors.New("recipe backend is rate limited, try again later")
	ErrRecipeBackendTimeout = errors.New("recipe backend timed out")
)

// BackendError is a non-2xx answer of a model backend.
type BackendError struct {
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Body)
}

// RateLimited reports whether err is an HTTP 429 from a model backend.
func RateLimited(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.StatusCode == 429
}

// ServerSide reports whether err is a 5xx from a model backend.
func ServerSide(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.StatusCode >= 500
}
