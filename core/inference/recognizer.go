package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/you-humble/snapchef/core/domain"

	"github.com/go-playground/validator/v10"
)

// ImageSource reads uploaded images by their file store key.
type ImageSource interface {
	Open(ctx context.Context, filename string) (io.ReadCloser, int64, error)
}

// Recognizer turns a food photo into a list of ingredients.
type Recognizer struct {
	backend  VisionBackend
	images   ImageSource
	prompt   string
	validate *validator.Validate
}

func NewRecognizer(backend VisionBackend, images ImageSource) *Recognizer {
	return &Recognizer{
		backend:  backend,
		images:   images,
		prompt:   recognitionPrompt,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type recognitionPayload struct {
	Ingredients []ingredientItem `json:"ingredients" validate:"required,dive"`
}

// ingredientItem accepts both {"name": "egg"} and "egg".
type ingredientItem struct {
	Name string `json:"name" validate:"required"`
}

func (i *ingredientItem) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		i.Name = s
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	i.Name = obj.Name
	return nil
}

// Infer makes one recognition attempt. Callers own the retry policy.
func (r *Recognizer) Infer(ctx context.Context, imagePath string) (domain.Ingredients, error) {
	const op = "recognizer.Infer"

	image, err := r.readImage(ctx, imagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	raw, err := r.backend.Describe(ctx, r.prompt, image)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	obj, err := ExtractJSONObject(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var payload recognitionPayload
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, domain.ErrMalformedResponse, err)
	}
	for i := range payload.Ingredients {
		payload.Ingredients[i].Name = strings.TrimSpace(payload.Ingredients[i].Name)
	}
	if err := r.validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, domain.ErrMalformedResponse, err)
	}

	out := make(domain.Ingredients, 0, len(payload.Ingredients))
	for _, it := range payload.Ingredients {
		out = append(out, domain.Ingredient{Name: it.Name})
	}
	return out, nil
}

func (r *Recognizer) readImage(ctx context.Context, imagePath string) ([]byte, error) {
	rc, _, err := r.images.Open(ctx, imagePath)
	if err != nil {
		return nil, fmt.Errorf("open image %q: %w", imagePath, err)
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read image %q: %w", imagePath, err)
	}
	return b, nil
}
