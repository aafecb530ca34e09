package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/you-humble/snapchef/core/domain"
	"github.com/you-humble/snapchef/core/filter"

	"github.com/go-playground/validator/v10"
)

const noneWord = "нет"

// noRestriction holds dietary values that mean "anything goes".
var noRestriction = map[string]struct{}{
	"":     {},
	"-":    {},
	"no":   {},
	"none": {},
	"нет":  {},
}

type RecipeRequest struct {
	Ingredients           domain.Ingredients
	Dietary               string
	Feedback              string
	PreferredCalorieLevel string
	PreferredCookingTime  string
	PreferredDifficulty   string
	ExistingRecipes       string
}

// RecipeGenerator asks a text model for recipes.
type RecipeGenerator struct {
	backend  TextBackend
	validate *validator.Validate
}

func NewRecipeGenerator(backend TextBackend) *RecipeGenerator {
	return &RecipeGenerator{
		backend:  backend,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// NoRestriction reports whether a dietary value places no restriction.
func NoRestriction(dietary string) bool {
	_, ok := noRestriction[strings.ToLower(strings.TrimSpace(dietary))]
	return ok
}

// DietaryFilter drops ingredients matching any dietary term.
func DietaryFilter(ingredients domain.Ingredients, dietary string) domain.Ingredients {
	var terms []string
	for _, t := range filter.ParseList(dietary) {
		if !NoRestriction(t) {
			terms = append(terms, t)
		}
	}
	kept, _ := filter.Apply(ingredients, terms)
	return kept
}

// Generate makes one generation attempt and returns the recipes together with
// the ingredients that were offered to the model.
func (g *RecipeGenerator) Generate(ctx context.Context, req RecipeRequest) ([]domain.Recipe, domain.Ingredients, error) {
	const op = "generator.Generate"

	used := DietaryFilter(req.Ingredients, req.Dietary)

	prompt, err := buildRecipePrompt(req, used.Names())
	if err != nil {
		return nil, used, fmt.Errorf("%s: build prompt: %w", op, err)
	}

	raw, err := g.backend.Complete(ctx, prompt)
	if err != nil {
		return nil, used, fmt.Errorf("%s: %w", op, err)
	}

	recipes, err := g.parse(raw)
	if err != nil {
		return nil, used, fmt.Errorf("%s: %w", op, err)
	}
	return recipes, used, nil
}

func (g *RecipeGenerator) parse(raw string) ([]domain.Recipe, error) {
	obj, err := ExtractJSONObject(raw)
	if err != nil {
		return nil, err
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}

	var items []recipeItem
	if list, ok := envelope["recipes"]; ok {
		if err := json.Unmarshal(list, &items); err != nil {
			return nil, fmt.Errorf("%w: recipes: %v", domain.ErrMalformedResponse, err)
		}
	} else {
		var single recipeItem
		if err := json.Unmarshal([]byte(obj), &single); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
		}
		items = []recipeItem{single}
	}

	out := make([]domain.Recipe, 0, len(items))
	for _, it := range items {
		it.Name = strings.TrimSpace(it.Name)
		if err := g.validate.Struct(it); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
		}
		out = append(out, it.toDomain())
	}
	return out, nil
}

type recipeItem struct {
	Name         string           `json:"name" validate:"required"`
	Ingredients  []ingredientItem `json:"ingredients"`
	Steps        []stepItem       `json:"steps"`
	CookingTime  looseString      `json:"cooking_time"`
	Difficulty   looseString      `json:"difficulty"`
	CalorieLevel looseString      `json:"calorie_level"`
}

func (r recipeItem) toDomain() domain.Recipe {
	rec := domain.Recipe{
		Name:         r.Name,
		Ingredients:  make([]string, 0, len(r.Ingredients)),
		Steps:        make([]domain.Step, 0, len(r.Steps)),
		CookingTime:  string(r.CookingTime),
		Difficulty:   string(r.Difficulty),
		CalorieLevel: string(r.CalorieLevel),
	}
	for _, in := range r.Ingredients {
		if name := strings.TrimSpace(in.Name); name != "" {
			rec.Ingredients = append(rec.Ingredients, name)
		}
	}
	for i, s := range r.Steps {
		order := s.Order
		if order == 0 {
			order = i + 1
		}
		rec.Steps = append(rec.Steps, domain.Step{Order: order, Instruction: s.Instruction})
	}
	return rec
}

// stepItem accepts both {"order": 1, "instruction": "..."} and "...".
type stepItem struct {
	Order       int
	Instruction string
}

func (s *stepItem) UnmarshalJSON(b []byte) error {
	var text string
	if err := json.Unmarshal(b, &text); err == nil {
		s.Instruction = text
		return nil
	}
	var obj struct {
		Order       looseString `json:"order"`
		Step        looseString `json:"step"`
		Instruction string      `json:"instruction"`
		Text        string      `json:"text"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	order := obj.Order
	if order == "" {
		order = obj.Step
	}
	s.Order, _ = strconv.Atoi(string(order))
	s.Instruction = obj.Instruction
	if s.Instruction == "" {
		s.Instruction = obj.Text
	}
	return nil
}

// looseString accepts JSON strings, numbers and null.
type looseString string

func (l *looseString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*l = looseString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*l = looseString(n.String())
		return nil
	}
	if string(b) == "null" {
		*l = ""
		return nil
	}
	return fmt.Errorf("unexpected value %s", b)
}
