package inference

import (
	"strings"
	"text/template"
)

const recognitionPrompt = `You are a food recognition assistant.
List every distinct food product visible in the photo.
Answer with JSON only, no prose, in exactly this shape:
{"ingredients": [{"name": "<product name>"}]}
Use short lowercase product names. If no food is visible answer {"ingredients": []}.`

var recipeTmpl = template.Must(template.New("recipe").Parse(`You are a cooking assistant.
Create up to 3 recipes that use the following ingredients: {{.Ingredients}}.
Dietary restrictions: {{.Dietary}}.
User feedback: {{.Feedback}}.
Preferred calorie level: {{.CalorieLevel}}.
Preferred cooking time: {{.CookingTime}}.
Preferred difficulty: {{.Difficulty}}.
Do not repeat these already suggested recipes: {{.Existing}}.
Answer with JSON only, no prose, in exactly this shape:
{"recipes": [{"name": "...", "ingredients": ["..."], "steps": [{"order": 1, "instruction": "..."}], "cooking_time": "...", "difficulty": "...", "calorie_level": "..."}]}`))

type recipePromptData struct {
	Ingredients  string
	Dietary      string
	Feedback     string
	CalorieLevel string
	CookingTime  string
	Difficulty   string
	Existing     string
}

func orNone(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return noneWord
	}
	return s
}

func buildRecipePrompt(req RecipeRequest, ingredients []string) (string, error) {
	var sb strings.Builder
	err := recipeTmpl.Execute(&sb, recipePromptData{
		Ingredients:  strings.Join(ingredients, ", "),
		Dietary:      orNone(req.Dietary),
		Feedback:     orNone(req.Feedback),
		CalorieLevel: orNone(req.PreferredCalorieLevel),
		CookingTime:  orNone(req.PreferredCookingTime),
		Difficulty:   orNone(req.PreferredDifficulty),
		Existing:     orNone(req.ExistingRecipes),
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}
