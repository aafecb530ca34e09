package transport

import "github.com/you-humble/snapchef/core/domain"

type submitResponse struct {
	TaskID string            `json:"task_id"`
	Status domain.TaskStatus `json:"status"`
}

type statusResponse struct {
	Status domain.TaskStatus `json:"status"`
	Error  string            `json:"error,omitempty"`
}

type ingredientsResponse struct {
	Status                   domain.TaskStatus `json:"status"`
	Ingredients              []string          `json:"ingredients"`
	RawIngredients           []string          `json:"raw_ingredients"`
	ForbiddenProductsRemoved []string          `json:"forbidden_products_removed"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
