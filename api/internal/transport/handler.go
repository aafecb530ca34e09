package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/you-humble/snapchef/api/internal/usecase"
	"github.com/you-humble/snapchef/core/domain"
	"github.com/you-humble/snapchef/core/metrics"

	"github.com/google/uuid"
)

type Usecase interface {
	Submit(ctx context.Context, file io.Reader, filename string, size int64) (string, error)
	Result(ctx context.Context, taskID, forbiddenProducts string, userID *int64) (usecase.RecognitionView, error)
	GenerateRecipes(ctx context.Context, taskID string, p usecase.GenerateParams) (domain.RecipeResult, error)
	Recipes(ctx context.Context, taskID string) (domain.RecipeResult, error)
}

// HealthCheck is a dependency checked by /healthz.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

const healthTimeout = 2 * time.Second

type handler struct {
	maxUploadBytes int64
	usecase        Usecase
	metrics        *metrics.Metrics
	checks         []HealthCheck
}

func NewHandler(maxUploadMb int64, uc Usecase, m *metrics.Metrics, checks ...HealthCheck) *handler {
	return &handler{
		maxUploadBytes: maxUploadMb << 20,
		usecase:        uc,
		metrics:        m,
		checks:         checks,
	}
}

func requestLogger(r *http.Request, name string) *slog.Logger {
	return slog.With(
		slog.String("request_id", uuid.NewString()),
		slog.String("handler", name),
		slog.String("remote_addr", r.RemoteAddr),
	)
}

func (h *handler) startProcessing(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, "start_processing")

	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn("upload too large", slog.Int64("limit", tooLarge.Limit))
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file exceeds %d MB", h.maxUploadBytes>>20))
			return
		}
		logger.Error("ParseMultipartForm", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "unable to parse multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		logger.Warn("missing file field")
		writeError(w, http.StatusBadRequest, "field `file` is required")
		return
	}
	defer file.Close()

	logger = logger.With(slog.String("file_name", header.Filename))

	taskID, err := h.usecase.Submit(r.Context(), file, header.Filename, header.Size)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidFileType) {
			logger.Warn("rejected upload", slog.String("error", err.Error()))
			writeError(w, http.StatusBadRequest, domain.ErrInvalidFileType.Error())
			return
		}
		logger.Error("Submit usecase", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "cannot create recognition task")
		return
	}

	logger.Info("task queued", slog.String("task_id", taskID))
	writeJSON(w, http.StatusAccepted, submitResponse{TaskID: taskID, Status: domain.StatusQueued})
}

func (h *handler) getResult(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, "get_result")

	taskID := r.PathValue("task_id")
	userID, err := parseUserID(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "user_id must be an integer")
		return
	}

	view, err := h.usecase.Result(r.Context(), taskID, r.URL.Query().Get("forbidden_products"), userID)
	if err != nil {
		status, msg := errorStatus(err)
		if status >= http.StatusInternalServerError {
			logger.Error("Result usecase", slog.String("task_id", taskID), slog.String("error", err.Error()))
		}
		writeError(w, status, msg)
		return
	}

	if view.Status != domain.StatusDone {
		writeJSON(w, http.StatusOK, statusResponse{Status: view.Status, Error: view.Error})
		return
	}

	writeJSON(w, http.StatusOK, ingredientsResponse{
		Status:                   view.Status,
		Ingredients:              view.Ingredients,
		RawIngredients:           view.Raw,
		ForbiddenProductsRemoved: view.Removed,
	})
}

func (h *handler) generateRecipes(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, "generate_recipes")
	taskID := r.PathValue("task_id")
	logger = logger.With(slog.String("task_id", taskID))

	if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		logger.Error("ParseMultipartForm", slog.String("error", err.Error()))
		h.recipeError(w, http.StatusBadRequest, "unable to parse form")
		return
	}

	userID, err := parseUserID(r.FormValue("user_id"))
	if err != nil {
		h.recipeError(w, http.StatusBadRequest, "user_id must be an integer")
		return
	}

	result, err := h.usecase.GenerateRecipes(r.Context(), taskID, usecase.GenerateParams{
		Dietary:               formValue(r, "dietary", "нет"),
		Feedback:              formValue(r, "user_feedback", "нет"),
		PreferredCalorieLevel: r.FormValue("preferred_calorie_level"),
		PreferredCookingTime:  r.FormValue("preferred_cooking_time"),
		PreferredDifficulty:   r.FormValue("preferred_difficulty"),
		ExistingRecipes:       r.FormValue("existing_recipes"),
		ForbiddenProducts:     r.FormValue("forbidden_products"),
		UserID:                userID,
	})
	if err != nil {
		status, msg := errorStatus(err)
		if status >= http.StatusInternalServerError {
			logger.Error("GenerateRecipes usecase", slog.String("error", err.Error()))
		} else {
			logger.Warn("GenerateRecipes rejected", slog.String("error", err.Error()))
		}
		h.recipeError(w, status, msg)
		return
	}

	h.metrics.RecipeRequest(http.StatusOK)
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) recipeError(w http.ResponseWriter, status int, msg string) {
	h.metrics.RecipeRequest(status)
	writeError(w, status, msg)
}

func (h *handler) recipes(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, "recipes")
	taskID := r.PathValue("task_id")

	result, err := h.usecase.Recipes(r.Context(), taskID)
	if err != nil {
		status, msg := errorStatus(err)
		if errors.Is(err, domain.ErrTaskNotFound) {
			msg = "recipes not found"
		}
		if status >= http.StatusInternalServerError {
			logger.Error("Recipes usecase", slog.String("task_id", taskID), slog.String("error", err.Error()))
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if len(h.checks) == 0 {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	status := http.StatusOK
	for _, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			slog.Warn("health check failed", slog.String("check", c.Name), slog.String("error", err.Error()))
			resp.Checks[c.Name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, resp)
}

// errorStatus maps usecase errors to an HTTP status and a client message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrMissingTaskID):
		return http.StatusBadRequest, domain.ErrMissingTaskID.Error()
	case errors.Is(err, domain.ErrInvalidFileType):
		return http.StatusBadRequest, domain.ErrInvalidFileType.Error()
	case errors.Is(err, domain.ErrNoIngredients):
		return http.StatusBadRequest, domain.ErrNoIngredients.Error()
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound, "ingredients not found for this task"
	case errors.Is(err, domain.ErrRecognitionNotReady):
		return http.StatusNotFound, domain.ErrRecognitionNotReady.Error()
	case errors.Is(err, domain.ErrRecognitionFailed):
		return http.StatusInternalServerError, err.Error()
	case errors.Is(err, domain.ErrRecipeRateLimited):
		return http.StatusTooManyRequests, domain.ErrRecipeRateLimited.Error()
	case errors.Is(err, domain.ErrRecipeBackendTimeout):
		return http.StatusGatewayTimeout, domain.ErrRecipeBackendTimeout.Error()
	default:
		return http.StatusInternalServerError, ""
	}
}

func parseUserID(raw string) (*int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func formValue(r *http.Request, key, def string) string {
	if v := strings.TrimSpace(r.FormValue(key)); v != "" {
		return v
	}
	return def
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	resp := domain.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON", slog.String("error", err.Error()))
	}
}
