package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/you-humble/snapchef/api/internal/usecase"
	"github.com/you-humble/snapchef/core/domain"
	"github.com/you-humble/snapchef/core/inference"
	"github.com/you-humble/snapchef/core/metrics"
	filestore "github.com/you-humble/snapchef/core/store/file"
	taskstore "github.com/you-humble/snapchef/core/store/task"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, bytes.Repeat([]byte{0x7F}, 128)...)

const recipesAnswer = "Sure! Here you go:\n```json\n" + `{"recipes": [
  {"name": "Shakshuka", "ingredients": ["tomato", "egg"], "steps": ["Chop tomatoes", {"order": 2, "instruction": "Add eggs"}], "cooking_time": 20, "difficulty": "easy", "calorie_level": "low"},
  {"name": "Carbonara", "ingredients": ["bacon", "egg"], "steps": ["Fry bacon"]}
]}` + "\n```"

type visionStub struct {
	answer string
}

func (v visionStub) Describe(context.Context, string, []byte) (string, error) {
	return v.answer, nil
}

type textStub struct {
	mu     sync.Mutex
	answer string
	err    error
	calls  int
}

func (s *textStub) Complete(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.answer, s.err
}

func (s *textStub) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *textStub) set(answer string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answer, s.err, s.calls = answer, err, 0
}

// workerQueue keeps published jobs until the test runs them through the
// recognizer, the way a worker would.
type workerQueue struct {
	mu   sync.Mutex
	jobs map[string]string
}

func (q *workerQueue) Publish(_ context.Context, taskID, imagePath string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[taskID] = imagePath
	return nil
}

type env struct {
	srv     *httptest.Server
	tasks   *taskstore.Store
	queue   *workerQueue
	vision  *inference.Recognizer
	text    *textStub
	metrics *metrics.Metrics
}

func newEnv(t *testing.T) *env {
	t.Helper()

	local, err := filestore.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	e := &env{
		tasks:   taskstore.New(taskstore.NewFileKV(local)),
		queue:   &workerQueue{jobs: make(map[string]string)},
		text:    &textStub{answer: recipesAnswer},
		metrics: metrics.New("test"),
	}
	e.vision = inference.NewRecognizer(visionStub{answer: `{"ingredients": ["tomato", {"name": "egg"}, " bacon "]}`}, local)

	uc := usecase.New(
		e.tasks, local, e.queue,
		inference.NewRecipeGenerator(e.text),
		nil,
		usecase.RecipeRetry{MaxAttempts: 3, BaseDelay: time.Millisecond},
		e.metrics,
	)
	h := NewHandler(1, uc, e.metrics)
	mux := NewRouter(h, e.metrics.Handler()).MountRoutes(http.NewServeMux())

	e.srv = httptest.NewServer(WithRecover(LogMiddleware(e.metrics, mux)))
	t.Cleanup(e.srv.Close)
	return e
}

func (e *env) runWorker(t *testing.T, taskID string) {
	t.Helper()
	e.queue.mu.Lock()
	imagePath, ok := e.queue.jobs[taskID]
	e.queue.mu.Unlock()
	require.True(t, ok, "task %s was not published", taskID)

	ctx := context.Background()
	require.NoError(t, e.tasks.PutRecognition(ctx, taskID, domain.RecognitionResult{Status: domain.StatusProcessing}))
	ingredients, err := e.vision.Infer(ctx, imagePath)
	require.NoError(t, err)
	require.NoError(t, e.tasks.PutRecognition(ctx, taskID, domain.RecognitionResult{Status: domain.StatusDone, Ingredients: ingredients}))
}

func (e *env) upload(t *testing.T, filename string, content []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(e.srv.URL+"/start-processing", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func (e *env) generate(t *testing.T, taskID string, form url.Values) *http.Response {
	t.Helper()
	resp, err := http.PostForm(e.srv.URL+"/generate-recipes/"+taskID, form)
	require.NoError(t, err)
	return resp
}

func (e *env) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestPipeline_PhotoToRecipes(t *testing.T) {
	e := newEnv(t)

	resp := e.upload(t, "dinner.jpg", jpegBytes)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	submitted := decode[submitResponse](t, resp)
	require.NotEmpty(t, submitted.TaskID)
	assert.Equal(t, domain.StatusQueued, submitted.Status)

	resp = e.get(t, "/get-result/"+submitted.TaskID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, statusResponse{Status: domain.StatusQueued}, decode[statusResponse](t, resp))

	e.runWorker(t, submitted.TaskID)

	resp = e.get(t, "/get-result/"+submitted.TaskID+"?forbidden_products=Bacon")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ingredientsResponse{
		Status:                   domain.StatusDone,
		Ingredients:              []string{"tomato", "egg"},
		RawIngredients:           []string{"tomato", "egg", "bacon"},
		ForbiddenProductsRemoved: []string{"bacon"},
	}, decode[ingredientsResponse](t, resp))

	resp = e.generate(t, submitted.TaskID, url.Values{
		"forbidden_products": {"bacon"},
		"user_feedback":      {"less oil"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[domain.RecipeResult](t, resp)

	assert.Equal(t, submitted.TaskID, result.TaskID)
	assert.Equal(t, "less oil", result.FeedbackUsed)
	assert.Equal(t, domain.Ingredients{{Name: "tomato"}, {Name: "egg"}}, result.Ingredients)
	require.Len(t, result.Recipes, 1)
	assert.Equal(t, domain.Recipe{
		Name:        "Shakshuka",
		Ingredients: []string{"tomato", "egg"},
		Steps: []domain.Step{
			{Order: 1, Instruction: "Chop tomatoes"},
			{Order: 2, Instruction: "Add eggs"},
		},
		CookingTime:  "20",
		Difficulty:   "easy",
		CalorieLevel: "low",
	}, result.Recipes[0])

	resp = e.get(t, "/recipes/"+submitted.TaskID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, result, decode[domain.RecipeResult](t, resp))

	resp = e.get(t, "/metrics")
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "test_tasks_submitted_total 1")
	assert.Contains(t, string(raw), `test_recipe_requests_total{code="200"} 1`)
}

func TestStartProcessing_Rejects(t *testing.T) {
	e := newEnv(t)

	resp := e.upload(t, "notes.txt", jpegBytes)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errResp := decode[domain.ErrorResponse](t, resp)
	assert.Equal(t, domain.ErrInvalidFileType.Error(), errResp.Message)

	resp = e.upload(t, "fake.png", []byte("plain text pretending to be a png"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Post(e.srv.URL+"/start-processing", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "huge.jpg")
	require.NoError(t, err)
	_, err = fw.Write(append(append([]byte{}, jpegBytes...), bytes.Repeat([]byte{0}, 2<<20)...))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/start-processing", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.srv.Config.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	var tooLarge domain.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tooLarge))
	assert.Equal(t, "file exceeds 1 MB", tooLarge.Message)

	assert.Empty(t, e.queue.jobs)
}

func TestGetResult_UnknownTaskIsProcessing(t *testing.T) {
	e := newEnv(t)

	resp := e.get(t, "/get-result/"+"0b8f2d4e-unknown")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, statusResponse{Status: domain.StatusProcessing}, decode[statusResponse](t, resp))

	resp = e.get(t, "/get-result/x?user_id=abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestGetResult_RecognitionError(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.tasks.PutRecognition(context.Background(), "t1",
		domain.RecognitionResult{Status: domain.StatusError, Error: "ingredient recognition failed: gave up after 3 attempts"}))

	resp := e.get(t, "/get-result/t1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, statusResponse{
		Status: domain.StatusError,
		Error:  "ingredient recognition failed: gave up after 3 attempts",
	}, decode[statusResponse](t, resp))
}

func TestGenerateRecipes_Errors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.tasks.PutRecognition(ctx, "processing", domain.RecognitionResult{Status: domain.StatusProcessing}))
	require.NoError(t, e.tasks.PutRecognition(ctx, "failed", domain.RecognitionResult{Status: domain.StatusError, Error: "vlm down"}))
	require.NoError(t, e.tasks.PutRecognition(ctx, "done", domain.RecognitionResult{
		Status:      domain.StatusDone,
		Ingredients: domain.Ingredients{{Name: "egg"}},
	}))

	tests := []struct {
		name      string
		taskID    string
		form      url.Values
		answer    string
		backend   error
		wantCode  int
		wantCalls int
	}{
		{name: "unknown task", taskID: "nope", wantCode: http.StatusNotFound},
		{name: "not recognized yet", taskID: "processing", wantCode: http.StatusNotFound},
		{name: "recognition failed", taskID: "failed", wantCode: http.StatusInternalServerError},
		{name: "bad user id", taskID: "done", form: url.Values{"user_id": {"x"}}, wantCode: http.StatusBadRequest},
		{name: "everything forbidden", taskID: "done", form: url.Values{"forbidden_products": {"EGG"}}, wantCode: http.StatusBadRequest},
		{
			name:      "rate limited",
			taskID:    "done",
			backend:   &domain.BackendError{StatusCode: 429, Body: "quota"},
			wantCode:  http.StatusTooManyRequests,
			wantCalls: 3,
		},
		{
			name:      "backend timeout",
			taskID:    "done",
			backend:   errors.Join(domain.ErrTimeout, context.DeadlineExceeded),
			wantCode:  http.StatusGatewayTimeout,
			wantCalls: 3,
		},
		{
			name:      "malformed output",
			taskID:    "done",
			answer:    "I cannot cook today",
			wantCode:  http.StatusInternalServerError,
			wantCalls: 3,
		},
		{
			name:      "client error is not retried",
			taskID:    "done",
			backend:   &domain.BackendError{StatusCode: 400, Body: "bad request"},
			wantCode:  http.StatusInternalServerError,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e.text.set(tt.answer, tt.backend)

			resp := e.generate(t, tt.taskID, tt.form)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			errResp := decode[domain.ErrorResponse](t, resp)
			assert.NotEmpty(t, errResp.Message)
			assert.Equal(t, tt.wantCalls, e.text.attempts())
		})
	}

	resp := e.get(t, "/recipes/done")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "recipes not found", decode[domain.ErrorResponse](t, resp).Message)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)

	resp := e.get(t, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, healthResponse{Status: "ok"}, decode[healthResponse](t, resp))
}

func TestHealthz_Checks(t *testing.T) {
	var dbErr error
	h := NewHandler(1, nil, nil, HealthCheck{
		Name: "preferences",
		Ping: func(context.Context) error { return dbErr },
	})
	mux := NewRouter(h, nil).MountRoutes(http.NewServeMux())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var ok healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ok))
	assert.Equal(t, healthResponse{Status: "ok", Checks: map[string]string{"preferences": "ok"}}, ok)

	dbErr = errors.New("dial tcp: connection refused")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var degraded healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &degraded))
	assert.Equal(t, healthResponse{
		Status: "degraded",
		Checks: map[string]string{"preferences": "dial tcp: connection refused"},
	}, degraded)
}

func TestWithRecover(t *testing.T) {
	h := WithRecover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body domain.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal server error", body.Message)
}
