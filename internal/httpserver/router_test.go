package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stageflow/internal/handler"
	"stageflow/internal/lock"
	"stageflow/internal/repository/memstore"
	"stageflow/internal/service/schedule"
	"stageflow/pkg/rbac"
	"stageflow/pkg/util"
)

const testSecret = "test-secret"

type apiClient struct {
	t      *testing.T
	router *gin.Engine
}

func newAPI(t *testing.T, checks map[string]func(context.Context) error) *apiClient {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	svc := schedule.NewService(memstore.New(), lock.NewLocal(), nil, schedule.Config{}, log)
	h := Handlers{
		Projects:     handler.NewProjectHandler(svc, log),
		Stages:       handler.NewStageHandler(svc, log),
		Dependencies: handler.NewDependencyHandler(svc, log),
		Templates:    handler.NewTemplateHandler(svc, log),
	}
	return &apiClient{t: t, router: NewRouter(h, Options{JWTSecret: testSecret, ReadyChecks: checks}, log)}
}

func token(t *testing.T, role string) string {
	t.Helper()
	tok, err := util.GenerateJWT("u-"+role, role, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func (a *apiClient) do(method, path, role string, body any) (*httptest.ResponseRecorder, map[string]any) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+token(a.t, role))
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func field(t *testing.T, body map[string]any, keys ...string) string {
	t.Helper()
	var cur any = body
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		require.True(t, ok, "no object at %q", k)
		cur = m[k]
	}
	s, ok := cur.(string)
	require.True(t, ok, "value at %v is not a string", keys)
	return s
}

func TestHealthAndMetrics(t *testing.T) {
	api := newAPI(t, nil)

	w, _ := api.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	w, _ = api.do(http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = api.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadyzReportsFailingCheck(t *testing.T) {
	api := newAPI(t, map[string]func(context.Context) error{
		"db": func(context.Context) error { return errors.New("refused") },
	})
	w, body := api.do(http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "db_not_ready", body["status"])
}

func TestAuthAndPermissions(t *testing.T) {
	api := newAPI(t, nil)

	w, _ := api.do(http.MethodGet, "/api/v1/templates", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = api.do(http.MethodPost, "/api/v1/templates", rbac.RoleUser, map[string]any{"name": "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = api.do(http.MethodGet, "/api/v1/templates", rbac.RoleUser, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/templates", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSchedulingFlow(t *testing.T) {
	api := newAPI(t, nil)
	const mgr = rbac.RoleManager

	w, body := api.do(http.MethodPost, "/api/v1/projects", mgr, map[string]any{"name": "Flat 12"})
	require.Equal(t, http.StatusCreated, w.Code)
	projectID := field(t, body, "project", "id")

	w, body = api.do(http.MethodPost, "/api/v1/projects/"+projectID+"/items", mgr, map[string]any{"name": "Wardrobe"})
	require.Equal(t, http.StatusCreated, w.Code)
	itemID := field(t, body, "item", "id")
	systemID := field(t, body, "system_stage", "id")

	newStage := func(name, start, end string) string {
		w, body := api.do(http.MethodPost, "/api/v1/stages", mgr, map[string]any{
			"item_id":            itemID,
			"name":               name,
			"stage_type_id":      "assembly",
			"planned_start_date": start,
			"planned_end_date":   end,
		})
		require.Equal(t, http.StatusCreated, w.Code, "%v", body)
		return field(t, body, "stage", "id")
	}
	a := newStage("A", "2024-03-01T00:00:00Z", "2024-03-05T00:00:00Z")
	b := newStage("B", "2024-03-05T00:00:00Z", "2024-03-08T00:00:00Z")

	w, _ = api.do(http.MethodPost, "/api/v1/dependencies", mgr, map[string]any{"stage_id": b, "depends_on_stage_id": a})
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = api.do(http.MethodPost, "/api/v1/dependencies", mgr, map[string]any{"stage_id": a, "depends_on_stage_id": b})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = api.do(http.MethodGet, "/api/v1/stages/"+b+"/blockers", mgr, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["actionable"])

	w, body = api.do(http.MethodPut, "/api/v1/stages/"+b+"/status", mgr, map[string]any{"status": "in_progress"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, []any{a}, body["blockers"])

	w, body = api.do(http.MethodPut, "/api/v1/stages/"+a+"/deadline", mgr, map[string]any{
		"planned_start_date": "2024-03-01T00:00:00Z",
		"planned_end_date":   "2024-03-07T00:00:00Z",
		"reason":             "late delivery",
	})
	require.Equal(t, http.StatusOK, w.Code)
	shifted, ok := body["shifted_stages"].([]any)
	require.True(t, ok)
	require.Len(t, shifted, 1)
	assert.Equal(t, "2024-03-07T00:00:00Z", field(t, shifted[0].(map[string]any), "new_start"))
	assert.Equal(t, "2024-03-10T00:00:00Z", field(t, shifted[0].(map[string]any), "new_end"))

	w, body = api.do(http.MethodGet, "/api/v1/stages/"+b+"/history", mgr, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["history"], 1)

	w, _ = api.do(http.MethodPut, "/api/v1/items/"+itemID+"/stages/order", mgr, map[string]any{"stage_ids": []string{b, a}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = api.do(http.MethodPut, "/api/v1/items/"+itemID+"/stages/order", mgr, map[string]any{"stage_ids": []string{b, systemID, a}})
	require.Equal(t, http.StatusOK, w.Code)
	stages := body["stages"].([]any)
	assert.Equal(t, b, field(t, stages[0].(map[string]any), "id"))

	w, _ = api.do(http.MethodDelete, "/api/v1/stages/"+systemID, mgr, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = api.do(http.MethodDelete, "/api/v1/stages/"+systemID, rbac.RoleAdmin, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, body = api.do(http.MethodGet, "/api/v1/projects/"+projectID+"/final-deadline", mgr, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2024-03-10T00:00:00Z", body["final_deadline"])

	w, _ = api.do(http.MethodGet, "/api/v1/stages/does-not-exist", mgr, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTemplateFlow(t *testing.T) {
	api := newAPI(t, nil)
	const mgr = rbac.RoleManager

	w, body := api.do(http.MethodPost, "/api/v1/templates", mgr, map[string]any{
		"name": "Wardrobe",
		"stages": []map[string]any{
			{"key": "cut", "name": "Cutting", "stage_type_id": "cutting", "duration_days": 2},
			{"key": "asm", "name": "Assembly", "stage_type_id": "assembly", "duration_days": 1},
		},
		"dependencies": []map[string]any{{"stage_key": "asm", "depends_on_key": "cut"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, "%v", body)
	templateID := field(t, body, "template", "id")

	w, body = api.do(http.MethodPost, "/api/v1/projects", mgr, map[string]any{"name": "P"})
	require.Equal(t, http.StatusCreated, w.Code)
	w, body = api.do(http.MethodPost, "/api/v1/projects/"+field(t, body, "project", "id")+"/items", mgr, map[string]any{"name": "I"})
	require.Equal(t, http.StatusCreated, w.Code)
	itemID := field(t, body, "item", "id")

	w, body = api.do(http.MethodPost, "/api/v1/items/"+itemID+"/apply-template", mgr, map[string]any{
		"template_id": templateID,
		"start_at":    "2024-05-01T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, w.Code, "%v", body)
	assert.Len(t, body["stages"], 2)
	assert.Len(t, body["dependencies"], 1)

	w, _ = api.do(http.MethodPost, "/api/v1/items/"+itemID+"/apply-template", mgr, map[string]any{"template_id": "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = api.do(http.MethodPost, "/api/v1/items/"+itemID+"/apply-template", rbac.RoleUser, map[string]any{"template_id": templateID})
	assert.Equal(t, http.StatusForbidden, w.Code)
}
