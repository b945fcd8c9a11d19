package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"school-portal/backend/pkg/config"
	"school-portal/backend/pkg/di"
	"school-portal/backend/pkg/jwt"
	"school-portal/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router    *Router
	container *di.Container
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Load()
	cfg.Database.Driver = config.DriverMemory
	cfg.Redis.Addr = ""
	cfg.Kafka.Brokers = nil
	cfg.Archival.Enabled = false
	cfg.Security.RateLimit = 1000
	cfg.Security.RateLimitBurst = 1000
	cfg.OpenAPI.SpecPath = "../../api/openapi.yaml"
	cfg.JWT.Secret = "router-test-secret"
	cfg.JWT.Issuer = ""

	ctx := context.Background()
	container, err := di.New(ctx, cfg, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close(context.Background()) })

	r := New(container)
	r.SetupRoutes(ctx)
	container.Health.RunChecks(ctx)

	return &testServer{router: r, container: container}
}

func (s *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req, _ = http.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.Engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) token(t *testing.T, userID string, role jwt.Role) string {
	t.Helper()
	tok, err := s.container.JWTService.GenerateToken(userID, role)
	require.NoError(t, err)
	return tok
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database"`)

	w = s.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestConversationRoutes_RequireAuth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/conversations", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "AUTH_REQUIRED")

	w = s.do(t, http.MethodGet, "/api/v1/conversations", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_TOKEN")
}

func TestConversationLifecycle(t *testing.T) {
	s := newTestServer(t)
	student := s.token(t, "student-1", jwt.RoleStudent)

	w := s.do(t, http.MethodPost, "/api/v1/conversations", student,
		`{"context":{"role":"student","grade":"10","subjects":["math"]}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		User  string `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "student-1", created.User)
	assert.Equal(t, "Conversation with student", created.Title)

	w = s.do(t, http.MethodPost, "/api/v1/conversations/"+created.ID+"/messages", student,
		`{"content":"  what is a derivative?  ","sender":"user"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var view struct {
		MessageCount struct {
			User int `json:"user"`
			Bot  int `json:"bot"`
		} `json:"messageCount"`
		UnreadCount int `json:"unreadCount"`
		LastMessage struct {
			Content  string `json:"content"`
			SenderID string `json:"senderId"`
		} `json:"lastMessage"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, 1, view.MessageCount.User)
	assert.Equal(t, 0, view.UnreadCount)
	assert.Equal(t, "what is a derivative?", view.LastMessage.Content)
	assert.Equal(t, "student-1", view.LastMessage.SenderID)

	w = s.do(t, http.MethodGet, "/api/v1/conversations?active=true", student, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	other := s.token(t, "student-2", jwt.RoleStudent)
	w = s.do(t, http.MethodGet, "/api/v1/conversations/"+created.ID, other, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConversationRoutes_SchemaAndDomainErrors(t *testing.T) {
	s := newTestServer(t)
	teacher := s.token(t, "teacher-1", jwt.RoleTeacher)

	w := s.do(t, http.MethodPost, "/api/v1/conversations", teacher, `{"context":{"role":"teacher","grade":"10"}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_FAILED")
	assert.Contains(t, w.Body.String(), "context.grade")

	w = s.do(t, http.MethodPost, "/api/v1/conversations", teacher, `{"context":{"role":"teacher"},"tags":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_REQUEST")
}

func TestArchiveRoute_AdminOnly(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/admin/conversations/archive", s.token(t, "t1", jwt.RoleTeacher), "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/admin/conversations/archive", s.token(t, "a1", jwt.RoleAdmin),
		`{"thresholdDays":7}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"archived":0,"thresholdDays":7}`, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/admin/conversations/archive", s.token(t, "a1", jwt.RoleAdmin),
		`{"thresholdDays":200000}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_REQUEST")
}

func TestCORS_Preflight(t *testing.T) {
	s := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, "/api/v1/conversations", nil)
	req.Header.Set("Origin", "https://portal.example")
	w := httptest.NewRecorder()
	s.router.Engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}
