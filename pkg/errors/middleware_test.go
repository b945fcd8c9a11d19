package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details any    `json:"details"`
	} `json:"error"`
}

func serve(t *testing.T, h gin.HandlerFunc) (*httptest.ResponseRecorder, errorBody) {
	t.Helper()
	r := gin.New()
	r.Use(RecoveryWithLogger(), ErrorHandler())
	r.GET("/", h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var body errorBody
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestErrorHandler_RendersAppError(t *testing.T) {
	w, body := serve(t, func(c *gin.Context) {
		c.Error(NewNotFoundError(CodeNotFound, "missing").WithDetails("conv-1"))
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeNotFound, body.Error.Code)
	assert.Equal(t, "missing", body.Error.Message)
	assert.Equal(t, "conv-1", body.Error.Details)
}

func TestErrorHandler_HidesInternalCause(t *testing.T) {
	w, body := serve(t, func(c *gin.Context) {
		c.Error(errors.New("password=hunter2"))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, CodeInternal, body.Error.Code)
	assert.NotContains(t, w.Body.String(), "hunter2")
}

func TestErrorHandler_LeavesWrittenResponses(t *testing.T) {
	w, _ := serve(t, func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{"ok": true})
		c.Error(errors.New("late"))
	})
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestRecovery(t *testing.T) {
	w, body := serve(t, func(c *gin.Context) { panic("kaboom") })
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "SERVER_ERROR", body.Error.Code)
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	appErr := NewConflictError(CodeConflict, "conflict")
	wrapped := fmt.Errorf("commit: %w", appErr)
	assert.Same(t, appErr, FromError(wrapped))
	assert.Equal(t, http.StatusConflict, GetStatusCode(wrapped))
	assert.Equal(t, CodeConflict, GetErrorCode(wrapped))

	assert.Equal(t, http.StatusInternalServerError, GetStatusCode(errors.New("x")))
	assert.Equal(t, "UNKNOWN_ERROR", GetErrorCode(errors.New("x")))
	assert.True(t, Is(wrapped, NewConflictError(CodeConflict, "other message")))
}
