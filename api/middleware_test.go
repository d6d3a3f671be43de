package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/memtensor/deepresearch/pkg/interfaces"
)

// MockLogger records Info calls; the other levels are ignored
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(msg string, fields ...map[string]interface{}) {}

func (m *MockLogger) Info(msg string, fields ...map[string]interface{}) {
	var f map[string]interface{}
	if len(fields) > 0 {
		f = fields[0]
	}
	m.Called(msg, f)
}

func (m *MockLogger) Warn(msg string, fields ...map[string]interface{}) {}

func (m *MockLogger) Error(msg string, err error, fields ...map[string]interface{}) {}

func (m *MockLogger) Fatal(msg string, err error, fields ...map[string]interface{}) {}

func (m *MockLogger) WithFields(fields map[string]interface{}) interfaces.Logger { return m }

func TestLoggingMiddleware(t *testing.T) {
	t.Run("LogsRequestFields", func(t *testing.T) {
		mockLogger := &MockLogger{}
		mockLogger.On("Info", "HTTP Request", mock.MatchedBy(func(fields map[string]interface{}) bool {
			_, hasMethod := fields["method"]
			_, hasPath := fields["path"]
			_, hasStatusCode := fields["status_code"]
			_, hasLatency := fields["latency"]
			_, hasClientIP := fields["client_ip"]
			_, hasUserAgent := fields["user_agent"]
			return hasMethod && hasPath && hasStatusCode && hasLatency && hasClientIP && hasUserAgent
		})).Return()
		mockLogger.On("Info", mock.Anything, mock.Anything).Maybe().Return()
		env := setupTestServer(t, testLLM(), mockLogger)

		w := performRequest(env.server.Router(), http.MethodGet, "/", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		mockLogger.AssertExpectations(t)
	})

	t.Run("LogsRequestID", func(t *testing.T) {
		mockLogger := &MockLogger{}
		mockLogger.On("Info", "HTTP Request", mock.MatchedBy(func(fields map[string]interface{}) bool {
			return fields["request_id"] == "test-request-123"
		})).Return()
		mockLogger.On("Info", mock.Anything, mock.Anything).Maybe().Return()
		env := setupTestServer(t, testLLM(), mockLogger)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(requestIDHeader, "test-request-123")
		w := httptest.NewRecorder()
		env.server.Router().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockLogger.AssertExpectations(t)
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	env := setupTestServer(t, testLLM(), nil)

	t.Run("Generated", func(t *testing.T) {
		w := performRequest(env.server.Router(), http.MethodGet, "/", nil)
		assert.Len(t, w.Header().Get(requestIDHeader), 36)
	})

	t.Run("Propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(requestIDHeader, "abc")
		w := httptest.NewRecorder()
		env.server.Router().ServeHTTP(w, req)
		assert.Equal(t, "abc", w.Header().Get(requestIDHeader))
	})
}

func TestCORSMiddleware(t *testing.T) {
	env := setupTestServer(t, testLLM(), nil)

	t.Run("AllowedOrigin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/search", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		env.server.Router().ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("RejectedOrigin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "http://evil.example")
		w := httptest.NewRecorder()
		env.server.Router().ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	env := setupTestServer(t, testLLM(), nil)
	env.server.Router().GET("/boom", func(c *gin.Context) {
		panic("kaboom")
	})

	w := performRequest(env.server.Router(), http.MethodGet, "/boom", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"detail":"Internal server error"}`, w.Body.String())
}
