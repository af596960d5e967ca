package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandlersAbortWithJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name    string
		handler gin.HandlerFunc
		code    int
		message string
	}{
		{"bad request", func(c *gin.Context) { BadRequestErrorHandler(c, errors.New("missing address")) }, http.StatusBadRequest, "missing address"},
		{"unauthorized", func(c *gin.Context) { UnauthorizedErrorHandler(c, errors.New("invalid token")) }, http.StatusUnauthorized, "invalid token"},
		{"internal", func(c *gin.Context) { InternalErrorHandler(c) }, http.StatusInternalServerError, "An unexpected error occurred."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached := false
			router := gin.New()
			router.GET("/", tt.handler, func(c *gin.Context) { reached = true })

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.code, w.Code)
			assert.False(t, reached, "handler chain must be aborted")

			var body Error
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.message, body.Message)
			assert.NotEmpty(t, body.SupportId)
		})
	}
}
