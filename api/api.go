package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Error struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	SupportId string `json:"support_id"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func writeError(c *gin.Context, message string, code int) {
	resp := Error{
		Code:      code,
		Message:   message,
		SupportId: uuid.NewString(),
	}
	if code >= http.StatusInternalServerError {
		log.Error().Str("support_id", resp.SupportId).Msg(message)
	}
	c.AbortWithStatusJSON(code, resp)
}

var (
	BadRequestErrorHandler = func(c *gin.Context, err error) {
		writeError(c, err.Error(), http.StatusBadRequest)
	}
	InternalErrorHandler = func(c *gin.Context) {
		writeError(c, "An unexpected error occurred.", http.StatusInternalServerError)
	}
	UnauthorizedErrorHandler = func(c *gin.Context, err error) {
		writeError(c, err.Error(), http.StatusUnauthorized)
	}
)
