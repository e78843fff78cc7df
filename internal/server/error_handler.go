// file: internal/server/error_handler.go
// version: 2.0.0
// guid: 5d6e7f8a-9b0c-1d2e-3f4a-5b6c7d8e9f0a

package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jdfalk/paced-downloader/internal/models"
	"github.com/jdfalk/paced-downloader/internal/queue"
)

// ErrorResponse provides a consistent error response format
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Status int    `json:"status"`
}

// RespondWithError sends a standardized error response and logs the error
func (s *Server) RespondWithError(c *gin.Context, statusCode int, message string, code string) {
	s.logErrorWithContext(c, statusCode, message)
	c.JSON(statusCode, ErrorResponse{
		Error:  message,
		Code:   code,
		Status: statusCode,
	})
}

// RespondWithBadRequest sends a 400 Bad Request error response
func (s *Server) RespondWithBadRequest(c *gin.Context, message string) {
	s.RespondWithError(c, http.StatusBadRequest, message, "BAD_REQUEST")
}

// RespondWithNotFound sends a 404 Not Found error response
func (s *Server) RespondWithNotFound(c *gin.Context, resourceType string, id string) {
	message := resourceType + " not found"
	if id != "" {
		message = message + ": " + id
	}
	s.RespondWithError(c, http.StatusNotFound, message, "NOT_FOUND")
}

// RespondWithQueueError maps queue errors onto HTTP statuses.
func (s *Server) RespondWithQueueError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidItem):
		s.RespondWithError(c, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
	case errors.Is(err, queue.ErrDuplicateItem):
		s.RespondWithError(c, http.StatusConflict, err.Error(), "DUPLICATE")
	case errors.Is(err, queue.ErrAlreadyCompleted):
		s.RespondWithError(c, http.StatusConflict, err.Error(), "ALREADY_DOWNLOADED")
	case errors.Is(err, queue.ErrNotFound):
		s.RespondWithError(c, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, queue.ErrInvalidTransition):
		s.RespondWithError(c, http.StatusConflict, err.Error(), "INVALID_STATE")
	case errors.Is(err, queue.ErrQueueStopped):
		s.RespondWithError(c, http.StatusServiceUnavailable, err.Error(), "STOPPED")
	case errors.Is(err, context.DeadlineExceeded):
		s.RespondWithError(c, http.StatusServiceUnavailable, "queue is full, try again later", "QUEUE_FULL")
	case errors.Is(err, context.Canceled):
		s.RespondWithError(c, http.StatusServiceUnavailable, "request cancelled", "CANCELLED")
	default:
		s.RespondWithError(c, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

// logErrorWithContext logs an error with request context for debugging
func (s *Server) logErrorWithContext(c *gin.Context, statusCode int, message string) {
	kv := []any{"method", c.Request.Method, "path", c.Request.URL.Path, "status", statusCode, "client", c.ClientIP()}
	if statusCode >= 500 {
		s.logger.Error(message, kv...)
		return
	}
	s.logger.Warn(message, kv...)
}

// HandleBindError handles JSON binding errors with a consistent response
func (s *Server) HandleBindError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	if strings.Contains(errMsg, "required") || strings.Contains(errMsg, "binding") {
		s.RespondWithError(c, http.StatusBadRequest, "validation error: request body ("+errMsg+")", "VALIDATION_ERROR")
	} else {
		s.RespondWithBadRequest(c, "invalid request: "+errMsg)
	}
	return true
}

// ParseQueryInt parses an integer query parameter with a default value
func ParseQueryInt(c *gin.Context, key string, defaultValue int) int {
	valueStr := c.DefaultQuery(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// PaginationParams holds the list window.
type PaginationParams struct {
	Limit  int
	Offset int
}

// ParsePaginationParams parses common pagination parameters from query string
func ParsePaginationParams(c *gin.Context) PaginationParams {
	limit := ParseQueryInt(c, "limit", 100)
	offset := ParseQueryInt(c, "offset", 0)
	if limit < 1 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	return PaginationParams{Limit: limit, Offset: offset}
}
