package http

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sitecraft/builder-service/internal/service"
)

// statusFor maps a service error kind to its HTTP status. Ownership
// mismatches answer 401, same as a missing user.
func statusFor(kind error) int {
	switch kind {
	case service.ErrInvalid, service.ErrConflict, service.ErrPreconditionFailed:
		return http.StatusBadRequest
	case service.ErrUnauthenticated, service.ErrForbidden:
		return http.StatusUnauthorized
	case service.ErrNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// respondError writes {"error", "code"}. Internal errors are logged and
// answered with a generic message.
func respondError(c *gin.Context, err error) {
	kind := service.Kind(err)
	if kind == nil {
		log.Printf("[HTTP] %s %s (user: %s) failed: %v", c.Request.Method, c.Request.URL.Path, c.GetString(userIDKey), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error", "code": "internal"})
		return
	}

	code := "error"
	var se *service.Error
	if errors.As(err, &se) {
		code = se.Code
	}
	c.JSON(statusFor(kind), gin.H{"error": err.Error(), "code": code})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": "invalid_request"})
}
