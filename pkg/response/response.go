// Package response writes the flat API envelope: every reply carries a
// top-level success flag next to its payload fields, matching what deployed
// clients parse.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// OK sends a 200 with success folded into the payload.
func OK(c *gin.Context, data gin.H) {
	body := gin.H{"success": true}
	for k, v := range data {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// Fail sends the given status with a human-readable error message.
func Fail(c *gin.Context, status int, err string) {
	c.JSON(status, gin.H{"success": false, "error": err})
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	Fail(c, http.StatusBadRequest, err)
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) {
	Fail(c, http.StatusForbidden, err)
}

// NotFound sends 404.
func NotFound(c *gin.Context, err string) {
	Fail(c, http.StatusNotFound, err)
}

// ServiceUnavailable sends 503.
func ServiceUnavailable(c *gin.Context, err string) {
	Fail(c, http.StatusServiceUnavailable, err)
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	Fail(c, http.StatusInternalServerError, err)
}
