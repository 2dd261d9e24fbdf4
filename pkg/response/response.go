package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/pbit-labs/pbit-classroom-api/pkg/errors"
)

// Envelope represents the common response contract shared by every endpoint.
type Envelope struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Data    interface{}      `json:"data"`
	Error   *appErrors.Error `json:"error"`
}

// JSON sends a success response.
func JSON(c *gin.Context, status int, message string, data interface{}) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(status, Envelope{Success: true, Message: message, Data: data})
}

// Created responds with HTTP 201 Created.
func Created(c *gin.Context, message string, data interface{}) {
	JSON(c, http.StatusCreated, message, data)
}

// Error sends an error response converting the error to the common structure.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(appErr.Status, Envelope{Success: false, Message: appErr.Message, Error: appErr})
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
