package types

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Error is an API failure carrying its HTTP status.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ValidationError creates a 400 error for bad query parameters.
func ValidationError(message string) *Error {
	return &Error{Status: http.StatusBadRequest, Message: message}
}

// InternalError creates a 500 error. The cause is logged, never returned.
func InternalError(message string, err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Message: message, Err: err}
}

// AbortWithError writes err as {"error": message} and stops the handler chain.
func AbortWithError(c *gin.Context, err *Error) {
	if err.Status >= http.StatusInternalServerError {
		log.Error().Err(err.Err).Str("path", c.FullPath()).Msg(err.Message)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(err.Status, ErrorResponse{Error: err.Message})
}
