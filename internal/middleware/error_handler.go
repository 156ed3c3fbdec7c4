package middleware

import (
	"github.com/gin-gonic/gin"

	apperrors "realtime_chat/pkg/errors"
)

// ErrorHandler renders the last error a handler attached with c.Error.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		apiErr := apperrors.FromError(c.Errors.Last().Err)
		c.JSON(apiErr.Code, apiErr)
	}
}
