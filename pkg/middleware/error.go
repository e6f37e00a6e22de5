package middleware

import (
	"errors"
	"net/http"

	"github.com/georgeminyillahmensah/license-service/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error renders the last error attached to the context as a JSON body using
// the errutil status mapping. Domain error types only need to implement
// errutil.StatusCoder to pick their HTTP status.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		var be errutil.BaseError
		if errors.As(last.Err, &be) {
			c.JSON(be.Code.HTTPStatus(), gin.H{"success": false, "error": be.Message, "code": be.Code})
			return
		}

		var coder errutil.StatusCoder
		if errors.As(last.Err, &coder) {
			c.JSON(coder.Status().HTTPStatus(), gin.H{"success": false, "error": last.Err.Error(), "code": coder.Status()})
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": last.Err.Error(), "code": errutil.StatusInternal})
	}
}
