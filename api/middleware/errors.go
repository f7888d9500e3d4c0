package middleware

import (
	"errors"
	"net/http"

	"example.com/backstage/services/ota/internal/apperrors"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

// RespondError maps err to its HTTP status and aborts the request.
// Unexpected errors are logged and reported without detail.
func RespondError(c *gin.Context, log *logrus.Logger, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Kind == apperrors.KindInternal || appErr.Kind == "" {
		log.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}).Error("Request failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal server error",
			Code:  string(apperrors.KindInternal),
		})
		return
	}

	status := appErr.StatusCode()
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:  appErr.Message,
		Code:   string(appErr.Kind),
		Fields: appErr.Fields,
	})
}
