package handlers

import (
	"example.com/backstage/services/ota/internal/apperrors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// pathID parses the :id path parameter
func pathID(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperrors.Validation("invalid id", map[string]string{"id": "must be a UUID"})
	}
	return id, nil
}

// bindJSON decodes the request body, reporting malformed JSON as a validation error
func bindJSON(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return apperrors.Validation("invalid request body", nil)
	}
	return nil
}
