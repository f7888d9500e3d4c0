package middleware

import (
	"context"
	"strings"

	"example.com/backstage/services/ota/internal/apperrors"
	"example.com/backstage/services/ota/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// IdentityContextKey is where the authenticated caller is stored
const IdentityContextKey = "identity"

// Authenticator resolves a bearer credential into a caller
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (auth.Identity, error)
}

// Authenticate requires an "Authorization: Bearer <api key or token>" header.
// When allowQuery is set a "token" query parameter is accepted too, since
// browsers cannot set headers on WebSocket requests.
func Authenticate(a Authenticator, log *logrus.Logger, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearer, err := bearerToken(c, allowQuery)
		if err != nil {
			RespondError(c, log, err)
			return
		}

		identity, err := a.Authenticate(c.Request.Context(), bearer)
		if err != nil {
			log.WithError(err).WithField("client_ip", c.ClientIP()).Warn("Authentication failed")
			RespondError(c, log, err)
			return
		}

		c.Set(IdentityContextKey, identity)
		c.Next()
	}
}

func bearerToken(c *gin.Context, allowQuery bool) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if allowQuery {
			if token := c.Query("token"); token != "" {
				return token, nil
			}
		}
		return "", apperrors.Unauthenticated("authorization header required")
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", apperrors.Unauthenticated("expected 'Authorization: Bearer {token}'")
	}
	return strings.TrimSpace(parts[1]), nil
}

// IdentityFrom returns the caller stored by Authenticate
func IdentityFrom(c *gin.Context) auth.Identity {
	v, ok := c.Get(IdentityContextKey)
	if !ok {
		return auth.Identity{}
	}
	identity, _ := v.(auth.Identity)
	return identity
}
