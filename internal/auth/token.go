package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"example.com/backstage/services/ota/internal/apperrors"
	"example.com/backstage/services/ota/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// APIKeyPrefix marks bearer tokens that are API keys rather than JWTs
const APIKeyPrefix = "ota_"

// Claims are the identity provider's token claims
type Claims struct {
	jwt.RegisteredClaims
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
}

// TokenVerifier validates HS256 tokens issued by the identity provider
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier creates a verifier. An empty secret disables JWT verification.
func NewTokenVerifier(secret []byte, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: secret, issuer: issuer}
}

// Enabled reports whether a secret was configured
func (v *TokenVerifier) Enabled() bool {
	return len(v.secret) > 0
}

// Verify parses a token and returns the caller identity it asserts
func (v *TokenVerifier) Verify(tokenString string) (Identity, error) {
	if !v.Enabled() {
		return Identity{}, apperrors.Unauthenticated("token authentication is not configured")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, apperrors.Unauthenticated("token expired")
		}
		return Identity{}, apperrors.Unauthenticated("invalid token")
	}
	if !token.Valid {
		return Identity{}, apperrors.Unauthenticated("invalid token")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, apperrors.Unauthenticated("token subject is not a user id")
	}
	if !claims.Role.Valid() {
		return Identity{}, apperrors.Unauthenticated("token carries an unknown role")
	}

	return Identity{UserID: userID, Username: claims.Username, Role: claims.Role}, nil
}

// IssueToken signs a token the way the identity provider does. Used by the CLI and tests.
func IssueToken(secret []byte, issuer string, user *models.User, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username: user.Username,
		Role:     user.Role,
	})
	return token.SignedString(secret)
}

// GenerateAPIKey returns a new secret and the hash to store for it
func GenerateAPIKey() (secret, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	secret = APIKeyPrefix + base64.RawURLEncoding.EncodeToString(b)
	return secret, HashAPIKey(secret), nil
}

// HashAPIKey is the lookup hash of an API key secret
func HashAPIKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
