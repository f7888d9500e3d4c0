package service

import (
	"context"
	"strings"

	"example.com/backstage/services/ota/internal/apperrors"
	"example.com/backstage/services/ota/internal/audit"
	"example.com/backstage/services/ota/internal/auth"
	"example.com/backstage/services/ota/internal/metrics"
	"example.com/backstage/services/ota/internal/models"
	"example.com/backstage/services/ota/internal/repository"
	"example.com/backstage/services/ota/internal/validation"

	"github.com/google/uuid"
)

// CreateUser registers a user. Admin only.
func (s *service) CreateUser(ctx context.Context, id auth.Identity, req CreateUserRequest) (*models.User, error) {
	if err := auth.Require(id, auth.CapUsersManage); err != nil {
		return nil, err
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	user := &models.User{Username: strings.TrimSpace(req.Username), Role: models.Role(req.Role)}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if apperrors.IsKind(err, apperrors.KindConflict) {
			return nil, apperrors.Conflict("user %s already exists", user.Username)
		}
		return nil, err
	}

	s.record(ctx, id, audit.ActionUserCreate, "user", user.ID.String(), map[string]interface{}{
		"username": user.Username,
		"role":     user.Role,
	})
	return user, nil
}

// ListUsers returns every user. Admin only.
func (s *service) ListUsers(ctx context.Context, id auth.Identity) ([]*models.User, error) {
	if err := auth.Require(id, auth.CapUsersManage); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx)
}

// CreateAPIKey mints a key for a user. The secret is only ever returned here.
func (s *service) CreateAPIKey(ctx context.Context, id auth.Identity, req CreateAPIKeyRequest) (string, *models.APIKey, error) {
	if err := auth.Require(id, auth.CapUsersManage); err != nil {
		return "", nil, err
	}
	if err := validation.Struct(req); err != nil {
		return "", nil, err
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return "", nil, apperrors.Validation("invalid user id", map[string]string{"userId": "must be a UUID"})
	}
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return "", nil, err
	}

	secret, hash, err := auth.GenerateAPIKey()
	if err != nil {
		return "", nil, apperrors.Internal("failed to generate api key", err)
	}

	key := &models.APIKey{UserID: user.ID, Name: req.Name, KeyHash: hash}
	if req.ExpiresInDays > 0 {
		expires := s.now().AddDate(0, 0, req.ExpiresInDays)
		key.ExpiresAt = &expires
	}
	if err := s.repo.CreateAPIKey(ctx, key); err != nil {
		return "", nil, err
	}

	s.record(ctx, id, audit.ActionAPIKeyCreate, "api_key", key.ID.String(), map[string]interface{}{
		"userId": user.ID.String(),
		"name":   key.Name,
	})
	return secret, key, nil
}

// Authenticate resolves a bearer credential: an API key minted by CreateAPIKey
// or a token issued by the identity provider.
func (s *service) Authenticate(ctx context.Context, bearer string) (auth.Identity, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return auth.Identity{}, apperrors.Unauthenticated("missing credentials")
	}

	identity, err := s.authenticate(ctx, bearer)
	if err != nil {
		s.metrics.IncrementCounter(metrics.AuthFailures)
		return auth.Identity{}, err
	}
	return identity, nil
}

func (s *service) authenticate(ctx context.Context, bearer string) (auth.Identity, error) {
	if !strings.HasPrefix(bearer, auth.APIKeyPrefix) {
		return s.tokens.Verify(bearer)
	}

	key, err := s.repo.FindAPIKeyByHash(ctx, auth.HashAPIKey(bearer))
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return auth.Identity{}, apperrors.Unauthenticated("invalid api key")
		}
		return auth.Identity{}, err
	}

	now := s.now()
	if key.Expired(now) {
		return auth.Identity{}, apperrors.Unauthenticated("api key expired")
	}

	if err := s.repo.TouchAPIKey(ctx, key.ID, now); err != nil {
		s.log.WithError(err).WithField("api_key_id", key.ID).Warn("Failed to record api key use")
	}

	return auth.Identity{UserID: key.User.ID, Username: key.User.Username, Role: key.User.Role}, nil
}

// ListAuditLogs returns the newest audit entries, at most repository.MaxAuditPage
func (s *service) ListAuditLogs(ctx context.Context, id auth.Identity, limit int) ([]*models.AuditLog, error) {
	if err := auth.Require(id, auth.CapAuditRead); err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

// GetStats returns the dashboard summary
func (s *service) GetStats(ctx context.Context, id auth.Identity) (*repository.Stats, error) {
	if err := auth.Require(id, auth.CapJobsRead); err != nil {
		return nil, err
	}
	return s.repo.GetStats(ctx)
}
