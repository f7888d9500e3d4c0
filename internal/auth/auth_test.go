package auth

import (
	"strings"
	"testing"
	"time"

	"example.com/backstage/services/ota/internal/apperrors"
	"example.com/backstage/services/ota/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRoleCapabilities(t *testing.T) {
	operator := Identity{UserID: uuid.New(), Role: models.RoleOperator}
	admin := Identity{UserID: uuid.New(), Role: models.RoleAdmin}
	unknown := Identity{UserID: uuid.New(), Role: "guest"}

	for _, c := range []Capability{CapDevicesWrite, CapFirmwareWrite, CapJobsWrite, CapAuditRead} {
		require.True(t, operator.Can(c), c)
		require.True(t, admin.Can(c), c)
		require.False(t, unknown.Can(c), c)
	}

	require.False(t, operator.Can(CapUsersManage))
	require.True(t, admin.Can(CapUsersManage))

	err := Require(operator, CapUsersManage)
	require.True(t, apperrors.IsKind(err, apperrors.KindAuthorization))
	require.NoError(t, Require(admin, CapUsersManage))
}

func TestActorID(t *testing.T) {
	id := uuid.New()
	require.Equal(t, id.String(), Identity{UserID: id}.ActorID())
	require.Equal(t, "system", System.ActorID())
}

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("identity-provider-secret")
	user := &models.User{Model: models.Model{ID: uuid.New()}, Username: "ops", Role: models.RoleOperator}

	token, err := IssueToken(secret, "idp", user, time.Hour)
	require.NoError(t, err)

	identity, err := NewTokenVerifier(secret, "idp").Verify(token)
	require.NoError(t, err)
	require.Equal(t, user.ID, identity.UserID)
	require.Equal(t, models.RoleOperator, identity.Role)
	require.Equal(t, "ops", identity.Username)
}

func TestTokenRejected(t *testing.T) {
	secret := []byte("identity-provider-secret")
	user := &models.User{Model: models.Model{ID: uuid.New()}, Username: "ops", Role: models.RoleAdmin}

	expired, err := IssueToken(secret, "idp", user, -time.Minute)
	require.NoError(t, err)
	_, err = NewTokenVerifier(secret, "idp").Verify(expired)
	require.True(t, apperrors.IsKind(err, apperrors.KindUnauthenticated))

	valid, err := IssueToken(secret, "idp", user, time.Hour)
	require.NoError(t, err)

	_, err = NewTokenVerifier([]byte("other-secret"), "idp").Verify(valid)
	require.True(t, apperrors.IsKind(err, apperrors.KindUnauthenticated))

	_, err = NewTokenVerifier(secret, "another-issuer").Verify(valid)
	require.True(t, apperrors.IsKind(err, apperrors.KindUnauthenticated))

	_, err = NewTokenVerifier(nil, "").Verify(valid)
	require.True(t, apperrors.IsKind(err, apperrors.KindUnauthenticated))
}

func TestGenerateAPIKey(t *testing.T) {
	secret, hash, err := GenerateAPIKey()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(secret, APIKeyPrefix))
	require.Len(t, hash, 64)
	require.Equal(t, hash, HashAPIKey(secret))

	other, _, err := GenerateAPIKey()
	require.NoError(t, err)
	require.NotEqual(t, secret, other)
}
