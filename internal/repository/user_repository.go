package repository

import (
	"context"
	"time"

	"example.com/backstage/services/ota/internal/apperrors"
	"example.com/backstage/services/ota/internal/models"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
)

// CreateUser inserts a user, usernames are unique
func (r *repository) CreateUser(ctx context.Context, user *models.User) error {
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return translate(db.Create(user).Error, "user", user.Username)
}

// FindUserByID retrieves a user by id
func (r *repository) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := db.First(&user, "id = ?", id).Error; err != nil {
		return nil, translate(err, "user", id.String())
	}
	return &user, nil
}

// FindUserByUsername retrieves a user by username
func (r *repository) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := db.First(&user, "username = ?", username).Error; err != nil {
		return nil, translate(err, "user", username)
	}
	return &user, nil
}

// ListUsers returns all users, newest first
func (r *repository) ListUsers(ctx context.Context) ([]*models.User, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var users []*models.User
	if err := db.Order("created_at DESC").Find(&users).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list users")
	}
	return users, nil
}

// CreateAPIKey stores a hashed API key
func (r *repository) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return translate(db.Create(key).Error, "api key", key.Name)
}

// FindAPIKeyByHash resolves a key and its owner
func (r *repository) FindAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var key models.APIKey
	if err := db.Preload("User").First(&key, "key_hash = ?", hash).Error; err != nil {
		return nil, translate(err, "api key", "")
	}
	if key.User == nil {
		return nil, apperrors.NotFound("user", key.UserID.String())
	}
	return &key, nil
}

// TouchAPIKey records the last use of a key
func (r *repository) TouchAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error {
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}

	err = db.Model(&models.APIKey{}).Where("id = ?", id).Update("last_used_at", at).Error
	return translate(err, "api key", id.String())
}
