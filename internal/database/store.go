package database

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/example/ctrlhome/internal/models"
)

var (
	// ErrNotFound is returned by Store lookups that match no row.
	ErrNotFound = errors.New("record not found")
	// ErrProfileExists is returned when inserting a second profile for a user.
	ErrProfileExists = errors.New("profile already exists for user")
)

// Store persists users and profiles.
//
// Transaction runs fn against a transactional view of the store. Reads made
// through LockUserByExternalID inside a transaction hold the user row until
// fn returns, so read-check-write sequences on one user are serialized.
type Store interface {
	Transaction(ctx context.Context, fn func(tx Store) error) error

	UserByExternalID(ctx context.Context, externalID string) (*models.User, error)
	LockUserByExternalID(ctx context.Context, externalID string) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	LatestUser(ctx context.Context) (*models.User, error)
	// InsertUser reports false without error when the external id is already taken.
	InsertUser(ctx context.Context, user *models.User) (bool, error)
	SaveUser(ctx context.Context, user *models.User) error

	ProfileByUserID(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	// SaveProfile inserts a profile without an id and updates one that has an id.
	SaveProfile(ctx context.Context, profile *models.Profile) error

	Ping(ctx context.Context) error
}
