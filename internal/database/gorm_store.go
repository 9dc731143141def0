package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/ctrlhome/internal/models"
)

// GormStore is the PostgreSQL-backed Store.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open gorm connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Transaction runs fn inside a database transaction.
func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func (s *GormStore) UserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&user).Error
	return firstResult(&user, err)
}

// LockUserByExternalID selects the user FOR UPDATE. Outside a transaction the
// lock is released as soon as the statement completes.
func (s *GormStore) LockUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("external_id = ?", externalID).
		First(&user).Error
	return firstResult(&user, err)
}

func (s *GormStore) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("email = ?", email).
		Order("created_at asc").
		First(&user).Error
	return firstResult(&user, err)
}

func (s *GormStore) LatestUser(ctx context.Context) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Order("created_at desc").
		Limit(1).
		Find(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == uuid.Nil {
		return nil, ErrNotFound
	}
	return &user, nil
}

func (s *GormStore) InsertUser(ctx context.Context, user *models.User) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoNothing: true,
		}).
		Create(user)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) SaveUser(ctx context.Context, user *models.User) error {
	return s.db.WithContext(ctx).Save(user).Error
}

func (s *GormStore) ProfileByUserID(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	var profile models.Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	return firstResult(&profile, err)
}

func (s *GormStore) SaveProfile(ctx context.Context, profile *models.Profile) error {
	if profile.ID == uuid.Nil {
		return s.db.WithContext(ctx).Create(profile).Error
	}
	return s.db.WithContext(ctx).Save(profile).Error
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func firstResult[T any](row *T, err error) (*T, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}
