package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/ctrlhome/internal/database"
	"github.com/example/ctrlhome/internal/metrics"
	"github.com/example/ctrlhome/internal/models"
	"github.com/example/ctrlhome/internal/utils"
)

// Provisioning entry points, used as metric and event labels.
const (
	SourceWebhook = "webhook"
	SourceClient  = "client"
)

// UserService provisions users and serves identity lookups.
type UserService struct {
	store  database.Store
	events EventPublisher
	logger *zap.Logger
	now    func() time.Time
}

// NewUserService constructs a UserService.
func NewUserService(store database.Store, events EventPublisher, logger *zap.Logger) *UserService {
	return &UserService{store: store, events: events, logger: logger, now: time.Now}
}

// ProvisionInput carries a verified identity and optional profile defaults.
type ProvisionInput struct {
	ExternalID string `json:"external_id" validate:"required,max=255"`
	Email      string `json:"email" validate:"required,email"`
	FullName   string `json:"full_name"`
	Image      string `json:"image"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

// UserView is a user joined with its profile, which may be nil.
type UserView struct {
	*models.User
	Profile *models.Profile `json:"profile"`
}

// Provision returns the user for in.ExternalID, creating it together with its
// profile when it does not exist yet. created is false when the user was
// already there; that is not an error.
func (s *UserService) Provision(ctx context.Context, in ProvisionInput, source string) (user *models.User, created bool, err error) {
	in.ExternalID = strings.TrimSpace(in.ExternalID)
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	if err := validateStruct(in); err != nil {
		return nil, false, err
	}
	if in.Username == "" {
		in.Username = usernameFromEmail(in.Email)
	}

	var password string
	if in.Password != "" {
		if password, err = utils.HashPassword(in.Password); err != nil {
			return nil, false, fmt.Errorf("hash password: %w", err)
		}
	}

	err = s.store.Transaction(ctx, func(tx database.Store) error {
		existing, err := tx.UserByExternalID(ctx, in.ExternalID)
		if err == nil {
			user = existing
			return nil
		}
		if !errors.Is(err, database.ErrNotFound) {
			return err
		}

		now := s.now()
		candidate := &models.User{
			BaseModel:  models.BaseModel{CreatedAt: now, UpdatedAt: now},
			ExternalID: in.ExternalID,
			Username:   in.Username,
			Email:      in.Email,
			FullName:   optional(in.FullName),
			Image:      optional(in.Image),
			Password:   optional(password),
		}

		inserted, err := tx.InsertUser(ctx, candidate)
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		if !inserted {
			// A concurrent provisioning call won the insert.
			existing, err := tx.UserByExternalID(ctx, in.ExternalID)
			if err != nil {
				return fmt.Errorf("reload user after conflict: %w", err)
			}
			user = existing
			return nil
		}

		profile := &models.Profile{
			BaseModel: models.BaseModel{CreatedAt: now, UpdatedAt: now},
			UserID:    candidate.ID,
			Username:  candidate.Username,
			Email:     candidate.Email,
			Image:     in.Image,
			Password:  password,
		}
		if err := tx.SaveProfile(ctx, profile); err != nil {
			return fmt.Errorf("create profile: %w", err)
		}

		user = candidate
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if !created {
		s.logger.Debug("user already provisioned",
			zap.String("external_id", in.ExternalID),
			zap.String("source", source),
		)
		return user, false, nil
	}

	metrics.UsersProvisioned.WithLabelValues(source).Inc()
	s.logger.Info("user provisioned",
		zap.String("user_id", user.ID.String()),
		zap.String("external_id", user.ExternalID),
		zap.String("source", source),
	)
	publishEvent(ctx, s.events, s.logger, TopicUserProvisioned, user.ID.String(), UserProvisionedData{
		UserID:     user.ID.String(),
		ExternalID: user.ExternalID,
		Email:      user.Email,
		Username:   user.Username,
		Source:     source,
	})
	return user, true, nil
}

// GetUserByExternalID returns nil without error when the identity has not
// been provisioned yet.
func (s *UserService) GetUserByExternalID(ctx context.Context, externalID string) (*UserView, error) {
	user, err := s.store.UserByExternalID(ctx, externalID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	profile, err := s.store.ProfileByUserID(ctx, user.ID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &UserView{User: user, Profile: profile}, nil
}

// SavePushToken records the device push token for a user.
func (s *UserService) SavePushToken(ctx context.Context, externalID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return &ValidationError{Fields: map[string]string{"token": "is required"}}
	}

	return s.store.Transaction(ctx, func(tx database.Store) error {
		user, err := tx.LockUserByExternalID(ctx, externalID)
		if errors.Is(err, database.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}

		user.PushToken = &token
		user.UpdatedAt = s.now()
		return tx.SaveUser(ctx, user)
	})
}

// UserSummary is the public subset of a user returned by email lookups.
type UserSummary struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
	Image    *string   `json:"image,omitempty"`
}

// EmailLookupResult is the structured answer of LookupByEmail.
type EmailLookupResult struct {
	Success bool         `json:"success"`
	User    *UserSummary `json:"user,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// LookupByEmail finds a user by email. Authentication itself is handled by
// the identity provider; this only resolves the account.
func (s *UserService) LookupByEmail(ctx context.Context, email string) (*EmailLookupResult, error) {
	user, err := s.store.UserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, database.ErrNotFound) {
		return &EmailLookupResult{Success: false, Error: "User not found with this email"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user by email: %w", err)
	}

	return &EmailLookupResult{
		Success: true,
		User: &UserSummary{
			ID:       user.ID,
			Username: user.Username,
			Email:    user.Email,
			Image:    user.Image,
		},
	}, nil
}

func usernameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
