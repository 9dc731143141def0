package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/ctrlhome/internal/database"
	"github.com/example/ctrlhome/internal/models"
	"github.com/example/ctrlhome/internal/utils"
)

// ProfileService keeps a user and its profile row consistent on edits.
type ProfileService struct {
	store  database.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewProfileService constructs a ProfileService.
func NewProfileService(store database.Store, logger *zap.Logger) *ProfileService {
	return &ProfileService{store: store, logger: logger, now: time.Now}
}

// ProfileFields is a partial update. Nil and empty values leave the user
// field untouched.
type ProfileFields struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	FullName *string `json:"full_name"`
	Image    *string `json:"image"`
	Password *string `json:"password"`
}

// ProfileByEmailInput addresses a user by current email. NewEmail replaces
// the user's email; Fields.Email is ignored on this path.
type ProfileByEmailInput struct {
	Email    string `json:"email"`
	NewEmail string `json:"new_email"`
	ProfileFields
}

// ProfileUpdateResult is the structured answer of UpdateProfileByEmail.
type ProfileUpdateResult struct {
	Success      bool            `json:"success"`
	UserID       string          `json:"user_id,omitempty"`
	User         *models.User    `json:"user,omitempty"`
	Profile      *models.Profile `json:"profile,omitempty"`
	FallbackUsed bool            `json:"fallback_used,omitempty"`
	Error        string          `json:"error,omitempty"`
	Reason       error           `json:"-"`
}

// profileRecord is the merged profile checked before any write.
type profileRecord struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required"`
	Image    string `json:"image"`
	Password string `json:"password"`
}

// UpdateProfile applies fields to the user identified by the caller's
// external id and rewrites the profile from the merged values.
func (s *ProfileService) UpdateProfile(ctx context.Context, externalID string, fields ProfileFields) (*models.Profile, error) {
	if externalID == "" {
		return nil, ErrNotAuthenticated
	}

	password, err := hashSupplied(fields.Password)
	if err != nil {
		return nil, err
	}

	var profile *models.Profile
	err = s.store.Transaction(ctx, func(tx database.Store) error {
		user, err := tx.LockUserByExternalID(ctx, externalID)
		if errors.Is(err, database.ErrNotFound) {
			return ErrUserNotRegistered
		}
		if err != nil {
			return err
		}

		email, _ := supplied(fields.Email)
		applyFields(user, fields, email, password)

		record := mergedRecord(user, user.Email)
		if err := validateStruct(record); err != nil {
			return err
		}

		now := s.now()
		user.UpdatedAt = now
		if err := tx.SaveUser(ctx, user); err != nil {
			return fmt.Errorf("save user: %w", err)
		}

		profile, err = upsertProfile(ctx, tx, user, record, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("profile updated", zap.String("external_id", externalID))
	return profile, nil
}

// UpdateProfileByEmail edits the user whose email matches in.Email. When no
// user matches, the most recently created user is edited instead; clients
// whose cached email drifted from the stored one still reach their account
// this way. Domain failures are reported in the result.
func (s *ProfileService) UpdateProfileByEmail(ctx context.Context, in ProfileByEmailInput) (*ProfileUpdateResult, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.NewEmail = strings.TrimSpace(in.NewEmail)

	password, err := hashSupplied(in.Password)
	if err != nil {
		return nil, err
	}

	var result *ProfileUpdateResult
	err = s.store.Transaction(ctx, func(tx database.Store) error {
		target, fallback, err := s.resolveByEmail(ctx, tx, in.Email)
		if errors.Is(err, database.ErrNotFound) {
			result = &ProfileUpdateResult{Success: false, Error: "No users found in the database", Reason: ErrUserNotFound}
			return nil
		}
		if err != nil {
			return err
		}

		user, err := tx.LockUserByExternalID(ctx, target.ExternalID)
		if err != nil {
			return fmt.Errorf("lock user: %w", err)
		}

		applyFields(user, in.ProfileFields, in.NewEmail, password)

		profileEmail := in.NewEmail
		if profileEmail == "" {
			profileEmail = in.Email
		}
		record := mergedRecord(user, profileEmail)
		if err := validateStruct(record); err != nil {
			result = &ProfileUpdateResult{Success: false, Error: "Username and email are required", Reason: err}
			return nil
		}

		now := s.now()
		user.UpdatedAt = now
		if err := tx.SaveUser(ctx, user); err != nil {
			return fmt.Errorf("save user: %w", err)
		}

		if _, err := upsertProfile(ctx, tx, user, record, now); err != nil {
			return err
		}
		profile, err := tx.ProfileByUserID(ctx, user.ID)
		if errors.Is(err, database.ErrNotFound) {
			result = &ProfileUpdateResult{Success: false, Error: "Failed to create profile", Reason: ErrProfileMissing}
			return nil
		}
		if err != nil {
			return err
		}

		result = &ProfileUpdateResult{
			Success:      true,
			UserID:       user.ID.String(),
			User:         user,
			Profile:      profile,
			FallbackUsed: fallback,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Success {
		fields := []zap.Field{zap.String("user_id", result.UserID)}
		if result.FallbackUsed {
			s.logger.Warn("profile updated via most-recent-user fallback", append(fields, zap.String("email", in.Email))...)
		} else {
			s.logger.Info("profile updated by email", fields...)
		}
	}
	return result, nil
}

func (s *ProfileService) resolveByEmail(ctx context.Context, tx database.Store, email string) (*models.User, bool, error) {
	if email != "" {
		user, err := tx.UserByEmail(ctx, email)
		if err == nil {
			return user, false, nil
		}
		if !errors.Is(err, database.ErrNotFound) {
			return nil, false, err
		}
	}

	user, err := tx.LatestUser(ctx)
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

func applyFields(user *models.User, fields ProfileFields, email, hashedPassword string) {
	if v, ok := supplied(fields.Username); ok {
		user.Username = v
	}
	if v, ok := supplied(fields.FullName); ok {
		user.FullName = &v
	}
	if v, ok := supplied(fields.Image); ok {
		user.Image = &v
	}
	if email != "" {
		user.Email = email
	}
	if hashedPassword != "" {
		user.Password = &hashedPassword
	}
}

func mergedRecord(user *models.User, email string) profileRecord {
	record := profileRecord{Username: user.Username, Email: email}
	if user.Image != nil {
		record.Image = *user.Image
	}
	if user.Password != nil {
		record.Password = *user.Password
	}
	return record
}

func upsertProfile(ctx context.Context, tx database.Store, user *models.User, record profileRecord, now time.Time) (*models.Profile, error) {
	profile, err := tx.ProfileByUserID(ctx, user.ID)
	if errors.Is(err, database.ErrNotFound) {
		profile = &models.Profile{
			BaseModel: models.BaseModel{CreatedAt: now},
			UserID:    user.ID,
		}
	} else if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	profile.Username = record.Username
	profile.Email = record.Email
	profile.Image = record.Image
	profile.Password = record.Password
	profile.UpdatedAt = now

	if err := tx.SaveProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	return profile, nil
}

func supplied(v *string) (string, bool) {
	if v == nil {
		return "", false
	}
	s := strings.TrimSpace(*v)
	return s, s != ""
}

func hashSupplied(password *string) (string, error) {
	v, ok := supplied(password)
	if !ok {
		return "", nil
	}
	if utils.IsPasswordHash(v) {
		return v, nil
	}
	hashed, err := utils.HashPassword(v)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hashed, nil
}
