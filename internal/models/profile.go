package models

import (
	"github.com/google/uuid"
)

// Profile mirrors a subset of User fields as of the last profile write.
type Profile struct {
	BaseModel
	UserID   uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	Username string    `gorm:"not null" json:"username"`
	Email    string    `gorm:"index;not null" json:"email"`
	Image    string    `json:"image"`
	Password string    `json:"-"`
}
