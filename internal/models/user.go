package models

import (
	"time"
)

// User is the application record for one external identity.
type User struct {
	BaseModel
	ExternalID      string     `gorm:"uniqueIndex;not null" json:"external_id"`
	Username        string     `gorm:"not null" json:"username"`
	Email           string     `gorm:"index;not null" json:"email"`
	FullName        *string    `json:"full_name,omitempty"`
	Image           *string    `json:"image,omitempty"`
	Password        *string    `json:"-"`
	PushToken       *string    `json:"push_token,omitempty"`
	EmailOTP        *string    `gorm:"column:email_otp" json:"-"`
	OTPExpiryTime   *time.Time `gorm:"column:otp_expiry_time" json:"otp_expiry_time,omitempty"`
	OTPSentAt       *time.Time `gorm:"column:otp_sent_at" json:"-"`
	IsEmailVerified bool       `gorm:"not null;default:false" json:"is_email_verified"`
}

// HasPendingOTP reports whether a code is stored, regardless of expiry.
func (u *User) HasPendingOTP() bool {
	return u.EmailOTP != nil && *u.EmailOTP != "" && u.OTPExpiryTime != nil
}

// OTPExpired reports whether the stored code is past its expiry at now.
func (u *User) OTPExpired(now time.Time) bool {
	return u.OTPExpiryTime != nil && now.After(*u.OTPExpiryTime)
}

// OTPDelivered reports whether the pending code is known to have reached
// the mail provider.
func (u *User) OTPDelivered() bool {
	return u.OTPSentAt != nil
}

// SetOTP stores a fresh, not yet delivered code together with its expiry.
func (u *User) SetOTP(code string, expiresAt time.Time) {
	u.EmailOTP = &code
	u.OTPExpiryTime = &expiresAt
	u.OTPSentAt = nil
}

// MarkOTPDelivered records that the pending code was accepted for delivery.
func (u *User) MarkOTPDelivered(at time.Time) {
	u.OTPSentAt = &at
}

// ClearOTP removes the code, its expiry and its delivery mark.
func (u *User) ClearOTP() {
	u.EmailOTP = nil
	u.OTPExpiryTime = nil
	u.OTPSentAt = nil
}

// DisplayName is the name used to greet the user in emails.
func (u *User) DisplayName() string {
	if u.FullName != nil && *u.FullName != "" {
		return *u.FullName
	}
	return u.Username
}
