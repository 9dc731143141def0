package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"html"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/ctrlhome/internal/database"
	"github.com/example/ctrlhome/internal/metrics"
	"github.com/example/ctrlhome/internal/models"
)

// DefaultOTPTTL is how long an issued code stays valid.
const DefaultOTPTTL = 10 * time.Minute

// DefaultDeliveryWindow is how long a stored but undelivered code is treated
// as in flight. It outlasts the mailer's HTTP timeout; a code still
// undelivered after it was abandoned and is replaced on the next request.
const DefaultDeliveryWindow = 30 * time.Second

// OTP request statuses.
const (
	StatusSent            = "sent"
	StatusSending         = "sending"
	StatusAlreadySent     = "already_sent"
	StatusAlreadyVerified = "already_verified"
	StatusVerified        = "verified"
	StatusUserNotFound    = "user_not_found"
	StatusDeliveryFailed  = "email_send_failed"
	StatusNoPendingCode   = "no_pending_code"
	StatusExpiredCode     = "expired_code"
	StatusInvalidCode     = "invalid_code"
)

// OTPService issues and checks email verification codes.
type OTPService struct {
	store          database.Store
	mailer         Mailer
	events         EventPublisher
	logger         *zap.Logger
	ttl            time.Duration
	deliveryWindow time.Duration
	now            func() time.Time
	generate       func() (string, error)
}

// NewOTPService constructs an OTPService. A non-positive ttl selects DefaultOTPTTL.
func NewOTPService(store database.Store, mailer Mailer, events EventPublisher, logger *zap.Logger, ttl time.Duration) *OTPService {
	if ttl <= 0 {
		ttl = DefaultOTPTTL
	}
	return &OTPService{
		store:          store,
		mailer:         mailer,
		events:         events,
		logger:         logger,
		ttl:            ttl,
		deliveryWindow: DefaultDeliveryWindow,
		now:            time.Now,
		generate:       generateOTP,
	}
}

// OTPResult is the structured answer of RequestOTP.
type OTPResult struct {
	Success   bool   `json:"success"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Reason    error  `json:"-"`
}

// VerifyResult is the structured answer of VerifyOTP.
type VerifyResult struct {
	Success  bool   `json:"success"`
	Verified bool   `json:"verified"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
	Reason   error  `json:"-"`
}

// RequestOTP makes sure the user has a live code and emails it.
//
// A code counts as sent only once the mailer accepted it. An unexpired,
// delivered code is reused rather than replaced; it is emailed again only
// when resend is set, otherwise the caller is told it was already sent. A
// code whose first delivery is still in progress is reported as sending and
// not touched. A code whose first delivery fails is cleared before returning.
func (s *OTPService) RequestOTP(ctx context.Context, externalID string, resend bool) (*OTPResult, error) {
	var (
		user   *models.User
		code   string
		reused bool
		result *OTPResult
	)

	err := s.store.Transaction(ctx, func(tx database.Store) error {
		u, err := tx.LockUserByExternalID(ctx, externalID)
		if errors.Is(err, database.ErrNotFound) {
			result = &OTPResult{
				Success: false,
				Status:  StatusUserNotFound,
				Message: "User not found. Please try logging in again.",
				Reason:  ErrUserNotFound,
			}
			return nil
		}
		if err != nil {
			return err
		}

		if u.IsEmailVerified {
			result = &OTPResult{
				Success: true,
				Status:  StatusAlreadyVerified,
				Message: "Your email is already verified.",
			}
			return nil
		}

		now := s.now()
		if u.HasPendingOTP() && !u.OTPExpired(now) {
			switch {
			case u.OTPDelivered() && !resend:
				result = &OTPResult{
					Success: true,
					Status:  StatusAlreadySent,
					Message: "A verification code was already sent. Please check your email inbox (including spam folder).",
				}
				return nil
			case u.OTPDelivered():
				user, code, reused = u, *u.EmailOTP, true
				return nil
			case s.inFlight(u, now):
				result = &OTPResult{
					Success: false,
					Status:  StatusSending,
					Message: "A verification code is being sent. Please try again in a moment.",
					Reason:  ErrDeliveryInProgress,
				}
				return nil
			}
			// Undelivered and past the delivery window: abandoned, replace it.
		}

		code, err = s.generate()
		if err != nil {
			return fmt.Errorf("generate code: %w", err)
		}
		u.SetOTP(code, now.Add(s.ttl))
		u.UpdatedAt = now
		if err := tx.SaveUser(ctx, u); err != nil {
			return fmt.Errorf("store code: %w", err)
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result != nil {
		s.countRequest(result.Status)
		return result, nil
	}

	s.logger.Debug("delivering verification code",
		zap.String("external_id", externalID),
		zap.Bool("reused", reused),
	)

	// The follow-up writes must land even if the caller went away mid-send.
	detached := context.WithoutCancel(ctx)

	res, sendErr := s.mailer.Send(ctx, otpEmail(user, code, s.ttl))
	if sendErr != nil || res == nil || !res.Success {
		// A reused code already reached the inbox once and stays valid.
		if !reused {
			if clearErr := s.clearUndelivered(detached, externalID, code); clearErr != nil {
				return nil, fmt.Errorf("clear undelivered code: %w", clearErr)
			}
		}

		result = &OTPResult{
			Success: false,
			Status:  StatusDeliveryFailed,
			Reason:  ErrDeliveryFailure,
		}
		if sendErr != nil {
			result.Message = "Failed to send verification code. Please try again later."
			result.Error = sendErr.Error()
		} else {
			result.Message = "Failed to send verification code. Please check your email address and try again."
			if res != nil {
				result.Error = res.Error
			}
		}
		s.logger.Warn("verification code delivery failed",
			zap.String("external_id", externalID),
			zap.Bool("reused", reused),
			zap.String("error", result.Error),
		)
		s.countRequest(result.Status)
		return result, nil
	}

	current, err := s.markDelivered(detached, externalID, code)
	if err != nil {
		return nil, fmt.Errorf("mark code delivered: %w", err)
	}
	if !current {
		s.logger.Warn("verification code replaced during delivery", zap.String("external_id", externalID))
		result = &OTPResult{
			Success: false,
			Status:  StatusDeliveryFailed,
			Message: "Your verification code was replaced before it could be delivered. Please request a new one.",
			Reason:  ErrDeliveryFailure,
		}
		s.countRequest(result.Status)
		return result, nil
	}

	result = &OTPResult{
		Success:   true,
		Status:    StatusSent,
		Message:   "Verification code sent successfully. Please check your email inbox (including spam folder).",
		MessageID: res.MessageID,
	}
	if reused {
		metrics.OTPRequests.WithLabelValues(metrics.OutcomeReused).Inc()
	} else {
		metrics.OTPRequests.WithLabelValues(metrics.OutcomeSent).Inc()
	}
	return result, nil
}

// inFlight reports whether u's undelivered code was issued recently enough
// that its first send may still be running.
func (s *OTPService) inFlight(u *models.User, now time.Time) bool {
	issuedAt := u.OTPExpiryTime.Add(-s.ttl)
	return now.Before(issuedAt.Add(s.deliveryWindow))
}

// clearUndelivered removes code if it is still pending and was never delivered.
func (s *OTPService) clearUndelivered(ctx context.Context, externalID, code string) error {
	return s.store.Transaction(ctx, func(tx database.Store) error {
		u, err := tx.LockUserByExternalID(ctx, externalID)
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if u.EmailOTP == nil || *u.EmailOTP != code || u.OTPDelivered() {
			return nil
		}
		u.ClearOTP()
		u.UpdatedAt = s.now()
		return tx.SaveUser(ctx, u)
	})
}

// markDelivered stamps code as delivered. It reports false when code is no
// longer the pending one.
func (s *OTPService) markDelivered(ctx context.Context, externalID, code string) (bool, error) {
	var current bool
	err := s.store.Transaction(ctx, func(tx database.Store) error {
		u, err := tx.LockUserByExternalID(ctx, externalID)
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if u.EmailOTP == nil || *u.EmailOTP != code {
			return nil
		}
		current = true
		now := s.now()
		u.MarkOTPDelivered(now)
		u.UpdatedAt = now
		return tx.SaveUser(ctx, u)
	})
	return current, err
}

// VerifyOTP checks a submitted code. A match marks the email verified and
// clears the code in the same write; failed attempts change nothing.
func (s *OTPService) VerifyOTP(ctx context.Context, externalID, submitted string) (*VerifyResult, error) {
	submitted = strings.TrimSpace(submitted)

	var (
		result   *VerifyResult
		verified *models.User
	)
	err := s.store.Transaction(ctx, func(tx database.Store) error {
		u, err := tx.LockUserByExternalID(ctx, externalID)
		if errors.Is(err, database.ErrNotFound) {
			result = verifyFailure(StatusUserNotFound, ErrUserNotFound, "User not found")
			return nil
		}
		if err != nil {
			return err
		}

		if u.IsEmailVerified {
			result = &VerifyResult{Success: true, Verified: true, Status: StatusAlreadyVerified, Message: "Email already verified"}
			return nil
		}

		now := s.now()
		switch {
		case !u.HasPendingOTP():
			result = verifyFailure(StatusNoPendingCode, ErrNoPendingCode, "No OTP found. Please request a new one.")
			return nil
		case u.OTPExpired(now):
			result = verifyFailure(StatusExpiredCode, ErrExpiredCode, "OTP has expired. Please request a new one.")
			return nil
		case subtle.ConstantTimeCompare([]byte(submitted), []byte(*u.EmailOTP)) != 1:
			result = verifyFailure(StatusInvalidCode, ErrInvalidCode, "Invalid OTP. Please try again.")
			return nil
		}

		u.IsEmailVerified = true
		u.ClearOTP()
		u.UpdatedAt = now
		if err := tx.SaveUser(ctx, u); err != nil {
			return fmt.Errorf("mark email verified: %w", err)
		}
		verified = u
		result = &VerifyResult{Success: true, Verified: true, Status: StatusVerified, Message: "Email verified successfully"}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.OTPVerifications.WithLabelValues(verifyOutcome(result.Status)).Inc()
	if verified != nil {
		s.logger.Info("email verified",
			zap.String("user_id", verified.ID.String()),
			zap.String("external_id", verified.ExternalID),
		)
		publishEvent(ctx, s.events, s.logger, TopicEmailVerified, verified.ID.String(), EmailVerifiedData{
			UserID:     verified.ID.String(),
			ExternalID: verified.ExternalID,
			Email:      verified.Email,
		})
	}
	return result, nil
}

func verifyFailure(status string, reason error, msg string) *VerifyResult {
	return &VerifyResult{Success: false, Verified: false, Status: status, Error: msg, Reason: reason}
}

func verifyOutcome(status string) string {
	switch status {
	case StatusVerified, StatusAlreadyVerified:
		return metrics.OutcomeVerified
	case StatusNoPendingCode:
		return metrics.OutcomeNoPendingCode
	case StatusExpiredCode:
		return metrics.OutcomeExpiredCode
	case StatusInvalidCode:
		return metrics.OutcomeInvalidCode
	default:
		return metrics.OutcomeUserNotFound
	}
}

func (s *OTPService) countRequest(status string) {
	outcome := metrics.OutcomeFailure
	switch status {
	case StatusAlreadyVerified:
		outcome = metrics.OutcomeAlreadyVerified
	case StatusAlreadySent:
		outcome = metrics.OutcomeReused
	case StatusSending:
		outcome = metrics.OutcomeInFlight
	case StatusUserNotFound:
		outcome = metrics.OutcomeUserNotFound
	case StatusDeliveryFailed:
		outcome = metrics.OutcomeDeliveryFailed
	}
	metrics.OTPRequests.WithLabelValues(outcome).Inc()
}

// generateOTP draws a uniform code from 000000-999999.
func generateOTP() (string, error) {
	max := big.NewInt(1000000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func otpEmail(user *models.User, code string, ttl time.Duration) EmailMessage {
	name := html.EscapeString(user.DisplayName())
	body := fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; border: 1px solid #eee; border-radius: 10px;">
  <h1 style="color: #4a5568; text-align: center;">Verification Code</h1>
  <p>Hello %s,</p>
  <p>Your verification code is:</p>
  <div style="background-color: #f8f9fa; padding: 15px; text-align: center; font-size: 24px; font-weight: bold; letter-spacing: 5px; margin: 20px 0; border-radius: 5px;">%s</div>
  <p>This code will expire in %d minutes.</p>
  <p>If you didn't request this code, please ignore this email.</p>
  <p>Thank you,<br>The Control Home Team</p>
</div>`, name, code, int(ttl.Minutes()))

	return EmailMessage{
		ToAddress: user.Email,
		ToName:    user.DisplayName(),
		Subject:   "Ctrlhome Verification Code",
		HTML:      body,
	}
}
