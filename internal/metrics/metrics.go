package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the OTP and delivery counters.
const (
	OutcomeSent            = "sent"
	OutcomeReused          = "reused"
	OutcomeInFlight        = "in_flight"
	OutcomeAlreadyVerified = "already_verified"
	OutcomeUserNotFound    = "user_not_found"
	OutcomeDeliveryFailed  = "delivery_failed"
	OutcomeVerified        = "verified"
	OutcomeNoPendingCode   = "no_pending_code"
	OutcomeExpiredCode     = "expired_code"
	OutcomeInvalidCode     = "invalid_code"
	OutcomeSuccess         = "success"
	OutcomeFailure         = "failure"
)

var (
	UsersProvisioned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctrlhome_users_provisioned_total",
			Help: "Users inserted by provisioning, by entry point.",
		},
		[]string{"source"},
	)

	OTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctrlhome_otp_requests_total",
			Help: "Verification code requests by outcome.",
		},
		[]string{"outcome"},
	)

	OTPVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctrlhome_otp_verifications_total",
			Help: "Verification code submissions by outcome.",
		},
		[]string{"outcome"},
	)

	EmailDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctrlhome_email_deliveries_total",
			Help: "Outbound email attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(UsersProvisioned, OTPRequests, OTPVerifications, EmailDeliveries)
}
