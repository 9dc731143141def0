package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/example/ctrlhome/internal/metrics"
)

// EmailMessage is one outbound transactional email.
type EmailMessage struct {
	ToAddress string
	ToName    string
	Subject   string
	HTML      string
}

// EmailResult is the provider's verdict on a send. A returned error means
// the provider could not be reached; Success=false means it refused the message.
type EmailResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Mailer delivers transactional email.
type Mailer interface {
	Send(ctx context.Context, msg EmailMessage) (*EmailResult, error)
}

// BrevoConfig holds credentials and sender identity for the Brevo API.
type BrevoConfig struct {
	APIURL      string
	APIKey      string
	FromAddress string
	FromName    string
	ReplyTo     string
	ReplyToName string
}

// BrevoMailer sends email through Brevo's transactional SMTP API.
type BrevoMailer struct {
	cfg     BrevoConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*EmailResult]
	logger  *zap.Logger
}

// NewBrevoMailer creates a Brevo client guarded by a circuit breaker that
// opens after repeated transport or 5xx failures.
func NewBrevoMailer(cfg BrevoConfig, logger *zap.Logger) *BrevoMailer {
	settings := gobreaker.Settings{
		Name:        "brevo",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &BrevoMailer{
		cfg:     cfg,
		client:  &http.Client{Timeout: 15 * time.Second},
		breaker: gobreaker.NewCircuitBreaker[*EmailResult](settings),
		logger:  logger,
	}
}

type brevoAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoRequest struct {
	Sender      brevoAddress   `json:"sender"`
	To          []brevoAddress `json:"to"`
	Subject     string         `json:"subject"`
	ReplyTo     *brevoAddress  `json:"replyTo,omitempty"`
	HTMLContent string         `json:"htmlContent"`
}

type brevoResponse struct {
	MessageID string `json:"messageId"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Send posts the message to Brevo.
func (m *BrevoMailer) Send(ctx context.Context, msg EmailMessage) (*EmailResult, error) {
	if m.cfg.APIKey == "" {
		return nil, errors.New("email service is not configured: api key missing")
	}

	res, err := m.breaker.Execute(func() (*EmailResult, error) {
		return m.post(ctx, msg)
	})
	switch {
	case err != nil:
		metrics.EmailDeliveries.WithLabelValues(metrics.OutcomeFailure).Inc()
		m.logger.Error("email transport failed", zap.String("to", msg.ToAddress), zap.Error(err))
		return nil, err
	case !res.Success:
		metrics.EmailDeliveries.WithLabelValues(metrics.OutcomeFailure).Inc()
		m.logger.Warn("email rejected by provider", zap.String("to", msg.ToAddress), zap.String("error", res.Error))
	default:
		metrics.EmailDeliveries.WithLabelValues(metrics.OutcomeSuccess).Inc()
		m.logger.Info("email sent", zap.String("to", msg.ToAddress), zap.String("message_id", res.MessageID))
	}
	return res, nil
}

func (m *BrevoMailer) post(ctx context.Context, msg EmailMessage) (*EmailResult, error) {
	payload := brevoRequest{
		Sender:      brevoAddress{Email: m.cfg.FromAddress, Name: m.cfg.FromName},
		To:          []brevoAddress{{Email: msg.ToAddress, Name: msg.ToName}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
	}
	if m.cfg.ReplyTo != "" {
		payload.ReplyTo = &brevoAddress{Email: m.cfg.ReplyTo, Name: m.cfg.ReplyToName}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal brevo request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build brevo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", m.cfg.APIKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brevo request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read brevo response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("brevo returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed brevoResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errMsg := parsed.Message
		if errMsg == "" {
			errMsg = fmt.Sprintf("brevo returned status %d", resp.StatusCode)
		}
		return &EmailResult{Success: false, Error: errMsg}, nil
	}

	return &EmailResult{Success: true, MessageID: parsed.MessageID}, nil
}

// LogMailer writes messages to the log instead of sending them. The body is
// logged at debug level so local runs can read the code.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg EmailMessage) (*EmailResult, error) {
	m.logger.Info("email delivered to log",
		zap.String("to", msg.ToAddress),
		zap.String("subject", msg.Subject),
	)
	m.logger.Debug("email body", zap.String("to", msg.ToAddress), zap.String("html", msg.HTML))
	metrics.EmailDeliveries.WithLabelValues(metrics.OutcomeSuccess).Inc()
	return &EmailResult{Success: true, MessageID: "log-" + time.Now().UTC().Format("20060102T150405.000000000")}, nil
}
