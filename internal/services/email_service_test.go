package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBrevoTestServer(t *testing.T, status int, body string, seen *brevoRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-key", r.Header.Get("api-key"))
		if seen != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testBrevoConfig(url string) BrevoConfig {
	return BrevoConfig{
		APIURL:      url,
		APIKey:      "test-key",
		FromAddress: "no-reply@ctrlhome.test",
		FromName:    "Control Home",
		ReplyTo:     "support@ctrlhome.test",
		ReplyToName: "Support",
	}
}

var testMessage = EmailMessage{
	ToAddress: "alice@example.com",
	ToName:    "Alice",
	Subject:   "Ctrlhome Verification Code",
	HTML:      "<p>123456</p>",
}

func TestBrevoMailer_Success(t *testing.T) {
	var seen brevoRequest
	srv := newBrevoTestServer(t, http.StatusCreated, `{"messageId":"<abc@smtp-relay>"}`, &seen)
	mailer := NewBrevoMailer(testBrevoConfig(srv.URL), newTestLogger())

	res, err := mailer.Send(context.Background(), testMessage)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "<abc@smtp-relay>", res.MessageID)

	assert.Equal(t, "no-reply@ctrlhome.test", seen.Sender.Email)
	require.Len(t, seen.To, 1)
	assert.Equal(t, "alice@example.com", seen.To[0].Email)
	assert.Equal(t, "Alice", seen.To[0].Name)
	require.NotNil(t, seen.ReplyTo)
	assert.Equal(t, "support@ctrlhome.test", seen.ReplyTo.Email)
	assert.Equal(t, "<p>123456</p>", seen.HTMLContent)
}

func TestBrevoMailer_Rejected(t *testing.T) {
	srv := newBrevoTestServer(t, http.StatusBadRequest, `{"code":"invalid_parameter","message":"email is not valid"}`, nil)
	mailer := NewBrevoMailer(testBrevoConfig(srv.URL), newTestLogger())

	res, err := mailer.Send(context.Background(), testMessage)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "email is not valid", res.Error)
}

func TestBrevoMailer_ServerError(t *testing.T) {
	srv := newBrevoTestServer(t, http.StatusBadGateway, `upstream down`, nil)
	mailer := NewBrevoMailer(testBrevoConfig(srv.URL), newTestLogger())

	res, err := mailer.Send(context.Background(), testMessage)
	assert.Nil(t, res)
	assert.ErrorContains(t, err, "502")
}

func TestBrevoMailer_TruncatedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !assert.True(t, ok) {
			return
		}
		conn, buf, err := hj.Hijack()
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		_, _ = buf.WriteString("HTTP/1.1 201 Created\r\nContent-Type: application/json\r\nContent-Length: 64\r\n\r\n{\"messageId\"")
		_ = buf.Flush()
	}))
	t.Cleanup(srv.Close)
	mailer := NewBrevoMailer(testBrevoConfig(srv.URL), newTestLogger())

	res, err := mailer.Send(context.Background(), testMessage)
	assert.Nil(t, res)
	assert.ErrorContains(t, err, "read brevo response")
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestBrevoMailer_MissingAPIKey(t *testing.T) {
	cfg := testBrevoConfig("http://127.0.0.1:1")
	cfg.APIKey = ""
	mailer := NewBrevoMailer(cfg, newTestLogger())

	res, err := mailer.Send(context.Background(), testMessage)
	assert.Nil(t, res)
	assert.ErrorContains(t, err, "api key missing")
}

func TestLogMailer_Send(t *testing.T) {
	res, err := NewLogMailer(newTestLogger()).Send(context.Background(), testMessage)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.MessageID)
}
