package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/ctrlhome/internal/database"
	"github.com/example/ctrlhome/internal/models"
)

// --- Mock Mailer ---

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(ctx context.Context, msg EmailMessage) (*EmailResult, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*EmailResult), args.Error(1)
}

// --- Blocking Mailer ---

// blockingMailer parks its first Send until release is closed, so a test can
// act while a delivery is outstanding.
type blockingMailer struct {
	entered chan struct{}
	release chan struct{}
	result  *EmailResult
	err     error
	calls   atomic.Int32
}

func newBlockingMailer(result *EmailResult, err error) *blockingMailer {
	return &blockingMailer{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		result:  result,
		err:     err,
	}
}

func (m *blockingMailer) Send(ctx context.Context, msg EmailMessage) (*EmailResult, error) {
	if m.calls.Add(1) == 1 {
		close(m.entered)
		<-m.release
	}
	return m.result, m.err
}

// --- Recording publisher ---

type publishedEvent struct {
	Topic       string
	AggregateID string
	Data        any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, topic, aggregateID string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Topic: topic, AggregateID: aggregateID, Data: data})
	return nil
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Topic)
	}
	return out
}

// --- Clock ---

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Fixtures ---

func newTestLogger() *zap.Logger {
	return zap.NewNop()
}

func provisionTestUser(t *testing.T, store database.Store, externalID, email string) *models.User {
	t.Helper()
	svc := NewUserService(store, NoopPublisher{}, newTestLogger())
	user, created, err := svc.Provision(context.Background(), ProvisionInput{ExternalID: externalID, Email: email}, SourceClient)
	require.NoError(t, err)
	require.True(t, created)
	return user
}

func strPtr(s string) *string {
	return &s
}
