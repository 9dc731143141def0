package database

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ctrlhome/internal/models"
)

// MemoryStore is an in-process Store used by tests and STORE_DRIVER=memory.
// A transaction holds the store-wide lock and works on a copy that replaces
// the live data only when fn succeeds.
type MemoryStore struct {
	mu   sync.Mutex
	data *memoryData
}

type memoryData struct {
	seq        int64
	users      map[uuid.UUID]memoryUser
	byExternal map[string]uuid.UUID
	profiles   map[uuid.UUID]models.Profile // keyed by user id
}

type memoryUser struct {
	seq  int64
	user models.User
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: &memoryData{
		users:      make(map[uuid.UUID]memoryUser),
		byExternal: make(map[string]uuid.UUID),
		profiles:   make(map[uuid.UUID]models.Profile),
	}}
}

func (s *MemoryStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(&memoryTx{data: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *MemoryStore) view() *memoryTx {
	return &memoryTx{data: s.data}
}

func (s *MemoryStore) UserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().UserByExternalID(ctx, externalID)
}

func (s *MemoryStore) LockUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().LockUserByExternalID(ctx, externalID)
}

func (s *MemoryStore) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().UserByEmail(ctx, email)
}

func (s *MemoryStore) LatestUser(ctx context.Context) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().LatestUser(ctx)
}

func (s *MemoryStore) InsertUser(ctx context.Context, user *models.User) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().InsertUser(ctx, user)
}

func (s *MemoryStore) SaveUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().SaveUser(ctx, user)
}

func (s *MemoryStore) ProfileByUserID(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ProfileByUserID(ctx, userID)
}

func (s *MemoryStore) SaveProfile(ctx context.Context, profile *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().SaveProfile(ctx, profile)
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// CountUsers returns the number of stored users.
func (s *MemoryStore) CountUsers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.users)
}

// CountProfiles returns the number of stored profiles.
func (s *MemoryStore) CountProfiles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.profiles)
}

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		seq:        d.seq,
		users:      make(map[uuid.UUID]memoryUser, len(d.users)),
		byExternal: make(map[string]uuid.UUID, len(d.byExternal)),
		profiles:   make(map[uuid.UUID]models.Profile, len(d.profiles)),
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.byExternal {
		c.byExternal[k] = v
	}
	for k, v := range d.profiles {
		c.profiles[k] = v
	}
	return c
}

// memoryTx operates on memoryData without locking; the caller holds the lock.
type memoryTx struct {
	data *memoryData
}

func (t *memoryTx) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (t *memoryTx) UserByExternalID(_ context.Context, externalID string) (*models.User, error) {
	id, ok := t.data.byExternal[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	u := t.data.users[id].user
	return &u, nil
}

func (t *memoryTx) LockUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	return t.UserByExternalID(ctx, externalID)
}

func (t *memoryTx) UserByEmail(_ context.Context, email string) (*models.User, error) {
	var found *memoryUser
	for _, mu := range t.data.users {
		if mu.user.Email != email {
			continue
		}
		if found == nil || mu.seq < found.seq {
			candidate := mu
			found = &candidate
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	u := found.user
	return &u, nil
}

func (t *memoryTx) LatestUser(_ context.Context) (*models.User, error) {
	var found *memoryUser
	for _, mu := range t.data.users {
		if found == nil || mu.seq > found.seq {
			candidate := mu
			found = &candidate
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	u := found.user
	return &u, nil
}

func (t *memoryTx) InsertUser(_ context.Context, user *models.User) (bool, error) {
	if _, exists := t.data.byExternal[user.ExternalID]; exists {
		return false, nil
	}
	user.EnsureID()
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}
	t.data.seq++
	t.data.users[user.ID] = memoryUser{seq: t.data.seq, user: *user}
	t.data.byExternal[user.ExternalID] = user.ID
	return true, nil
}

func (t *memoryTx) SaveUser(_ context.Context, user *models.User) error {
	existing, ok := t.data.users[user.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.user.ExternalID != user.ExternalID {
		delete(t.data.byExternal, existing.user.ExternalID)
		t.data.byExternal[user.ExternalID] = user.ID
	}
	existing.user = *user
	t.data.users[user.ID] = existing
	return nil
}

func (t *memoryTx) ProfileByUserID(_ context.Context, userID uuid.UUID) (*models.Profile, error) {
	p, ok := t.data.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (t *memoryTx) SaveProfile(_ context.Context, profile *models.Profile) error {
	if profile.ID == uuid.Nil {
		if _, exists := t.data.profiles[profile.UserID]; exists {
			return ErrProfileExists
		}
		profile.EnsureID()
		if profile.CreatedAt.IsZero() {
			profile.CreatedAt = time.Now()
		}
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = time.Now()
	}
	t.data.profiles[profile.UserID] = *profile
	return nil
}

func (t *memoryTx) Ping(context.Context) error {
	return nil
}
