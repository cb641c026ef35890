package twofactor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/payease/payease/internal/identity"
)

var (
	// ErrChallengeNotFound is returned by stores for unknown or expired challenges.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrEnrollmentNotFound is returned by stores when no enrollment is pending.
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	// ErrAttemptsExhausted is returned by ReserveAttempt once a challenge has
	// used all of its attempts.
	ErrAttemptsExhausted = errors.New("challenge attempts exhausted")
)

// ChallengeRecord is the server-side state behind a temporary token.
type ChallengeRecord struct {
	AccountID  string          `json:"account_id"`
	Method     identity.Method `json:"method"`
	CodeDigest string          `json:"code_digest,omitempty"`
	Attempts   int             `json:"attempts"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

// ChallengeStore keeps pending authentication challenges.
type ChallengeStore interface {
	// Issue stores rec under token and invalidates any live challenge of the
	// same account in one atomic step.
	Issue(ctx context.Context, token string, rec ChallengeRecord) error
	Get(ctx context.Context, token string) (ChallengeRecord, error)
	// ReserveAttempt claims one of limit attempts and returns the new count. It
	// fails with ErrAttemptsExhausted once limit attempts have been claimed.
	ReserveAttempt(ctx context.Context, token string, limit int) (int, error)
	// Consume deletes the challenge. Only one caller observes true.
	Consume(ctx context.Context, token string) (bool, error)
}

// EnrollmentRecord is a provisioning step awaiting confirmation.
type EnrollmentRecord struct {
	Nonce      string          `json:"nonce"`
	AccountID  string          `json:"account_id"`
	Method     identity.Method `json:"method"`
	Secret     string          `json:"secret,omitempty"`
	CodeDigest string          `json:"code_digest,omitempty"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

// EnrollmentStore keeps at most one pending enrollment per account.
type EnrollmentStore interface {
	// Put replaces the pending enrollment of rec.AccountID.
	Put(ctx context.Context, rec EnrollmentRecord) error
	Get(ctx context.Context, accountID string) (EnrollmentRecord, error)
	// Consume removes the pending enrollment if it still carries nonce. Only
	// one caller observes true.
	Consume(ctx context.Context, accountID, nonce string) (bool, error)
}

type memoryChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]ChallengeRecord
	byAccount  map[string]string
	now        func() time.Time
}

// NewMemoryChallengeStore returns an in-process challenge store.
func NewMemoryChallengeStore() ChallengeStore {
	return &memoryChallengeStore{
		challenges: make(map[string]ChallengeRecord),
		byAccount:  make(map[string]string),
		now:        time.Now,
	}
}

func (s *memoryChallengeStore) Issue(_ context.Context, token string, rec ChallengeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if previous, ok := s.byAccount[rec.AccountID]; ok {
		delete(s.challenges, previous)
	}
	s.challenges[token] = rec
	s.byAccount[rec.AccountID] = token
	return nil
}

func (s *memoryChallengeStore) Get(_ context.Context, token string) (ChallengeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.live(token)
	if !ok {
		return ChallengeRecord{}, ErrChallengeNotFound
	}
	return rec, nil
}

func (s *memoryChallengeStore) ReserveAttempt(_ context.Context, token string, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.live(token)
	if !ok {
		return 0, ErrChallengeNotFound
	}
	if rec.Attempts >= limit {
		return rec.Attempts, ErrAttemptsExhausted
	}
	rec.Attempts++
	s.challenges[token] = rec
	return rec.Attempts, nil
}

func (s *memoryChallengeStore) Consume(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.live(token)
	if !ok {
		return false, nil
	}
	delete(s.challenges, token)
	if s.byAccount[rec.AccountID] == token {
		delete(s.byAccount, rec.AccountID)
	}
	return true, nil
}

// live must be called with mu held.
func (s *memoryChallengeStore) live(token string) (ChallengeRecord, bool) {
	rec, ok := s.challenges[token]
	if !ok {
		return ChallengeRecord{}, false
	}
	if !s.now().Before(rec.ExpiresAt) {
		delete(s.challenges, token)
		if s.byAccount[rec.AccountID] == token {
			delete(s.byAccount, rec.AccountID)
		}
		return ChallengeRecord{}, false
	}
	return rec, true
}

type memoryEnrollmentStore struct {
	mu      sync.Mutex
	pending map[string]EnrollmentRecord
	now     func() time.Time
}

// NewMemoryEnrollmentStore returns an in-process enrollment store.
func NewMemoryEnrollmentStore() EnrollmentStore {
	return &memoryEnrollmentStore{pending: make(map[string]EnrollmentRecord), now: time.Now}
}

func (s *memoryEnrollmentStore) Put(_ context.Context, rec EnrollmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[rec.AccountID] = rec
	return nil
}

func (s *memoryEnrollmentStore) Get(_ context.Context, accountID string) (EnrollmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pending[accountID]
	if !ok || !s.now().Before(rec.ExpiresAt) {
		return EnrollmentRecord{}, ErrEnrollmentNotFound
	}
	return rec, nil
}

func (s *memoryEnrollmentStore) Consume(_ context.Context, accountID, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pending[accountID]
	if !ok || rec.Nonce != nonce || !s.now().Before(rec.ExpiresAt) {
		return false, nil
	}
	delete(s.pending, accountID)
	return true, nil
}
