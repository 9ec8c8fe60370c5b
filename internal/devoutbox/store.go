// Package devoutbox keeps the most recent password-reset token and verification code per identity in memory,
// so that a developer can complete those flows without a mail transport. Never enabled in production.
package devoutbox

import (
	"context"
	"sync"
	"time"
)

// Kind is the type of secret held in the outbox.
type Kind string

const (
	KindPasswordReset     Kind = "password_reset"
	KindEmailVerification Kind = "email_verification"
)

// Message is one outbox entry.
type Message struct {
	Entity    string    `json:"entity"`
	Email     string    `json:"email"`
	Kind      Kind      `json:"kind"`
	Secret    string    `json:"secret"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type key struct {
	entity, email string
	kind          Kind
}

// MemoryStore is an in-memory outbox. It satisfies notify.Notifier.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[key]Message
	ttl  map[Kind]time.Duration
	nowF func() time.Time
}

// NewMemoryStore returns an outbox whose entries expire after resetTTL / verificationTTL.
func NewMemoryStore(resetTTL, verificationTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		m:    make(map[key]Message),
		ttl:  map[Kind]time.Duration{KindPasswordReset: resetTTL, KindEmailVerification: verificationTTL},
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Put stores secret for (entity, email, kind), replacing any earlier one.
func (s *MemoryStore) Put(ctx context.Context, entity, email string, kind Kind, secret string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key{entity, email, kind}] = Message{Entity: entity, Email: email, Kind: kind, Secret: secret, ExpiresAt: expiresAt}
}

// Get returns the entry for (entity, email, kind) if present and not expired.
func (s *MemoryStore) Get(ctx context.Context, entity, email string, kind Kind) (Message, bool) {
	k := key{entity, email, kind}
	s.mu.RLock()
	msg, ok := s.m[k]
	s.mu.RUnlock()
	if !ok {
		return Message{}, false
	}
	if !msg.ExpiresAt.After(s.nowF()) {
		s.mu.Lock()
		delete(s.m, k)
		s.mu.Unlock()
		return Message{}, false
	}
	return msg, true
}

func (s *MemoryStore) SendPasswordReset(ctx context.Context, entity, email, token string) error {
	s.Put(ctx, entity, email, KindPasswordReset, token, s.nowF().Add(s.ttl[KindPasswordReset]))
	return nil
}

func (s *MemoryStore) SendEmailVerification(ctx context.Context, entity, email, code string) error {
	s.Put(ctx, entity, email, KindEmailVerification, code, s.nowF().Add(s.ttl[KindEmailVerification]))
	return nil
}
