package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps all state in process memory. It is the default backend
// when no database path is configured; state is lost on restart.
type MemoryStore struct {
	mu          sync.RWMutex
	issued      map[string]IssuedLicense
	activations map[string]Activation
	tokens      map[string]DownloadToken
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		issued:      make(map[string]IssuedLicense),
		activations: make(map[string]Activation),
		tokens:      make(map[string]DownloadToken),
	}
}

func (s *MemoryStore) PutIssued(_ context.Context, lic IssuedLicense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued[lic.Key] = lic
	return nil
}

func (s *MemoryStore) GetIssued(_ context.Context, key string) (IssuedLicense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lic, ok := s.issued[key]
	if !ok {
		return IssuedLicense{}, ErrNotFound
	}
	return lic, nil
}

func (s *MemoryStore) PutActivation(_ context.Context, act Activation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activations[act.Key] = act
	return nil
}

func (s *MemoryStore) GetActivation(_ context.Context, key string) (Activation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	act, ok := s.activations[key]
	if !ok {
		return Activation{}, ErrNotFound
	}
	return act, nil
}

func (s *MemoryStore) CreateToken(_ context.Context, tok DownloadToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tok.Token] = tok
	return nil
}

func (s *MemoryStore) GetToken(_ context.Context, token string) (DownloadToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[token]
	if !ok {
		return DownloadToken{}, ErrNotFound
	}
	return tok, nil
}

func (s *MemoryStore) ConsumeToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[token]
	if !ok {
		return ErrNotFound
	}
	if tok.Used {
		return ErrTokenUsed
	}
	tok.Used = true
	tok.UsedAt = time.Now().UTC()
	s.tokens[token] = tok
	return nil
}

func (s *MemoryStore) PurgeTokens(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for token, tok := range s.tokens {
		// Used tokens are kept until they age out so a replayed token
		// still answers token_used rather than invalid_token.
		if tok.CreatedAt.Before(cutoff) {
			delete(s.tokens, token)
			purged++
		}
	}
	return purged, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
