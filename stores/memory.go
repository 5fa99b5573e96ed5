package stores

import (
	"sync"

	ws "github.com/panyam/websession"
)

// MemoryTokenStore keeps the access credential in process memory.
// Useful for tests and for hosts that must not persist credentials.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	token string
}

var _ ws.TokenStore = (*MemoryTokenStore)(nil)

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) Get() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

func (s *MemoryTokenStore) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *MemoryTokenStore) Clear() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

// MemoryNonceStore keeps the OAuth state nonce in process memory
type MemoryNonceStore struct {
	mu    sync.Mutex
	nonce string
}

var _ ws.NonceStore = (*MemoryNonceStore)(nil)

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{}
}

func (s *MemoryNonceStore) Put(nonce string) {
	s.mu.Lock()
	s.nonce = nonce
	s.mu.Unlock()
}

// Take returns the nonce and forgets it, whether or not the caller goes on to
// accept it.
func (s *MemoryNonceStore) Take() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nonce := s.nonce
	s.nonce = ""
	return nonce, nonce != ""
}
