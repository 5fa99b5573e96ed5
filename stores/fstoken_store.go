package stores

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	ws "github.com/panyam/websession"
)

// ErrCorruptTokenFile means the token file cannot be decoded or decrypted
var ErrCorruptTokenFile = errors.New("token file is corrupt or the passphrase is wrong")

const (
	saltSize  = 16
	nonceSize = 24
)

// FSTokenStore stores access credentials in a JSON file on the filesystem,
// one entry per profile. With a passphrase the file contents are sealed with
// NaCl secretbox under an argon2id derived key.
type FSTokenStore struct {
	mu         sync.RWMutex
	path       string
	profile    string
	passphrase []byte
	salt       []byte
	profiles   map[string]*storedToken
}

var _ ws.TokenStore = (*FSTokenStore)(nil)

type storedToken struct {
	AccessToken string    `json:"access_token"`
	SavedAt     time.Time `json:"saved_at"`
}

// tokenFile is the plaintext JSON structure
type tokenFile struct {
	Profiles map[string]*storedToken `json:"profiles"`
}

// sealedFile is the on-disk structure when a passphrase is configured
type sealedFile struct {
	Salt   []byte `json:"salt"`
	Sealed []byte `json:"sealed"`
}

// FSOption configures an FSTokenStore
type FSOption func(*FSTokenStore)

// WithPassphrase enables at-rest encryption of the token file
func WithPassphrase(passphrase string) FSOption {
	return func(s *FSTokenStore) {
		if passphrase != "" {
			s.passphrase = []byte(passphrase)
		}
	}
}

// NewFSTokenStore creates a new FS-based token store.
// If path is empty, defaults to ~/.config/<appName>/session.json
func NewFSTokenStore(path, appName, profile string, opts ...FSOption) (*FSTokenStore, error) {
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("could not determine config directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
		if appName == "" {
			appName = "websession"
		}
		path = filepath.Join(configDir, appName, "session.json")
	}
	if profile == "" {
		profile = ws.DefaultProfile
	}

	store := &FSTokenStore{
		path:     path,
		profile:  profile,
		profiles: make(map[string]*storedToken),
	}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.load(); err != nil && !os.IsNotExist(err) {
		store.setAside(err)
	}

	return store, nil
}

// setAside moves an unreadable token file out of the way so the store starts
// empty without overwriting it. A wrong passphrase lands here too.
func (s *FSTokenStore) setAside(cause error) {
	s.profiles = make(map[string]*storedToken)
	s.salt = nil

	backup := s.path + ".unreadable-" + time.Now().UTC().Format("20060102T150405")
	if err := os.Rename(s.path, backup); err != nil {
		log.Error().Err(err).AnErr("cause", cause).Str("path", s.path).Msg("unreadable token file could not be moved aside")
		return
	}
	log.Warn().Err(cause).Str("path", s.path).Str("moved_to", backup).Msg("token file unreadable, starting with no session")
}

// Path returns the path to the token file
func (s *FSTokenStore) Path() string {
	return s.path
}

func (s *FSTokenStore) Get() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.profiles[s.profile]
	if !ok || entry == nil || entry.AccessToken == "" {
		return "", false
	}
	return entry.AccessToken, true
}

func (s *FSTokenStore) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[s.profile] = &storedToken{AccessToken: token, SavedAt: time.Now().UTC()}
	if err := s.saveLocked(); err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("failed to persist access token")
	}
}

func (s *FSTokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[s.profile]; !ok {
		return
	}
	delete(s.profiles, s.profile)
	if err := s.saveLocked(); err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("failed to persist token removal")
	}
}

// load reads tokens from disk
func (s *FSTokenStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	if s.passphrase != nil {
		var sealed sealedFile
		if err := json.Unmarshal(data, &sealed); err != nil || len(sealed.Salt) != saltSize || len(sealed.Sealed) < nonceSize {
			return ErrCorruptTokenFile
		}
		s.salt = sealed.Salt
		data, err = s.open(sealed.Sealed)
		if err != nil {
			return err
		}
	}

	var file tokenFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse token file: %w", err)
	}

	s.profiles = make(map[string]*storedToken, len(file.Profiles))
	for name, entry := range file.Profiles {
		if entry != nil {
			s.profiles[name] = entry
		}
	}
	return nil
}

// saveLocked writes the current state to disk. Caller must hold s.mu.
func (s *FSTokenStore) saveLocked() error {
	data, err := json.MarshalIndent(tokenFile{Profiles: s.profiles}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize tokens: %w", err)
	}

	if s.passphrase != nil {
		if s.salt == nil {
			s.salt = make([]byte, saltSize)
			if _, err := rand.Read(s.salt); err != nil {
				return fmt.Errorf("failed to generate salt: %w", err)
			}
		}
		sealed, err := s.seal(data)
		if err != nil {
			return err
		}
		data, err = json.Marshal(sealedFile{Salt: s.salt, Sealed: sealed})
		if err != nil {
			return fmt.Errorf("failed to serialize sealed tokens: %w", err)
		}
	}

	return writeAtomicFile(s.path, data)
}

func (s *FSTokenStore) key() *[32]byte {
	var key [32]byte
	copy(key[:], argon2.IDKey(s.passphrase, s.salt, 1, 64*1024, 4, 32))
	return &key
}

func (s *FSTokenStore) seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, s.key()), nil
}

func (s *FSTokenStore) open(box []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, s.key())
	if !ok {
		return nil, ErrCorruptTokenFile
	}
	return plain, nil
}
