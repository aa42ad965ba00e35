package auth

import (
	"bufio"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var ErrUnauthorized = errors.New("invalid or missing API key")

// KeyStore maps API keys to identities. Keys are stored bcrypt-hashed;
// the plaintext key doubles as the caller's identity via its prefix
// (the part before the first dot), so lookups don't require scanning
// every hash.
type KeyStore struct {
	mu     sync.RWMutex
	hashes map[string][]byte // identity -> bcrypt hash of full key
}

// NewKeyStore creates an empty key store
func NewKeyStore() *KeyStore {
	return &KeyStore{hashes: make(map[string][]byte)}
}

// LoadFile reads "identity:bcrypt-hash" lines. Blank lines and lines
// starting with # are skipped.
func (s *KeyStore) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open key file: %w", err)
	}
	defer f.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		identity, hash, ok := strings.Cut(text, ":")
		if !ok {
			return fmt.Errorf("key file line %d: expected identity:hash", line)
		}
		s.hashes[identity] = []byte(hash)
	}
	return scanner.Err()
}

// Add registers a plaintext key, hashing it. Used by tests and key
// provisioning.
func (s *KeyStore) Add(key string) error {
	identity := identityOf(key)
	if identity == "" {
		return errors.New("key must have an identity prefix")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashes[identity] = hash
	return nil
}

// Authenticate resolves a plaintext key to its identity
func (s *KeyStore) Authenticate(key string) (string, error) {
	identity := identityOf(key)
	if identity == "" {
		return "", ErrUnauthorized
	}

	s.mu.RLock()
	hash, ok := s.hashes[identity]
	s.mu.RUnlock()
	if !ok {
		// Burn comparable time so missing identities aren't
		// distinguishable by latency
		bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000uGZwH1R9nNr5zV7e3u4WnWzO3pXK0FW"), []byte(key))
		return "", ErrUnauthorized
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(key)); err != nil {
		return "", ErrUnauthorized
	}
	return identity, nil
}

// GenerateKey creates a new random key for an identity
func GenerateKey(identity string) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return identity + "." + hex.EncodeToString(buf), nil
}

// ParseBearer extracts the token from an Authorization header
func ParseBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// SecureCompare reports whether two strings are equal in constant time
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func identityOf(key string) string {
	identity, _, ok := strings.Cut(key, ".")
	if !ok {
		return ""
	}
	return identity
}
