// Package secrets stores the two passwords this daemon must never log or
// persist in cleartext: the LDAP bind password and the password-encryption
// password (internal/cipher's key material), using an OS-keyring-primary,
// encrypted-file-fallback shape.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	gokeyring "github.com/zalando/go-keyring"

	"github.com/hkdb/dirsync/internal/cipher"
	"github.com/hkdb/dirsync/internal/logging"
)

const serviceName = "dirsync"

// ErrNotFound is returned when a secret has neither a keyring entry nor a
// fallback file.
var ErrNotFound = errors.New("secrets: not found")

// Store provides secret storage with OS keyring as primary and an
// encrypted file as fallback for headless daemons that frequently run
// without a user session keyring, e.g. under systemd or in a container.
type Store struct {
	fallbackDir    string
	keyringEnabled bool
	// fallbackCipher encrypts values written to the fallback file. It is
	// its own internal/cipher.Cipher instance, keyed with the
	// fallbackPassword passed to NewStore.
	fallbackCipher *cipher.Cipher
	log            zerolog.Logger
}

// NewStore builds a Store. fallbackDir holds one file per secret key when
// the OS keyring is unavailable, encrypted under fallbackPassword.
func NewStore(fallbackDir, fallbackPassword string) (*Store, error) {
	log := logging.WithComponent("secrets")

	if err := os.MkdirAll(fallbackDir, 0700); err != nil {
		return nil, fmt.Errorf("secrets: create fallback dir: %w", err)
	}
	fc, err := cipher.New(fallbackPassword)
	if err != nil {
		return nil, fmt.Errorf("secrets: fallback cipher: %w", err)
	}

	keyringEnabled := testKeyring()
	if keyringEnabled {
		log.Info().Msg("OS keyring available, using as primary secret storage")
	} else {
		log.Warn().Msg("OS keyring not available, falling back to encrypted file storage")
	}

	return &Store{
		fallbackDir:    fallbackDir,
		keyringEnabled: keyringEnabled,
		fallbackCipher: fc,
		log:            log,
	}, nil
}

func testKeyring() bool {
	const testKey = "dirsync-test-keyring-check"
	if err := gokeyring.Set(serviceName, testKey, "test"); err != nil {
		return false
	}
	gokeyring.Delete(serviceName, testKey)
	return true
}

// Set stores value under key, preferring the OS keyring.
func (s *Store) Set(key, value string) error {
	if value == "" {
		return nil
	}
	if s.keyringEnabled {
		if err := gokeyring.Set(serviceName, key, value); err == nil {
			s.log.Debug().Str("key", key).Msg("secret stored in OS keyring")
			_ = os.Remove(s.fallbackPath(key))
			return nil
		} else {
			s.log.Warn().Err(err).Str("key", key).Msg("failed to store in OS keyring, using fallback file")
		}
	}

	enc, err := s.fallbackCipher.Encrypt([]byte(value), nil)
	if err != nil {
		return fmt.Errorf("secrets: encrypt %s: %w", key, err)
	}
	if err := os.WriteFile(s.fallbackPath(key), []byte(enc), 0600); err != nil {
		return fmt.Errorf("secrets: write fallback for %s: %w", key, err)
	}
	s.log.Debug().Str("key", key).Msg("secret stored in encrypted fallback file")
	return nil
}

// Get retrieves the value stored under key, or ErrNotFound.
func (s *Store) Get(key string) (string, error) {
	if s.keyringEnabled {
		v, err := gokeyring.Get(serviceName, key)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, gokeyring.ErrNotFound) {
			s.log.Warn().Err(err).Str("key", key).Msg("error reading OS keyring, trying fallback")
		}
	}

	raw, err := os.ReadFile(s.fallbackPath(key))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("secrets: read fallback for %s: %w", key, err)
	}
	plain, err := s.fallbackCipher.Decrypt(string(raw))
	if err != nil {
		return "", fmt.Errorf("secrets: decrypt fallback for %s: %w", key, err)
	}
	return string(plain), nil
}

// Delete removes key from both the keyring and the fallback file.
func (s *Store) Delete(key string) error {
	if s.keyringEnabled {
		_ = gokeyring.Delete(serviceName, key)
	}
	if err := os.Remove(s.fallbackPath(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("secrets: delete fallback for %s: %w", key, err)
	}
	return nil
}

func (s *Store) fallbackPath(key string) string {
	return filepath.Join(s.fallbackDir, key+".enc")
}

// Well-known secret keys this daemon stores.
const (
	KeyBindPassword       = "ldap_bind_password"
	KeyEncryptionPassword = "password_encryption_password"
)
