package walletstore

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	cryptoSha256 "crypto/sha256"
)

// Argon2id parameters for deriving the store's master key from the
// password.
const (
	argon2Time        = 3
	argon2Memory      = 64 * 1024
	argon2Parallelism = 4
	argon2KeyLen      = 32
	argon2SaltLen     = 32
)

// streamCipher derives one subkey per stream off a single Argon2id master
// key via hkdf, so compromising one stream's key does not expose the
// others, and encrypts/decrypts with chacha20poly1305.
type streamCipher struct {
	master [argon2KeyLen]byte
}

// deriveStreamCipher derives the master key for password and salt.
func deriveStreamCipher(password string, salt []byte) *streamCipher {
	key := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Parallelism, argon2KeyLen)
	c := &streamCipher{}
	copy(c.master[:], key)
	for i := range key {
		key[i] = 0
	}
	return c
}

func (c *streamCipher) subkey(stream string) ([]byte, error) {
	r := hkdf.New(cryptoSha256.New, c.master[:], nil, []byte(stream))
	sub := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, sub); err != nil {
		return nil, fmt.Errorf("derive subkey for stream %s: %w", stream, err)
	}
	return sub, nil
}

// seal encrypts plaintext for stream, prefixing the nonce to the output.
func (c *streamCipher) seal(stream string, plaintext []byte) ([]byte, error) {
	sub, err := c.subkey(stream)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(sub)
	if err != nil {
		return nil, fmt.Errorf("build aead for stream %s: %w", stream, err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce for stream %s: %w", stream, err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, ciphertext...), nil
}

// open reverses seal.
func (c *streamCipher) open(stream string, sealed []byte) ([]byte, error) {
	sub, err := c.subkey(stream)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(sub)
	if err != nil {
		return nil, fmt.Errorf("build aead for stream %s: %w", stream, err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("open stream %s: ciphertext too short", stream)
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plaintext, nil
}

func generateSalt() ([]byte, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}
