package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"filippo.io/age"
)

// Encryptor seals linked-account OAuth tokens before they reach the database.
// Sealed values are age ciphertext in standard base64 so they fit a text column.
type Encryptor struct {
	identity  *age.X25519Identity
	ephemeral bool
}

// NewEncryptor parses an AGE-SECRET-KEY identity. An empty key generates a
// throwaway identity; see Ephemeral.
func NewEncryptor(key string) (*Encryptor, error) {
	if key == "" {
		identity, err := age.GenerateX25519Identity()
		if err != nil {
			return nil, fmt.Errorf("generating identity: %w", err)
		}
		return &Encryptor{identity: identity, ephemeral: true}, nil
	}

	identity, err := age.ParseX25519Identity(key)
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}
	return &Encryptor{identity: identity}, nil
}

// Ephemeral reports whether the identity was generated at startup, in which
// case nothing sealed survives a restart.
func (e *Encryptor) Ephemeral() bool {
	return e.ephemeral
}

// SealString encrypts s. The empty string stays empty so absent tokens are
// not stored as ciphertext.
func (e *Encryptor) SealString(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, e.identity.Recipient())
	if err != nil {
		return "", fmt.Errorf("creating encryptor: %w", err)
	}
	if _, err := io.WriteString(w, s); err != nil {
		return "", fmt.Errorf("writing plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing encryptor: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (e *Encryptor) OpenString(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decoding base64: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), e.identity)
	if err != nil {
		return "", fmt.Errorf("creating decryptor: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading plaintext: %w", err)
	}
	return string(plaintext), nil
}

// GenerateToken returns a URL-safe random token built from n random bytes.
func GenerateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
