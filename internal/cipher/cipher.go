// Package cipher derives a shared key from a chat password and seals message
// bodies as Fernet tokens. Clients that typed the same password can read each
// other; the server only ever sees opaque tokens.
package cipher

import (
	"crypto/sha256"
	"fmt"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Iterations is the PBKDF2 work factor shared by every client.
	Iterations = 100000
	// KeySize is the derived key length (Fernet signing key + encryption key).
	KeySize = 32
	// Undecryptable replaces content that could not be decrypted.
	Undecryptable = "[Encrypted message - cannot decrypt]"
)

// Salt is constant across installations so equal passwords derive equal keys.
var Salt = []byte("cowtalk_static_salt")

// Context holds a derived key for the lifetime of one connection.
type Context struct {
	key  *fernet.Key
	keys []*fernet.Key
}

// DeriveKey runs PBKDF2-HMAC-SHA256 over password with the protocol salt.
func DeriveKey(password string) []byte {
	return pbkdf2.Key([]byte(password), Salt, Iterations, KeySize, sha256.New)
}

// New derives the key for password once.
func New(password string) *Context {
	var key fernet.Key
	copy(key[:], DeriveKey(password))
	return &Context{key: &key, keys: []*fernet.Key{&key}}
}

// Encrypt seals plaintext into a self-contained URL-safe token.
func (c *Context) Encrypt(plaintext string) (string, error) {
	token, err := fernet.EncryptAndSign([]byte(plaintext), c.key)
	if err != nil {
		return "", fmt.Errorf("encrypt message: %w", err)
	}
	return string(token), nil
}

// Decrypt opens a token. ok is false for a wrong key, a tampered or
// malformed token; it never panics.
func (c *Context) Decrypt(token string) (plaintext string, ok bool) {
	defer func() {
		if recover() != nil {
			plaintext, ok = "", false
		}
	}()

	if token == "" {
		return "", false
	}
	// A zero ttl skips the age and clock-skew checks: peers' clocks differ
	// and chat tokens never expire.
	msg := fernet.VerifyAndDecrypt([]byte(token), 0, c.keys)
	if msg == nil {
		return "", false
	}
	return string(msg), true
}

// DecryptOrPlaceholder returns the plaintext or Undecryptable.
func (c *Context) DecryptOrPlaceholder(token string) string {
	if plaintext, ok := c.Decrypt(token); ok {
		return plaintext
	}
	return Undecryptable
}
