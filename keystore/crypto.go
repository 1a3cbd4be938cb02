package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfLabel          = "pbkdf2"
	DefaultIterations = 310_000
	saltSize          = 16
)

func deriveKey(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, 32, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// seal encrypts plain with a password derived key. The returned kdf string
// is "pbkdf2$<iterations>$<hex salt>", the ciphertext is nonce|sealed.
func seal(plain []byte, password string, iterations int) (string, []byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", nil, err
	}
	key := deriveKey(password, salt, iterations)
	defer clearBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return "", nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", nil, err
	}
	out := append(nonce, gcm.Seal(nil, nonce, plain, nil)...)
	return fmt.Sprintf("%s$%d$%s", kdfLabel, iterations, hex.EncodeToString(salt)), out, nil
}

func open(kdf string, ciphertext []byte, password string) ([]byte, error) {
	parts := strings.Split(kdf, "$")
	if len(parts) != 3 || parts[0] != kdfLabel {
		return nil, fmt.Errorf("unsupported kdf %q", kdf)
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return nil, fmt.Errorf("invalid kdf iterations %q", parts[1])
	}
	salt, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("invalid kdf salt: %w", err)
	}
	key := deriveKey(password, salt, iterations)
	defer clearBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	ns := gcm.NonceSize()
	if len(ciphertext) < ns {
		return nil, fmt.Errorf("ciphertext too short")
	}
	return gcm.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
}

func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
