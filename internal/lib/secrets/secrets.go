// Package secrets реализует шифрование паролей панелей при хранении.
// Ключ выводится из парольной фразы через PBKDF2, данные шифруются
// AES-GCM и кодируются base64. Ошибка расшифровки возвращается как
// типизированная ErrDecrypt, отличимая от отсутствия записи.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// ErrDecrypt возвращается, когда шифртекст поврежден или ключ не подходит.
var ErrDecrypt = errors.New("failed to decrypt secret")

const keyIterations = 100_000

// Keeper шифрует и расшифровывает строки одним выведенным ключом.
type Keeper struct {
	aead cipher.AEAD
}

// New создает Keeper из парольной фразы и соли.
func New(passphrase, salt string) (*Keeper, error) {
	const op = "secrets.New"
	key := pbkdf2.Key([]byte(passphrase), []byte(salt), keyIterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Keeper{aead: aead}, nil
}

// Encrypt шифрует plaintext и возвращает base64-строку nonce||ciphertext.
func (k *Keeper) Encrypt(plaintext string) (string, error) {
	const op = "secrets.Encrypt"
	nonce := make([]byte, k.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	sealed := k.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt расшифровывает строку, полученную из Encrypt.
func (k *Keeper) Decrypt(opaque string) (string, error) {
	const op = "secrets.Decrypt"
	raw, err := base64.StdEncoding.DecodeString(opaque)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, ErrDecrypt)
	}
	if len(raw) < k.aead.NonceSize() {
		return "", fmt.Errorf("%s: %w", op, ErrDecrypt)
	}
	nonce, ciphertext := raw[:k.aead.NonceSize()], raw[k.aead.NonceSize():]
	plaintext, err := k.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, ErrDecrypt)
	}
	return string(plaintext), nil
}
