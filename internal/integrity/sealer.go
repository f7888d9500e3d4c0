package integrity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"example.com/backstage/services/ota/internal/apperrors"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize   = 32 // AES-256
	nonceSize = 12 // 96-bit GCM nonce
	tagSize   = 16 // 128-bit GCM tag
)

// hkdfInfo separates the at-rest key from the HMAC use of the master key
var hkdfInfo = []byte("ota-firmware-at-rest")

var errShortBlob = errors.New("encrypted blob shorter than nonce and tag")

type sealer struct {
	aead cipher.AEAD
}

func newSealer(masterKey []byte) (*sealer, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, hkdfInfo), key); err != nil {
		return nil, apperrors.Integrity("failed to derive encryption key", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperrors.Integrity("failed to create cipher", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, apperrors.Integrity("failed to create GCM", err)
	}

	return &sealer{aead: aead}, nil
}

// seal returns nonce || ciphertext || tag with a fresh random nonce
func (s *sealer) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize, nonceSize+len(plaintext)+tagSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *sealer) open(blob []byte) ([]byte, error) {
	if len(blob) < nonceSize+tagSize {
		return nil, errShortBlob
	}
	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	return s.aead.Open(nil, nonce, ciphertext, nil)
}
