// Package integrity turns uploaded firmware into stored, verifiable artifacts.
//
// Every artifact carries two independent checks over the plaintext: a SHA-256
// content hash that anyone can recompute, and an HMAC-SHA256 under the master
// key that only this service can produce. At-rest encryption with AES-256-GCM
// is a separate layer and does not replace either check.
package integrity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"example.com/backstage/services/ota/internal/apperrors"
	"example.com/backstage/services/ota/internal/storage"

	"github.com/sirupsen/logrus"
)

// encryptedSuffix marks references whose blob is nonce || ciphertext || tag
const encryptedSuffix = ".enc"

// Artifact is the result of ingesting a binary
type Artifact struct {
	StorageRef  string
	ContentHash string
	AuthCode    string
	Size        int64
	Encrypted   bool
}

// Checksums are the values an artifact can be verified against
type Checksums struct {
	ContentHash string
	AuthCode    string
}

// Pipeline hashes, authenticates, optionally encrypts and stores firmware
type Pipeline struct {
	store     storage.ContentStore
	masterKey []byte
	sealer    *sealer
	log       *logrus.Logger
}

// NewPipeline creates a pipeline. The master key is copied and never logged.
func NewPipeline(store storage.ContentStore, masterKey []byte, encrypt bool, log *logrus.Logger) (*Pipeline, error) {
	if len(masterKey) == 0 {
		return nil, apperrors.Integrity("master key is empty", nil)
	}

	key := make([]byte, len(masterKey))
	copy(key, masterKey)

	p := &Pipeline{store: store, masterKey: key, log: log}
	if encrypt {
		s, err := newSealer(key)
		if err != nil {
			return nil, err
		}
		p.sealer = s
	}
	return p, nil
}

// Encrypting reports whether new artifacts are encrypted at rest
func (p *Pipeline) Encrypting() bool {
	return p.sealer != nil
}

// Checksum computes the content hash and auth code of plaintext
func (p *Pipeline) Checksum(plaintext []byte) Checksums {
	sum := sha256.Sum256(plaintext)
	mac := hmac.New(sha256.New, p.masterKey)
	mac.Write(plaintext)

	return Checksums{
		ContentHash: hex.EncodeToString(sum[:]),
		AuthCode:    hex.EncodeToString(mac.Sum(nil)),
	}
}

// Ingest stores plaintext under a name derived key and returns its integrity values.
// The store write is retried once before failing with StorageInconsistencyError.
func (p *Pipeline) Ingest(ctx context.Context, key string, plaintext []byte) (*Artifact, error) {
	if len(plaintext) == 0 {
		return nil, apperrors.Integrity("refusing to ingest an empty binary", nil)
	}

	sums := p.Checksum(plaintext)

	blob := plaintext
	encrypted := false
	if p.sealer != nil {
		sealed, err := p.sealer.seal(plaintext)
		if err != nil {
			return nil, apperrors.Integrity("failed to encrypt firmware", err)
		}
		blob = sealed
		encrypted = true
		key += encryptedSuffix
	}

	ref, err := p.put(ctx, key, blob)
	if err != nil {
		return nil, apperrors.StorageInconsistency("failed to store firmware blob", err)
	}

	return &Artifact{
		StorageRef:  ref,
		ContentHash: sums.ContentHash,
		AuthCode:    sums.AuthCode,
		Size:        int64(len(plaintext)),
		Encrypted:   encrypted,
	}, nil
}

func (p *Pipeline) put(ctx context.Context, key string, blob []byte) (string, error) {
	ref, err := p.store.Put(ctx, key, blob)
	if err == nil {
		return ref, nil
	}

	p.log.WithError(err).WithField("key", key).Warn("Content store write failed, retrying once")
	return p.store.Put(ctx, key, blob)
}

// Retrieve returns the plaintext behind ref. It does not check the hash or
// HMAC; call VerifyIntegrity before handing the bytes to anyone.
func (p *Pipeline) Retrieve(ctx context.Context, ref string) ([]byte, error) {
	blob, err := p.store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}

	if !strings.HasSuffix(ref, encryptedSuffix) {
		return blob, nil
	}

	s := p.sealer
	if s == nil {
		// Encryption may have been switched off after this blob was written
		s, err = newSealer(p.masterKey)
		if err != nil {
			return nil, err
		}
	}

	plaintext, err := s.open(blob)
	if err != nil {
		return nil, apperrors.Integrity("failed to decrypt firmware", err)
	}
	return plaintext, nil
}

// VerifyIntegrity checks plaintext against both recorded values
func (p *Pipeline) VerifyIntegrity(expected Checksums, plaintext []byte) bool {
	actual := p.Checksum(plaintext)

	hashOK := subtle.ConstantTimeCompare([]byte(actual.ContentHash), []byte(strings.ToLower(expected.ContentHash))) == 1
	macOK := hmac.Equal([]byte(actual.AuthCode), []byte(strings.ToLower(expected.AuthCode)))
	return hashOK && macOK
}

// Discard removes a stored blob after its record failed to commit
func (p *Pipeline) Discard(ctx context.Context, ref string) error {
	return p.store.Delete(ctx, ref)
}
