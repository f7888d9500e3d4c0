// Package audit records mutating actions in an append-only log.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"example.com/backstage/services/ota/internal/models"
	"example.com/backstage/services/ota/internal/repository"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Action tags
const (
	ActionUserCreate         = "user_create"
	ActionAPIKeyCreate       = "apikey_create"
	ActionDeviceRegister     = "device_register"
	ActionFirmwareUpload     = "firmware_upload"
	ActionFirmwareDeactivate = "firmware_deactivate"
	ActionJobCreate          = "update_job_create"
	ActionRollbackCreate     = "rollback_job_create"
	ActionJobCancel          = "update_job_cancel"
)

// Entry is one audit record before persistence
type Entry struct {
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Details    map[string]interface{}
	At         time.Time
}

// Recorder appends audit entries
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// StoreRecorder persists entries to the audit_logs relation
type StoreRecorder struct {
	repo repository.AuditRepository
}

// NewStoreRecorder creates a database backed recorder
func NewStoreRecorder(repo repository.AuditRepository) *StoreRecorder {
	return &StoreRecorder{repo: repo}
}

// Record writes an entry
func (r *StoreRecorder) Record(ctx context.Context, entry Entry) error {
	row, err := toModel(entry)
	if err != nil {
		return err
	}
	return r.repo.CreateAuditLog(ctx, row)
}

func toModel(entry Entry) (*models.AuditLog, error) {
	var details json.RawMessage
	if entry.Details != nil {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "failed to marshal audit details")
		}
		details = b
	}

	at := entry.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	return &models.AuditLog{
		UserID:     entry.ActorID,
		Action:     entry.Action,
		TargetType: entry.TargetType,
		TargetID:   entry.TargetID,
		Details:    details,
		CreatedAt:  at,
	}, nil
}

// MultiRecorder writes to a primary recorder and mirrors to secondaries.
// Only the primary's error is returned.
type MultiRecorder struct {
	primary     Recorder
	secondaries []Recorder
	log         *logrus.Logger
}

// NewMultiRecorder creates a fan-out recorder
func NewMultiRecorder(log *logrus.Logger, primary Recorder, secondaries ...Recorder) *MultiRecorder {
	return &MultiRecorder{primary: primary, secondaries: secondaries, log: log}
}

// Record writes to the primary, then best effort to the rest
func (m *MultiRecorder) Record(ctx context.Context, entry Entry) error {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	if err := m.primary.Record(ctx, entry); err != nil {
		return err
	}

	for _, s := range m.secondaries {
		if err := s.Record(ctx, entry); err != nil {
			m.log.WithError(err).WithField("action", entry.Action).Warn("Secondary audit sink failed")
		}
	}
	return nil
}

// MemoryRecorder keeps entries in memory
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryRecorder creates an in-memory recorder
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record appends an entry
func (m *MemoryRecorder) Record(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// Entries returns a copy of the recorded entries
func (m *MemoryRecorder) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Actions returns the action tags in record order
func (m *MemoryRecorder) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}
