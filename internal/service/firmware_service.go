package service

import (
	"context"
	"fmt"

	"example.com/backstage/services/ota/internal/apperrors"
	"example.com/backstage/services/ota/internal/audit"
	"example.com/backstage/services/ota/internal/auth"
	"example.com/backstage/services/ota/internal/integrity"
	"example.com/backstage/services/ota/internal/metrics"
	"example.com/backstage/services/ota/internal/models"
	"example.com/backstage/services/ota/internal/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// UploadFirmware stores the binary through the integrity pipeline and only then
// creates the firmware record. A record that cannot be written after one retry
// removes the stored blob and surfaces a StorageInconsistencyError.
func (s *service) UploadFirmware(ctx context.Context, id auth.Identity, req UploadRequest, data []byte) (*models.Firmware, error) {
	if err := auth.Require(id, auth.CapFirmwareWrite); err != nil {
		return nil, err
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, apperrors.Validation("firmware file is required", map[string]string{"firmware": "is required"})
	}
	if s.maxUploadBytes > 0 && int64(len(data)) > s.maxUploadBytes {
		return nil, apperrors.Validation("firmware file is too large",
			map[string]string{"firmware": fmt.Sprintf("must be at most %d bytes", s.maxUploadBytes)})
	}

	firmwareID := uuid.New()
	artifact, err := s.firmware.Ingest(ctx, firmwareID.String()+".bin", data)
	if err != nil {
		return nil, err
	}

	fw := &models.Firmware{
		Model:        models.Model{ID: firmwareID},
		Name:         req.Name,
		Version:      req.Version,
		Description:  req.Description,
		ReleaseNotes: req.ReleaseNotes,
		TargetGroup:  req.TargetGroup,
		Transport:    models.TransportType(req.TransportType),
		Active:       true,
		UploaderID:   id.UserID,
		StorageRef:   artifact.StorageRef,
		ContentHash:  artifact.ContentHash,
		AuthCode:     artifact.AuthCode,
		SizeBytes:    artifact.Size,
		Encrypted:    artifact.Encrypted,
	}

	if err := s.repo.CreateFirmware(ctx, fw); err != nil {
		s.log.WithError(err).WithField("firmware_id", firmwareID).Warn("Firmware record write failed, retrying once")
		if err = s.repo.CreateFirmware(ctx, fw); err != nil {
			if derr := s.firmware.Discard(ctx, artifact.StorageRef); derr != nil {
				s.log.WithError(derr).WithField("firmware_id", firmwareID).Error("Failed to remove orphaned firmware blob")
			}
			return nil, apperrors.StorageInconsistency("firmware stored but its record could not be saved", err)
		}
	}

	s.metrics.IncrementCounter(metrics.FirmwareUploads)
	s.record(ctx, id, audit.ActionFirmwareUpload, "firmware", fw.ID.String(), map[string]interface{}{
		"name":              fw.Name,
		"version":           fw.Version,
		"targetDeviceGroup": fw.TargetGroup,
		"sizeBytes":         fw.SizeBytes,
	})

	s.log.WithFields(logrus.Fields{
		"firmware_id": fw.ID,
		"name":        fw.Name,
		"version":     fw.Version,
		"size":        fw.SizeBytes,
		"encrypted":   fw.Encrypted,
	}).Info("Firmware uploaded")

	return fw, nil
}

// DownloadFirmware returns the verified plaintext and a filename hint
func (s *service) DownloadFirmware(ctx context.Context, id auth.Identity, firmwareID uuid.UUID) ([]byte, string, error) {
	if err := auth.Require(id, auth.CapFirmwareRead); err != nil {
		return nil, "", err
	}

	fw, err := s.repo.FindFirmwareByID(ctx, firmwareID)
	if err != nil {
		return nil, "", err
	}

	data, err := s.firmware.Retrieve(ctx, fw.StorageRef)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindIntegrity) {
			s.metrics.IncrementCounter(metrics.IntegrityFailures)
		}
		return nil, "", err
	}

	expected := integrity.Checksums{ContentHash: fw.ContentHash, AuthCode: fw.AuthCode}
	if !s.firmware.VerifyIntegrity(expected, data) {
		s.metrics.IncrementCounter(metrics.IntegrityFailures)
		s.log.WithField("firmware_id", fw.ID).Error("Stored firmware does not match its checksums")
		return nil, "", apperrors.Integrity(fmt.Sprintf("firmware %s failed verification", fw.ID), nil)
	}

	s.metrics.IncrementCounter(metrics.FirmwareDownloads)
	return data, fw.DownloadName(), nil
}

// GetFirmware returns one firmware record
func (s *service) GetFirmware(ctx context.Context, id auth.Identity, firmwareID uuid.UUID) (*models.Firmware, error) {
	if err := auth.Require(id, auth.CapFirmwareRead); err != nil {
		return nil, err
	}
	return s.repo.FindFirmwareByID(ctx, firmwareID)
}

// DeactivateFirmware stops a firmware from being used by new jobs
func (s *service) DeactivateFirmware(ctx context.Context, id auth.Identity, firmwareID uuid.UUID) (*models.Firmware, error) {
	if err := auth.Require(id, auth.CapFirmwareWrite); err != nil {
		return nil, err
	}

	if err := s.repo.SetFirmwareActive(ctx, firmwareID, false); err != nil {
		return nil, err
	}

	s.record(ctx, id, audit.ActionFirmwareDeactivate, "firmware", firmwareID.String(), nil)
	return s.repo.FindFirmwareByID(ctx, firmwareID)
}

// ListFirmware returns every firmware, newest first
func (s *service) ListFirmware(ctx context.Context, id auth.Identity) ([]*models.Firmware, error) {
	if err := auth.Require(id, auth.CapFirmwareRead); err != nil {
		return nil, err
	}
	return s.repo.ListFirmware(ctx)
}
