package models

import (
	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of an update job
type JobStatus string

const (
	// JobStatusPending is the state of a job that has not started delivering
	JobStatusPending JobStatus = "pending"
	// JobStatusInProgress is the state of a job delivering to devices
	JobStatusInProgress JobStatus = "in_progress"
	// JobStatusCompleted is terminal
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed is terminal
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled is terminal
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Strategy selects the order in which a job reaches its devices
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
	StrategyRolling    Strategy = "rolling"
)

// Valid reports whether s is a known strategy
func (s Strategy) Valid() bool {
	switch s {
	case StrategySequential, StrategyParallel, StrategyRolling:
		return true
	default:
		return false
	}
}

// UpdateJob is one rollout of a firmware artifact to a computed set of devices
type UpdateJob struct {
	Model
	FirmwareID       uuid.UUID     `json:"firmware_id" gorm:"type:uuid;not null;index"`
	Transport        TransportType `json:"transport_type" gorm:"column:transport_type;type:text;not null"`
	Strategy         Strategy      `json:"strategy" gorm:"type:text;not null;default:sequential"`
	Status           JobStatus     `json:"status" gorm:"type:text;not null;default:pending;index"`
	Progress         int           `json:"progress" gorm:"not null;default:0"`
	TotalDevices     int           `json:"total_devices" gorm:"not null;default:0"`
	CompletedDevices int           `json:"completed_devices" gorm:"not null;default:0"`
	FailedDevices    int           `json:"failed_devices" gorm:"not null;default:0"`
	InitiatedBy      uuid.UUID     `json:"initiated_by" gorm:"type:uuid;not null"`
	RollbackOf       *uuid.UUID    `json:"rollback_of,omitempty" gorm:"type:uuid"`
}

// Processed is the number of devices with a final outcome
func (j *UpdateJob) Processed() int {
	return j.CompletedDevices + j.FailedDevices
}
