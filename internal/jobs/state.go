// Package jobs drives update jobs from pending to a terminal status.
package jobs

import (
	"math"

	"example.com/backstage/services/ota/config"
	"example.com/backstage/services/ota/internal/apperrors"
	"example.com/backstage/services/ota/internal/models"
)

var transitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusPending: {
		models.JobStatusInProgress,
		models.JobStatusCancelled,
		// zero target devices, or the artifact failed verification
		models.JobStatusCompleted,
		models.JobStatusFailed,
	},
	models.JobStatusInProgress: {
		models.JobStatusCompleted,
		models.JobStatusFailed,
		models.JobStatusCancelled,
	},
}

// CanTransition returns an InvalidTransitionError unless from -> to is allowed
func CanTransition(from, to models.JobStatus) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return apperrors.InvalidTransition(string(from), string(to))
}

// Progress is the percentage of devices with a final outcome
func Progress(completed, failed, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(100 * float64(completed+failed) / float64(total)))
}

// finalStatus is the terminal status of a job whose devices have all reported
func finalStatus(job *models.UpdateJob, policy string) models.JobStatus {
	if job.FailedDevices > 0 && policy != config.PolicyBestEffort {
		return models.JobStatusFailed
	}
	return models.JobStatusCompleted
}
