package config

import (
	"fmt"
	"time"
)

// Partial failure policies
const (
	// PolicyStrict fails the whole job when any device fails
	PolicyStrict = "strict"
	// PolicyBestEffort completes the job and leaves failures in the failed count
	PolicyBestEffort = "best_effort"
)

// JobsConfig holds configuration for the update job engine
type JobsConfig struct {
	StartDelay           time.Duration // Delay before a job's first step
	TickInterval         time.Duration // Delay between batches, stands in for device round trip time
	ParallelCap          int           // Maximum in-flight deliveries for the parallel strategy
	RollingBatchSize     int           // Devices per batch for the rolling strategy
	PartialFailurePolicy string
	StaleAfter           time.Duration // Unowned active jobs older than this are failed by the sweeper
	SweepInterval        time.Duration
}

// Validate checks the job engine settings
func (c *JobsConfig) Validate() error {
	switch c.PartialFailurePolicy {
	case PolicyStrict, PolicyBestEffort:
	default:
		return fmt.Errorf("unsupported jobs.partialfailurepolicy %q", c.PartialFailurePolicy)
	}

	if c.ParallelCap < 1 {
		return fmt.Errorf("jobs.parallelcap must be at least 1")
	}
	if c.RollingBatchSize < 1 {
		return fmt.Errorf("jobs.rollingbatchsize must be at least 1")
	}
	if c.TickInterval < 0 || c.StartDelay < 0 {
		return fmt.Errorf("jobs delays must not be negative")
	}

	return nil
}
