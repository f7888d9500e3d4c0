package telemetry

import (
	"time"

	"example.com/backstage/services/ota/config"
	"example.com/backstage/services/ota/internal/broadcast"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
)

const connectTimeout = 5 * time.Second

// InitNewRelic starts the New Relic agent. It returns nil when telemetry is disabled.
func InitNewRelic(cfg config.NewRelicConfig) (*newrelic.Application, error) {
	if !cfg.Enabled || cfg.LicenseKey == "" {
		return nil, nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create New Relic application")
	}

	if err := app.WaitForConnection(connectTimeout); err != nil {
		app.Shutdown(connectTimeout)
		return nil, errors.Wrap(err, "New Relic did not connect")
	}

	return app, nil
}

// JobEvents records job updates as New Relic custom events
type JobEvents struct {
	app *newrelic.Application
}

// NewJobEvents returns a publisher for app. A nil app makes it a no-op.
func NewJobEvents(app *newrelic.Application) *JobEvents {
	return &JobEvents{app: app}
}

// Publish implements broadcast.Publisher
func (j *JobEvents) Publish(update broadcast.JobUpdate) {
	if j.app == nil {
		return
	}

	attrs := map[string]interface{}{
		"jobId":  update.JobID.String(),
		"status": update.Data.Status,
	}
	if update.Data.Progress != nil {
		attrs["progress"] = *update.Data.Progress
	}
	if update.Data.DeviceResult != "" {
		attrs["deviceResult"] = update.Data.DeviceResult
	}
	j.app.RecordCustomEvent("OTAJobUpdate", attrs)
}
