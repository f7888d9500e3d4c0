package telemetry

import (
	"testing"

	"example.com/backstage/services/ota/config"
	"example.com/backstage/services/ota/internal/broadcast"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestDisabledTelemetry(t *testing.T) {
	app, err := InitNewRelic(config.NewRelicConfig{Enabled: true})
	require.NoError(t, err)
	require.Nil(t, app)

	require.NotPanics(t, func() {
		NewJobEvents(app).Publish(broadcast.JobUpdate{JobID: uuid.New(), Data: broadcast.Delta{Progress: broadcast.IntPtr(5)}})
	})
}
