package influx

import (
	"context"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/anicoll/relay-bridge/internal/pkg/model"
)

type fakeWriteAPI struct {
	points  []*write.Point
	flushed bool
}

func (f *fakeWriteAPI) WritePoint(p *write.Point) { f.points = append(f.points, p) }
func (f *fakeWriteAPI) Flush()                    { f.flushed = true }

func fields(p *write.Point) map[string]any {
	out := map[string]any{}
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func tags(p *write.Point) map[string]string {
	out := map[string]string{}
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func TestWriter_PublishTelemetry(t *testing.T) {
	zap.ReplaceGlobals(zaptest.NewLogger(t))
	api := &fakeWriteAPI{}
	w := newWriter(api)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, w.PublishTelemetry(context.Background(), model.TelemetrySample{
		DeviceID:     "dev1",
		Measurements: model.Measurements{Voltage: 230, Current: 2, Power: 460, Status: "Good", Frequency: 50, Temperature: 30},
		ReceivedAt:   at,
	}))

	require.Len(t, api.points, 1)
	p := api.points[0]
	assert.Equal(t, "telemetry", p.Name())
	assert.Equal(t, at, p.Time())
	assert.Equal(t, map[string]string{"device_id": "dev1", "status": "Good"}, tags(p))
	assert.Equal(t, 460.0, fields(p)["power"])
	assert.Equal(t, 230.0, fields(p)["voltage"])
}

func TestWriter_PublishRelayState(t *testing.T) {
	zap.ReplaceGlobals(zaptest.NewLogger(t))
	api := &fakeWriteAPI{}
	w := newWriter(api)

	require.NoError(t, w.PublishRelayState(context.Background(), "dev1", "10"))
	require.Len(t, api.points, 1)
	f := fields(api.points[0])
	assert.Equal(t, true, f["switch_1"])
	assert.Equal(t, false, f["switch_2"])
	assert.Equal(t, "10", f["relay_states"])

	require.NoError(t, w.Close())
	assert.True(t, api.flushed)
}
