// Package influx writes telemetry and relay state to InfluxDB v2.
package influx

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/anicoll/relay-bridge/internal/pkg/codec"
	"github.com/anicoll/relay-bridge/internal/pkg/model"
)

const (
	measurementTelemetry = "telemetry"
	measurementRelay     = "relay_state"
	defaultPingTimeout   = 5 * time.Second
)

var ErrConnectionFailed = errors.New("influxdb connection failed")

// pointWriter is the non-blocking subset of api.WriteAPI.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

type Writer struct {
	client influxdb2.Client
	api    pointWriter
	logger *zap.Logger
}

// Connect pings url and returns a writer backed by the batching write API.
func Connect(ctx context.Context, url, token, org, bucket string) (*Writer, error) {
	client := influxdb2.NewClientWithOptions(url, token, influxdb2.DefaultOptions().SetBatchSize(100))

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(org, bucket)
	w := &Writer{client: client, api: writeAPI, logger: zap.L()}
	go func() {
		for err := range writeAPI.Errors() {
			w.logger.Error("influx write failed", zap.Error(err))
		}
	}()
	return w, nil
}

func newWriter(api pointWriter) *Writer {
	return &Writer{api: api, logger: zap.L()}
}

func (w *Writer) PublishTelemetry(_ context.Context, sample model.TelemetrySample) error {
	m := sample.Measurements
	tags := map[string]string{"device_id": sample.DeviceID}
	if m.Status != "" {
		tags["status"] = m.Status
	}
	point := write.NewPoint(measurementTelemetry, tags,
		map[string]interface{}{
			"voltage":     m.Voltage,
			"current":     m.Current,
			"power":       m.Power,
			"frequency":   m.Frequency,
			"temperature": m.Temperature,
		},
		sample.ReceivedAt)
	w.api.WritePoint(point)
	return nil
}

func (w *Writer) PublishRelayState(_ context.Context, deviceID, state string) error {
	fields := make(map[string]interface{}, len(state))
	for key, on := range codec.Decode(state) {
		fields["switch_"+key] = on
	}
	fields["relay_states"] = state
	w.api.WritePoint(write.NewPoint(measurementRelay, map[string]string{"device_id": deviceID}, fields, time.Now()))
	return nil
}

func (w *Writer) Close() error {
	w.api.Flush()
	if w.client != nil {
		w.client.Close()
	}
	return nil
}
