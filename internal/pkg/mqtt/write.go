package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/anicoll/relay-bridge/internal/pkg/codec"
	"github.com/anicoll/relay-bridge/internal/pkg/model"
)

func (s *service) PublishTelemetry(ctx context.Context, sample model.TelemetrySample) error {
	if err := s.RegisterDevice(sample.DeviceID); err != nil {
		return err
	}

	identifier := slug.Make(sample.DeviceID)
	m := sample.Measurements
	values := map[string]string{
		"voltage":     formatFloat(m.Voltage),
		"current":     formatFloat(m.Current),
		"power":       formatFloat(m.Power),
		"frequency":   formatFloat(m.Frequency),
		"temperature": formatFloat(m.Temperature),
		"status":      m.Status,
	}
	for _, sn := range sensors {
		topic := fmt.Sprintf("%s/sensor/%s/%s/state", s.topicPrefix, identifier, sn.Slug)
		if err := s.publish(topic, false, statePayload{Value: values[sn.Slug], UnitOfMeasurement: sn.Unit}); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) PublishRelayState(ctx context.Context, deviceID, state string) error {
	identifier := slug.Make(deviceID)
	for key, on := range codec.Decode(state) {
		value := "OFF"
		if on {
			value = "ON"
		}
		topic := fmt.Sprintf("%s/switch/%s/%s/state", s.topicPrefix, identifier, key)
		if err := s.publish(topic, true, value); err != nil {
			return err
		}
	}
	return nil
}

// RegisterDevice publishes the discovery config of every sensor once per device.
func (s *service) RegisterDevice(deviceID string) error {
	s.mu.Lock()
	_, exists := s.configured[deviceID]
	s.mu.Unlock()
	if exists {
		return nil
	}

	for _, sn := range sensors {
		msg := defaultRegisterMsg(s.topicPrefix, deviceID, sn)
		topic := fmt.Sprintf("%s/sensor/%s/%s/config", s.topicPrefix, slug.Make(deviceID), sn.Slug)
		if err := s.publish(topic, true, msg); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.configured[deviceID] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("registered device sensors", zap.String("device_id", deviceID))
	return nil
}

func (s *service) publish(topic string, retained bool, v any) error {
	var payload []byte
	switch p := v.(type) {
	case string:
		payload = []byte(p)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		payload = data
	}

	token := s.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	return token.Error()
}

func defaultRegisterMsg(prefix, deviceID string, sn sensor) RegisterMessage {
	identifier := slug.Make(deviceID)
	return RegisterMessage{
		Tilda:             fmt.Sprintf("%s/sensor/%s/%s", prefix, identifier, sn.Slug),
		Name:              sn.Name,
		ID:                strings.ToLower(fmt.Sprintf("%s_%s", identifier, sn.Slug)),
		StateTopic:        "~/state",
		ValueTemplate:     "{{ value_json.value }}",
		UnitOfMeasurement: sn.Unit,
		Device: RegisterDevice{
			Name:         deviceID,
			Identifiers:  []string{identifier},
			Model:        "Relay controller",
			Manufacturer: "relay-bridge",
		},
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}
