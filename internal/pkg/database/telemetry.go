package database

import (
	"context"
	"slices"

	"github.com/jackc/pgx/v5"

	"github.com/anicoll/relay-bridge/internal/pkg/model"
)

// AppendTelemetry inserts sample and trims the device history to the configured size.
func (db *Database) AppendTelemetry(ctx context.Context, sample model.TelemetrySample) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	m := sample.Measurements
	var relayStates *string
	if sample.RelayStates != "" {
		relayStates = &sample.RelayStates
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO telemetry (device_id, voltage, current, power, frequency, temperature, status, relay_states, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, sample.DeviceID, m.Voltage, m.Current, m.Power, m.Frequency, m.Temperature, m.Status, relayStates, sample.ReceivedAt); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM telemetry
		WHERE device_id = $1 AND id NOT IN (
			SELECT id FROM telemetry WHERE device_id = $1
			ORDER BY received_at DESC, id DESC
			LIMIT $2
		)
	`, sample.DeviceID, db.historySize); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (db *Database) TelemetryHistory(ctx context.Context, deviceID string) ([]model.TelemetrySample, error) {
	const query = `
	SELECT device_id, voltage, current, power, frequency, temperature, status, relay_states, received_at
	FROM telemetry
	WHERE device_id = $1
	ORDER BY received_at DESC, id DESC
	LIMIT $2;
	`
	rows, err := db.pool.Query(ctx, query, deviceID, db.historySize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples, err := scanTelemetry(rows)
	if err != nil {
		return nil, err
	}
	slices.Reverse(samples)
	return samples, nil
}

func scanTelemetry(rows pgx.Rows) ([]model.TelemetrySample, error) {
	samples := []model.TelemetrySample{}
	for rows.Next() {
		var (
			s           model.TelemetrySample
			relayStates *string
		)
		if err := rows.Scan(&s.DeviceID, &s.Measurements.Voltage, &s.Measurements.Current, &s.Measurements.Power,
			&s.Measurements.Frequency, &s.Measurements.Temperature, &s.Measurements.Status, &relayStates, &s.ReceivedAt); err != nil {
			return nil, err
		}
		if relayStates != nil {
			s.RelayStates = *relayStates
		}
		samples = append(samples, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}
