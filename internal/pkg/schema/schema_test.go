package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_Validate(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	tests := map[string]struct {
		schema  string
		data    string
		wantErr bool
	}{
		"envelope":                    {schema: Envelope, data: `{"event":"telemetry","device_id":"dev1","data":{}}`},
		"envelope without event":      {schema: Envelope, data: `{"device_id":"dev1"}`, wantErr: true},
		"telemetry":                   {schema: Telemetry, data: `{"measurements":{"voltage":"230"},"relay_states":"0101"}`},
		"telemetry relay array":       {schema: Telemetry, data: `{"measurements":{},"relay_states":["0","1"]}`},
		"telemetry missing readings":  {schema: Telemetry, data: `{"relay_states":"01"}`},
		"telemetry not an object":     {schema: Telemetry, data: `"230V"`, wantErr: true},
		"toggle request":              {schema: ToggleRequest, data: `{"updates":{"3":true}}`},
		"toggle request non boolean":  {schema: ToggleRequest, data: `{"updates":{"3":"on"}}`, wantErr: true},
		"toggle request without keys": {schema: ToggleRequest, data: `{}`, wantErr: true},
		"toggle ack":                  {schema: ToggleAck, data: `{"updates":{"1":false},"relay_states":"00"}`},
		"rooms reply list":            {schema: RoomsReply, data: `{"rooms_saved":["a","b"]}`},
		"rooms reply number":          {schema: RoomsReply, data: `{"rooms_saved":3}`, wantErr: true},
		"relay state reply":           {schema: RelayStateReply, data: `{"relay_states":"1010"}`},
		"save rooms":                  {schema: SaveRoomsRequest, data: `{"rooms":"Kitchen,Garage"}`},
		"save rooms missing":          {schema: SaveRoomsRequest, data: `{"room":"Kitchen"}`, wantErr: true},
		"not json":                    {schema: Telemetry, data: `{`, wantErr: true},
		"empty":                       {schema: Telemetry, data: ``, wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := v.Validate(tt.schema, []byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidator_UnknownSchema(t *testing.T) {
	v, err := New()
	require.NoError(t, err)
	assert.ErrorIs(t, v.Validate("Nope", []byte(`{}`)), ErrUnknownSchema)
}

func TestDocument(t *testing.T) {
	assert.Contains(t, string(Document()), "/get-rooms/{device_id}")
}
