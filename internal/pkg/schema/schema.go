// Package schema validates channel payloads and request bodies against the
// component schemas of the embedded API document.
package schema

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var document []byte

var ErrUnknownSchema = errors.New("unknown schema")

// Component schema names.
const (
	Envelope         = "Envelope"
	Telemetry        = "Telemetry"
	RoomsReply       = "RoomsReply"
	RelayStateReply  = "RelayStateReply"
	ToggleRequest    = "ToggleRequest"
	ToggleAck        = "ToggleAck"
	SaveRoomsRequest = "SaveRoomsRequest"
)

type Validator struct {
	doc *openapi3.T
}

func New() (*Validator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(document)
	if err != nil {
		return nil, fmt.Errorf("load api document: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("invalid api document: %w", err)
	}
	return &Validator{doc: doc}, nil
}

// Document returns the raw embedded API document.
func Document() []byte {
	return document
}

// Validate checks data against the named component schema.
func (v *Validator) Validate(name string, data []byte) error {
	if v.doc.Components == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}
	ref, ok := v.doc.Components.Schemas[name]
	if !ok || ref.Value == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}
	if len(data) == 0 {
		return fmt.Errorf("%s: empty payload", name)
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if err := ref.Value.VisitJSON(value); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
