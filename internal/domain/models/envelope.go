package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Schema names carried by bus envelopes, one per channel.
const (
	SchemaMarketStateChange = "market_state_change"
	SchemaAttentionState    = "attention_state"
	SchemaCandidateList     = "candidate_list"
	SchemaOpportunityRank   = "opportunity_rank"
	SchemaExecutionEvent    = "execution_event"
	SchemaCalibrationState  = "calibration_state"
)

// SchemaVersion is the current version of every schema.
const SchemaVersion = 1

var knownSchemas = map[string]int{
	SchemaMarketStateChange: SchemaVersion,
	SchemaAttentionState:    SchemaVersion,
	SchemaCandidateList:     SchemaVersion,
	SchemaOpportunityRank:   SchemaVersion,
	SchemaExecutionEvent:    SchemaVersion,
	SchemaCalibrationState:  SchemaVersion,
}

var (
	// ErrUnknownSchema is returned for envelopes with an unexpected schema or version.
	ErrUnknownSchema = errors.New("unknown schema")
	// ErrMalformedPayload is returned when the payload does not match its schema.
	ErrMalformedPayload = errors.New("malformed payload")
)

// Envelope is the tagged wrapper for every bus payload.
type Envelope struct {
	Schema  string          `json:"schema"`
	Version int             `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps payload in an envelope for schema.
func Encode(schema string, payload interface{}) ([]byte, error) {
	v, ok := knownSchemas[schema]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, schema)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", schema, err)
	}
	return json.Marshal(Envelope{Schema: schema, Version: v, Payload: raw})
}

// Decode unwraps data into T, requiring the expected schema and version and
// rejecting fields that T does not declare.
func Decode[T any](data []byte, schema string) (T, error) {
	var zero T

	var env Envelope
	if err := strictUnmarshal(data, &env); err != nil {
		return zero, fmt.Errorf("%w: envelope: %v", ErrMalformedPayload, err)
	}
	if env.Schema != schema {
		return zero, fmt.Errorf("%w: got %q, want %q", ErrUnknownSchema, env.Schema, schema)
	}
	if want := knownSchemas[schema]; env.Version != want {
		return zero, fmt.Errorf("%w: %s version %d", ErrUnknownSchema, schema, env.Version)
	}
	if len(env.Payload) == 0 {
		return zero, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}

	var out T
	if err := strictUnmarshal(env.Payload, &out); err != nil {
		return zero, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, schema, err)
	}
	return out, nil
}

func strictUnmarshal(data []byte, dest interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data")
	}
	return nil
}
