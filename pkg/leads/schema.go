package leads

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	recordSchemaURL  = "https://schemas.myinjuryclaimnow.com/lead-record.schema.json"
	partialSchemaURL = "https://schemas.myinjuryclaimnow.com/partial-lead.schema.json"
)

// Validator checks inbound lead documents against the embedded schemas.
type Validator struct {
	record  *jsonschema.Schema
	partial *jsonschema.Schema
}

// NewValidator compiles the embedded schemas.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for url, name := range map[string]string{
		recordSchemaURL:  "schemas/lead-record.schema.json",
		partialSchemaURL: "schemas/partial-lead.schema.json",
	} {
		data, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("schema load failed: %w", err)
		}
	}

	record, err := c.Compile(recordSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed: %w", err)
	}
	partial, err := c.Compile(partialSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed: %w", err)
	}
	return &Validator{record: record, partial: partial}, nil
}

// ValidationError wraps a schema violation so transports can map it to 400.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "invalid lead: " + e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// DecodeRecord validates a JSON lead record and decodes it.
func (v *Validator) DecodeRecord(data []byte) (*Record, error) {
	if err := validate(v.record, data); err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &ValidationError{Err: err}
	}
	return &r, nil
}

// DecodePartial validates a JSON partial lead and decodes it.
func (v *Validator) DecodePartial(data []byte) (*PartialLead, error) {
	if err := validate(v.partial, data); err != nil {
		return nil, err
	}
	var p PartialLead
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &ValidationError{Err: err}
	}
	return &p, nil
}

func validate(schema *jsonschema.Schema, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return &ValidationError{Err: fmt.Errorf("malformed JSON: %w", err)}
	}
	if err := schema.Validate(doc); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}
