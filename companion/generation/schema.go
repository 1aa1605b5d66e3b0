package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ErrSchemaViolation is returned when structured output does not match its schema.
var ErrSchemaViolation = errors.New("output violates schema")

// SchemaValidator validates JSON documents, compiling each schema once.
type SchemaValidator struct {
	mu       sync.Mutex
	compiled map[string]*gojsonschema.Schema
}

func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{compiled: make(map[string]*gojsonschema.Schema)}
}

func (v *SchemaValidator) schema(raw []byte) (*gojsonschema.Schema, error) {
	key := string(raw)
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.compiled[key]; ok {
		return s, nil
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v.compiled[key] = s
	return s, nil
}

// Validate checks data against schema. An empty schema accepts any valid JSON.
func (v *SchemaValidator) Validate(data json.RawMessage, schema []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("%w: not valid JSON", ErrSchemaViolation)
	}
	if len(schema) == 0 {
		return nil
	}
	s, err := v.schema(schema)
	if err != nil {
		return err
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(msgs, "; "))
	}
	return nil
}
