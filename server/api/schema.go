package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/GoCodeAlone/pciledger/apperr"
	"github.com/GoCodeAlone/pciledger/formula"
	"github.com/GoCodeAlone/pciledger/task"
)

// verificationSchema describes the payload an external AI verifier posts.
const verificationSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "minProperties": 1,
  "properties": {
    "aiVerifiedUnits": {"type": "number", "minimum": 0},
    "aas": {"type": "number", "minimum": 0, "maximum": 100},
    "factors": {
      "type": "object",
      "additionalProperties": false,
      "required": ["ISR", "CF", "UXI", "RCF", "AEP", "L", "MLW", "CGW", "RF", "S", "GLRI"],
      "properties": {
        "ISR": {"type": "number"}, "CF": {"type": "number"}, "UXI": {"type": "number"},
        "RCF": {"type": "number"}, "AEP": {"type": "number"}, "L": {"type": "number"},
        "MLW": {"type": "number"}, "CGW": {"type": "number"}, "RF": {"type": "number"},
        "S": {"type": "number"}, "GLRI": {"type": "number"}
      }
    }
  }
}`

// VerificationSchema validates inbound verification payloads.
type VerificationSchema struct {
	schema *jsonschema.Schema
}

// NewVerificationSchema compiles the verification payload schema.
func NewVerificationSchema() (*VerificationSchema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("verification.json", bytes.NewReader([]byte(verificationSchema))); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("verification.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &VerificationSchema{schema: schema}, nil
}

// Decode validates data against the schema and decodes it.
func (s *VerificationSchema) Decode(data []byte) (task.Verification, error) {
	const op = "api.verification"
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return task.Verification{}, apperr.Validation(op, "invalid JSON: %v", err)
	}
	if err := s.schema.Validate(v); err != nil {
		return task.Verification{}, apperr.Validation(op, "payload does not match schema: %v", err)
	}
	var out task.Verification
	if err := json.Unmarshal(data, &out); err != nil {
		return task.Verification{}, apperr.Validation(op, "decode payload: %v", err)
	}
	if out.Factors != nil && !out.Factors.Finite() {
		return task.Verification{}, apperr.Validation(op, "factors must be finite")
	}
	return out, nil
}

// requiredFactors lists the factor names the schema requires, in order.
func requiredFactors() []string {
	return append([]string(nil), formula.Names[:]...)
}
