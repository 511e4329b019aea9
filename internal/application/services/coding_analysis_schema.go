package services

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const codeSuggestionSchema = `{
	"type": "object",
	"required": ["code", "confidence"],
	"properties": {
		"code": {"type": "string", "minLength": 1},
		"code_type": {"type": "string"},
		"description": {"type": "string"},
		"justification": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"confidence_rationale": {"type": ["string", "null"]},
		"supporting_text": {"type": "array", "items": {"type": "string"}}
	}
}`

const codeIdentificationSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["suggested_codes"],
	"properties": {
		"billed_codes": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["code"],
				"properties": {
					"code": {"type": "string", "minLength": 1},
					"type": {"type": "string"},
					"description": {"type": ["string", "null"]}
				}
			}
		},
		"suggested_codes": {"type": "array", "items": ` + codeSuggestionSchema + `},
		"additional_codes": {"type": "array", "items": ` + codeSuggestionSchema + `},
		"uncaptured_services": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["service"],
				"properties": {
					"service": {"type": "string"},
					"suggested_code": {"type": "string"},
					"supporting_text": {"type": "array", "items": {"type": "string"}}
				}
			}
		}
	}
}`

const qualityComplianceSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["rvu_analysis", "audit_metadata"],
	"properties": {
		"missing_documentation": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["requirement"],
				"properties": {
					"code": {"type": "string"},
					"requirement": {"type": "string"},
					"impact": {"type": "string"}
				}
			}
		},
		"denial_risks": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["code", "risk"],
				"properties": {
					"code": {"type": "string"},
					"risk": {"type": "string"},
					"severity": {"type": "string"},
					"mitigation": {"type": "string"}
				}
			}
		},
		"rvu_analysis": {
			"type": "object",
			"properties": {
				"billed_rvus": {"type": "number"},
				"suggested_rvus": {"type": "number"},
				"incremental_rvus": {"type": "number"},
				"per_code_detail": {
					"type": "array",
					"items": {
						"type": "object",
						"required": ["code"],
						"properties": {
							"code": {"type": "string"},
							"rvus": {"type": "number"},
							"revenue_impact": {"type": "number"}
						}
					}
				}
			}
		},
		"modifier_suggestions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["code", "modifier"],
				"properties": {
					"code": {"type": "string"},
					"modifier": {"type": "string"},
					"rationale": {"type": "string"}
				}
			}
		},
		"audit_metadata": {
			"type": "object",
			"properties": {
				"total_codes_identified": {"type": "integer", "minimum": 0},
				"high_confidence_codes": {"type": "integer", "minimum": 0},
				"quality_score": {"type": "number"},
				"compliance_flags": {"type": "array", "items": {"type": "string"}},
				"timestamp": {"type": "string"}
			}
		}
	}
}`

var (
	codeIdentificationValidator = mustLoadSchema(codeIdentificationSchema)
	qualityComplianceValidator  = mustLoadSchema(qualityComplianceSchema)
)

func mustLoadSchema(schema string) *gojsonschema.Schema {
	loaded, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("invalid analysis schema: %v", err))
	}
	return loaded
}

// validateDocument checks doc against schema and joins all violations into one error
func validateDocument(schema *gojsonschema.Schema, doc string) error {
	result, err := schema.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return fmt.Errorf("failed to validate: %w", err)
	}

	if !result.Valid() {
		var violations []string
		for _, desc := range result.Errors() {
			violations = append(violations, desc.String())
		}
		return fmt.Errorf("validation failed: %s", strings.Join(violations, "; "))
	}

	return nil
}
