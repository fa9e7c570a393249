package compliance

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const rulesSchemaURL = "https://fundops.schemas.local/compliance/rules.schema.json"

const rulesSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["id", "name", "checkType"],
    "properties": {
      "id": {"type": "string", "minLength": 1},
      "name": {"type": "string", "minLength": 1},
      "description": {"type": "string"},
      "requirement": {"type": "string"},
      "checkType": {"enum": ["text_match", "presence", "date", "ai_analysis", "expression"]},
      "pattern": {"type": "string"},
      "expression": {"type": "string"},
      "critical": {"type": "boolean"}
    },
    "allOf": [
      {"if": {"properties": {"checkType": {"const": "text_match"}}}, "then": {"required": ["pattern"]}},
      {"if": {"properties": {"checkType": {"const": "presence"}}}, "then": {"required": ["pattern"]}},
      {"if": {"properties": {"checkType": {"const": "expression"}}}, "then": {"required": ["expression"]}}
    ]
  }
}`

const requirementsSchemaURL = "https://fundops.schemas.local/compliance/requirements.schema.json"

const requirementsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "requiredFields": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "requiredCategories": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "maxAgeDays": {"type": "integer", "minimum": 0},
    "requiredDocuments": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "critical": {"type": "array", "items": {"type": "string"}}
  }
}`

// PolicyValidator checks policy rule and requirement JSON before it is
// trusted by the evaluator.
type PolicyValidator struct {
	rules        *jsonschema.Schema
	requirements *jsonschema.Schema
	expressions  *ExpressionEvaluator
}

// NewPolicyValidator compiles the schemas. expressions, when set, is used
// to compile expression rules up front.
func NewPolicyValidator(expressions *ExpressionEvaluator) (*PolicyValidator, error) {
	rules, err := compileSchema(rulesSchemaURL, rulesSchema)
	if err != nil {
		return nil, err
	}
	requirements, err := compileSchema(requirementsSchemaURL, requirementsSchema)
	if err != nil {
		return nil, err
	}
	return &PolicyValidator{rules: rules, requirements: requirements, expressions: expressions}, nil
}

func compileSchema(url, schema string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("schema load failed: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed: %w", err)
	}
	return compiled, nil
}

// Decode validates raw rule and requirement JSON and decodes it. Empty input
// is treated as no rules and no requirements.
func (v *PolicyValidator) Decode(rawRules, rawRequirements []byte) ([]Rule, Requirements, error) {
	var (
		rules []Rule
		reqs  Requirements
	)
	if len(strings.TrimSpace(string(rawRules))) > 0 && string(rawRules) != "null" {
		if err := validateJSON(v.rules, rawRules); err != nil {
			return nil, Requirements{}, fmt.Errorf("%w: rules: %w", ErrInvalidPolicy, err)
		}
		if err := json.Unmarshal(rawRules, &rules); err != nil {
			return nil, Requirements{}, fmt.Errorf("%w: rules: %w", ErrInvalidPolicy, err)
		}
	}
	if len(strings.TrimSpace(string(rawRequirements))) > 0 && string(rawRequirements) != "null" {
		if err := validateJSON(v.requirements, rawRequirements); err != nil {
			return nil, Requirements{}, fmt.Errorf("%w: requirements: %w", ErrInvalidPolicy, err)
		}
		if err := json.Unmarshal(rawRequirements, &reqs); err != nil {
			return nil, Requirements{}, fmt.Errorf("%w: requirements: %w", ErrInvalidPolicy, err)
		}
	}
	if v.expressions != nil {
		for _, rule := range rules {
			if rule.CheckType != CheckExpression {
				continue
			}
			if err := v.expressions.Compile(rule.Expression); err != nil {
				return nil, Requirements{}, fmt.Errorf("%w: rule %s: %w", ErrInvalidPolicy, rule.ID, err)
			}
		}
	}
	return rules, reqs, nil
}

// Validate re-checks an already decoded policy, e.g. one loaded from fixtures.
func (v *PolicyValidator) Validate(p Policy) error {
	rules := p.Rules
	if rules == nil {
		rules = []Rule{}
	}
	rawRules, err := json.Marshal(rules)
	if err != nil {
		return err
	}
	rawReqs, err := json.Marshal(p.Requirements)
	if err != nil {
		return err
	}
	_, _, err = v.Decode(rawRules, rawReqs)
	return err
}

func validateJSON(schema *jsonschema.Schema, raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}
