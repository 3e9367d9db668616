package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
)

// FieldValidator checks a flat form document against enumerated field
// rules. Required is checked directly; pattern, format and length rules are
// compiled once into a JSON Schema.
type FieldValidator struct {
	rules  []domain.FieldRule
	schema *santhosh.Schema
}

func NewFieldValidator(rules []domain.FieldRule) (*FieldValidator, error) {
	doc, err := json.Marshal(rulesToSchema(rules))
	if err != nil {
		return nil, fmt.Errorf("encode rules: %w", err)
	}
	compiled, err := compileSchema(doc)
	if err != nil {
		return nil, fmt.Errorf("compile rules: %w", err)
	}
	return &FieldValidator{rules: rules, schema: compiled}, nil
}

func MustFieldValidator(rules []domain.FieldRule) *FieldValidator {
	v, err := NewFieldValidator(rules)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate ignores blank optional values. It returns *domain.ValidationError.
func (v *FieldValidator) Validate(values map[string]string) error {
	fields := map[string]string{}
	doc := map[string]any{}
	for _, rule := range v.rules {
		value := strings.TrimSpace(values[rule.Field])
		if value == "" {
			if rule.Required {
				fields[rule.Field] = "is required"
			}
			continue
		}
		doc[rule.Field] = value
	}

	if err := v.schema.Validate(doc); err != nil {
		var ve *santhosh.ValidationError
		if !errors.As(err, &ve) {
			return err
		}
		for _, leaf := range leafErrors(ve) {
			field := strings.TrimPrefix(leaf.InstanceLocation, "/")
			if _, seen := fields[field]; seen || field == "" {
				continue
			}
			fields[field] = v.message(field, leaf.KeywordLocation)
		}
	}

	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}

func (v *FieldValidator) message(field, keyword string) string {
	switch {
	case strings.HasSuffix(keyword, "/format"):
		return "must be a valid email address"
	case strings.HasSuffix(keyword, "/minLength"):
		for _, rule := range v.rules {
			if rule.Field == field {
				return fmt.Sprintf("must be at least %d characters", rule.MinLength)
			}
		}
		return "is too short"
	default:
		return "has an invalid format"
	}
}

func rulesToSchema(rules []domain.FieldRule) map[string]any {
	props := map[string]any{}
	for _, rule := range rules {
		prop := map[string]any{"type": "string"}
		if rule.Pattern != "" {
			prop["pattern"] = rule.Pattern
		}
		if rule.Format != "" {
			prop["format"] = rule.Format
		}
		if rule.MinLength > 0 {
			prop["minLength"] = rule.MinLength
		}
		props[rule.Field] = prop
	}
	return map[string]any{"type": "object", "properties": props}
}

func compileSchema(schemaJSON []byte) (*santhosh.Schema, error) {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	compiler.AssertFormat = true
	if err := compiler.AddResource("rules.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("rules.json")
}

func leafErrors(ve *santhosh.ValidationError) []*santhosh.ValidationError {
	if len(ve.Causes) == 0 {
		return []*santhosh.ValidationError{ve}
	}
	var out []*santhosh.ValidationError
	for _, cause := range ve.Causes {
		out = append(out, leafErrors(cause)...)
	}
	return out
}
