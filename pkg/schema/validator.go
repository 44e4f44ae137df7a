package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/exp/slices"
	"kubegems.io/airlock/pkg/errors"
	"kubegems.io/airlock/pkg/types"
)

// RootField names the document itself in violations that are not tied to a property.
const RootField = "(root)"

// NamePattern matches a model name usable as an object key segment.
const NamePattern = `[A-Za-z0-9][A-Za-z0-9._-]*`

var nameRegexp = regexp.MustCompile("^" + NamePattern + "$")

// IsValidName returns the reasons name cannot be used as a model name, or nil.
func IsValidName(name string) []string {
	var msgs []string
	if !nameRegexp.MatchString(name) {
		msgs = append(msgs, fmt.Sprintf("%q must start with a letter or digit and contain only letters, digits, '.', '_' or '-'", name))
	}
	if strings.Contains(name, "..") {
		msgs = append(msgs, fmt.Sprintf("%q must not contain '..'", name))
	}
	return msgs
}

//go:embed model.schema.json
var modelSchema []byte

// Document returns the raw JSON schema for model metadata.
func Document() []byte {
	return slices.Clone(modelSchema)
}

type Validator struct {
	schema *gojsonschema.Schema
}

func NewValidator() (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(modelSchema))
	if err != nil {
		return nil, fmt.Errorf("compile model schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate checks raw configuration data and converts it into ModelMetadata.
// Every violation is reported at once in a *errors.SchemaError; no partial
// metadata is ever returned.
func (v *Validator) Validate(raw any) (types.ModelMetadata, error) {
	doc := normalize(raw)
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return types.ModelMetadata{}, errors.NewSchemaError(errors.FieldViolation{
			Field:    RootField,
			Expected: "object",
			Message:  err.Error(),
		})
	}

	violations := make([]errors.FieldViolation, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		violations = append(violations, toViolation(e))
	}
	violations = append(violations, checkName(doc)...)
	if len(violations) > 0 {
		slices.SortStableFunc(violations, func(a, b errors.FieldViolation) int {
			return strings.Compare(a.Field, b.Field)
		})
		return types.ModelMetadata{}, errors.NewSchemaError(violations...)
	}

	content, err := json.Marshal(doc)
	if err != nil {
		return types.ModelMetadata{}, errors.NewSchemaError(errors.FieldViolation{Field: RootField, Message: err.Error()})
	}
	md := types.ModelMetadata{}
	if err := json.Unmarshal(content, &md); err != nil {
		return types.ModelMetadata{}, errors.NewSchemaError(errors.FieldViolation{Field: RootField, Message: err.Error()})
	}
	return md, nil
}

// normalize lowercases the framework on a shallow copy so the caller's map is untouched.
func normalize(raw any) any {
	m, ok := raw.(map[string]any)
	if !ok {
		return raw
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[k] = val
	}
	if fw, ok := out["framework"].(string); ok {
		if parsed, ok := types.ParseFramework(fw); ok {
			out["framework"] = string(parsed)
		}
	}
	return out
}

func checkName(doc any) []errors.FieldViolation {
	m, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	name, ok := m["name"].(string)
	if !ok || name == "" {
		return nil
	}
	var violations []errors.FieldViolation
	for _, msg := range IsValidName(name) {
		violations = append(violations, errors.FieldViolation{
			Field:    "name",
			Expected: "identifier of letters, digits, '.', '_' or '-'",
			Message:  msg,
		})
	}
	return violations
}

func toViolation(e gojsonschema.ResultError) errors.FieldViolation {
	details := e.Details()
	field := e.Field()
	if prop, ok := details["property"].(string); ok && prop != "" {
		if field == RootField {
			field = prop
		} else {
			field = field + "." + prop
		}
	}
	return errors.FieldViolation{
		Field:    field,
		Expected: expectation(e.Type(), details),
		Message:  e.Description(),
	}
}

func expectation(kind string, details gojsonschema.ErrorDetails) string {
	switch kind {
	case "required":
		return "present"
	case "invalid_type":
		return fmt.Sprint(details["expected"])
	case "enum":
		return "one of " + fmt.Sprint(details["allowed"])
	case "number_gte":
		return fmt.Sprintf("integer >= %v", details["min"])
	case "array_min_items":
		return fmt.Sprintf("at least %v items", details["min"])
	case "string_gte":
		return fmt.Sprintf("string of at least %v characters", details["min"])
	case "string_lte":
		return fmt.Sprintf("string of at most %v characters", details["max"])
	case "additional_property_not_allowed":
		return "no such field"
	case "format":
		return fmt.Sprint(details["format"])
	default:
		return ""
	}
}
