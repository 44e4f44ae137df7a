package schema

import (
	"fmt"
	"os"

	"kubegems.io/airlock/pkg/errors"
	"sigs.k8s.io/yaml"
)

// LoadConfig reads a YAML or JSON configuration document into untyped data.
// A file that cannot be read or parsed is reported as a schema violation on the document root.
func LoadConfig(path string) (any, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewSchemaError(errors.FieldViolation{
			Field:    RootField,
			Expected: "readable configuration file",
			Message:  err.Error(),
		})
	}
	return ParseConfig(content)
}

func ParseConfig(content []byte) (any, error) {
	var raw any
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, errors.NewSchemaError(errors.FieldViolation{
			Field:    RootField,
			Expected: "YAML or JSON document",
			Message:  fmt.Sprintf("parse config: %v", err),
		})
	}
	return raw, nil
}

