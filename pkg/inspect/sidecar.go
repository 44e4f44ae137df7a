package inspect

import (
	"encoding/json"
	"fmt"
	"os"

	"kubegems.io/airlock/pkg/types"
)

const DefaultSidecarSuffix = ".shape.json"

// ShapeFile is the declared-shape document stored next to formats that carry no shape of their own.
type ShapeFile struct {
	OutputShape types.Shape `json:"output_shape"`
}

func readSidecar(path string) (types.Shape, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no embedded shape and no sidecar %s: %w", path, ErrShapeUnavailable)
		}
		return nil, err
	}
	return parseShapeFile(path, content)
}

func parseShapeFile(path string, content []byte) (types.Shape, error) {
	sf := ShapeFile{}
	if err := json.Unmarshal(content, &sf); err != nil {
		return nil, fmt.Errorf("parse %s: %v: %w", path, err, ErrShapeUnavailable)
	}
	if len(sf.OutputShape) == 0 {
		return nil, fmt.Errorf("%s has no output_shape: %w", path, ErrShapeUnavailable)
	}
	return sf.OutputShape, nil
}

func WriteSidecar(artifactPath string, shape types.Shape) error {
	content, err := json.MarshalIndent(ShapeFile{OutputShape: shape}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(artifactPath+DefaultSidecarSuffix, content, 0o644)
}
