package airlock

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// BatchManifest lists the models of one batch promotion. Bucket and DryRun
// apply to entries that leave them unset; relative paths resolve against the
// manifest's directory.
type BatchManifest struct {
	Concurrency int             `yaml:"concurrency"`
	Bucket      string          `yaml:"bucket"`
	DryRun      bool            `yaml:"dryRun"`
	Models      []DeployRequest `yaml:"models"`
}

func LoadBatchManifest(path string) (*BatchManifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	manifest := &BatchManifest{}
	if err := yaml.UnmarshalStrict(content, manifest); err != nil {
		return nil, fmt.Errorf("parse batch manifest %s: %w", path, err)
	}
	if len(manifest.Models) == 0 {
		return nil, fmt.Errorf("batch manifest %s lists no models", path)
	}
	base := filepath.Dir(path)
	for i := range manifest.Models {
		req := &manifest.Models[i]
		if req.ArtifactPath == "" {
			return nil, fmt.Errorf("batch manifest %s: models[%d]: artifact is required", path, i)
		}
		req.ArtifactPath = resolvePath(base, req.ArtifactPath)
		if req.ConfigPath != "" {
			req.ConfigPath = resolvePath(base, req.ConfigPath)
		}
		if req.Bucket == "" {
			req.Bucket = manifest.Bucket
		}
		req.DryRun = req.DryRun || manifest.DryRun
	}
	return manifest, nil
}

func resolvePath(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
