package types

import (
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

const (
	MediaTypeModelIndexJson    = "application/vnd.airlock.model.index.v1.json"
	MediaTypeModelArtifact     = "application/vnd.airlock.model.artifact.v1"
	MediaTypeModelConfigJson   = "application/vnd.airlock.model.config.v1.json"
	MediaTypeModelConfigYaml   = "application/vnd.airlock.model.config.v1.yaml"
	LedgerIndexFileName        = "index.json"
	AnnotationFramework        = "airlock.kubegems.io/framework"
	AnnotationDescription      = "airlock.kubegems.io/description"
	AnnotationObjectKey        = "airlock.kubegems.io/object-key"
	AnnotationExpectedShape    = "airlock.kubegems.io/expected-output-shape"
	AnnotationInvocationID     = "airlock.kubegems.io/invocation-id"
	AnnotationExperimentID     = "airlock.kubegems.io/experiment-id"
	AnnotationAuthorEmail      = "airlock.kubegems.io/author-email"
	DefaultArtifactContentType = "application/octet-stream"
)

// Descriptor describes one registered version inside a ledger index.
type Descriptor struct {
	Name        string            `json:"name"`
	MediaType   string            `json:"mediaType,omitempty"`
	Digest      digest.Digest     `json:"digest,omitempty"`
	Size        int64             `json:"size,omitempty"`
	Modified    time.Time         `json:"modified,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

func SortDescriptorName(a, b Descriptor) int {
	return strings.Compare(a.Name, b.Name)
}

// Index is the per-model version ledger document kept next to the artifacts.
type Index struct {
	SchemaVersion int               `json:"schemaVersion"`
	MediaType     string            `json:"mediaType,omitempty"`
	Manifests     []Descriptor      `json:"manifests"`
	Annotations   map[string]string `json:"annotations,omitempty"`
}
