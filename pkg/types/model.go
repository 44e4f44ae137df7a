package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

type Framework string

const (
	FrameworkPyTorch Framework = "pytorch"
	FrameworkONNX    Framework = "onnx"
	FrameworkSklearn Framework = "sklearn"
)

var Frameworks = []Framework{FrameworkPyTorch, FrameworkONNX, FrameworkSklearn}

// ParseFramework matches case-insensitively, so "PyTorch" is accepted.
func ParseFramework(s string) (Framework, bool) {
	for _, f := range Frameworks {
		if strings.EqualFold(string(f), strings.TrimSpace(s)) {
			return f, true
		}
	}
	return "", false
}

// DynamicDim marks a dimension the artifact leaves symbolic (for example an ONNX dim_param).
const DynamicDim int64 = -1

type Shape []int64

func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	return append(Shape(nil), s...)
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = dimString(d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func dimString(d int64) string {
	if d == DynamicDim {
		return "?"
	}
	return strconv.FormatInt(d, 10)
}

// Volume is the element count of the shape, saturating at math.MaxInt64.
// Dynamic dimensions count as 1.
func (s Shape) Volume() int64 {
	volume := int64(1)
	for _, d := range s {
		if d <= 0 {
			continue
		}
		if volume > math.MaxInt64/d {
			return math.MaxInt64
		}
		volume *= d
	}
	return volume
}

func (s Shape) HasDynamic() bool {
	for _, d := range s {
		if d == DynamicDim {
			return true
		}
	}
	return false
}

type TensorSpec struct {
	Name  string `json:"name"`
	Dims  Shape  `json:"dims"`
	DType string `json:"dtype,omitempty"`
}

// ModelMetadata is the validated model configuration. Values are produced by the
// schema validator only and are passed by value; slices are cloned on copy via Clone.
type ModelMetadata struct {
	Name                string       `json:"name"`
	Framework           Framework    `json:"framework"`
	ExpectedOutputShape Shape        `json:"expected_output_shape"`
	Description         string       `json:"description,omitempty"`
	AuthorEmail         string       `json:"author_email,omitempty"`
	ExperimentID        string       `json:"experiment_id,omitempty"`
	InputTensors        []TensorSpec `json:"input_tensors,omitempty"`
}

func (m ModelMetadata) Clone() ModelMetadata {
	out := m
	out.ExpectedOutputShape = m.ExpectedOutputShape.Clone()
	if m.InputTensors != nil {
		out.InputTensors = make([]TensorSpec, len(m.InputTensors))
		for i, t := range m.InputTensors {
			t.Dims = t.Dims.Clone()
			out.InputTensors[i] = t
		}
	}
	return out
}

// ArtifactHandle references the local model file under promotion.
type ArtifactHandle struct {
	Path      string        `json:"path"`
	Size      int64         `json:"size"`
	Framework Framework     `json:"framework"`
	Digest    digest.Digest `json:"digest"`
	Modified  time.Time     `json:"modified"`
}

type DimMismatch struct {
	Index    int    `json:"index"`
	Expected int64  `json:"expected"`
	Observed int64  `json:"observed"`
	Reason   string `json:"reason"`
}

const (
	MismatchValue   = "value"
	MismatchMissing = "missing"
	MismatchExtra   = "extra"
	MismatchDynamic = "dynamic"
)

func (m DimMismatch) String() string {
	switch m.Reason {
	case MismatchMissing:
		return fmt.Sprintf("dim %d: expected %d, artifact has no such dimension", m.Index, m.Expected)
	case MismatchExtra:
		return fmt.Sprintf("dim %d: not declared, artifact has %s", m.Index, dimString(m.Observed))
	case MismatchDynamic:
		return fmt.Sprintf("dim %d: expected %d, artifact leaves it dynamic", m.Index, m.Expected)
	default:
		return fmt.Sprintf("dim %d: expected %d, observed %d", m.Index, m.Expected, m.Observed)
	}
}

type SanityReport struct {
	Passed     bool          `json:"passed"`
	Expected   Shape         `json:"expected"`
	Observed   Shape         `json:"observed,omitempty"`
	Mismatches []DimMismatch `json:"mismatches,omitempty"`
	Problems   []string      `json:"problems,omitempty"`
}

func (r SanityReport) Detail() string {
	if r.Passed {
		return "output shape " + r.Observed.String() + " matches"
	}
	msgs := append([]string{}, r.Problems...)
	if len(r.Observed) != len(r.Expected) && r.Observed != nil {
		msgs = append(msgs, fmt.Sprintf("rank mismatch: expected %d dims %s, observed %d dims %s",
			len(r.Expected), r.Expected, len(r.Observed), r.Observed))
	}
	for _, m := range r.Mismatches {
		msgs = append(msgs, m.String())
	}
	return strings.Join(msgs, "; ")
}
