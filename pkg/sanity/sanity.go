package sanity

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/go-logr/logr"
	"kubegems.io/airlock/pkg/inspect"
	"kubegems.io/airlock/pkg/types"
)

const DefaultMaxTensorVolume int64 = 10_000_000

type Options struct {
	// AllowDynamicDims lets a dimension the artifact leaves symbolic match any declared value.
	AllowDynamicDims bool  `json:"allowDynamicDims" mapstructure:"allowDynamicDims"`
	MaxTensorVolume  int64 `json:"maxTensorVolume" mapstructure:"maxTensorVolume"`
}

func DefaultOptions() Options {
	return Options{MaxTensorVolume: DefaultMaxTensorVolume}
}

type Checker struct {
	inspector inspect.Inspector
	options   Options
}

func NewChecker(inspector inspect.Inspector, options Options) *Checker {
	if options.MaxTensorVolume <= 0 {
		options.MaxTensorVolume = DefaultMaxTensorVolume
	}
	return &Checker{inspector: inspector, options: options}
}

// Check compares the artifact against its declared metadata using static inspection only.
func (c *Checker) Check(ctx context.Context, md types.ModelMetadata, artifact types.ArtifactHandle) types.SanityReport {
	log := logr.FromContextOrDiscard(ctx).WithValues("name", md.Name, "artifact", artifact.Path)
	report := types.SanityReport{Expected: md.ExpectedOutputShape.Clone()}

	switch {
	case artifact.Framework == "":
		report.Problems = append(report.Problems,
			fmt.Sprintf("framework: cannot infer framework from file extension %q", filepath.Ext(artifact.Path)))
	case artifact.Framework != md.Framework:
		report.Problems = append(report.Problems,
			fmt.Sprintf("framework: artifact is %s but metadata declares %s", artifact.Framework, md.Framework))
	}

	for _, tensor := range md.InputTensors {
		if v := tensor.Dims.Volume(); v > c.options.MaxTensorVolume {
			report.Problems = append(report.Problems,
				fmt.Sprintf("input_tensors.%s: volume %d of %s exceeds limit %d", tensor.Name, v, tensor.Dims, c.options.MaxTensorVolume))
		}
	}
	if v := md.ExpectedOutputShape.Volume(); v > c.options.MaxTensorVolume {
		report.Problems = append(report.Problems,
			fmt.Sprintf("expected_output_shape: volume %d of %s exceeds limit %d", v, md.ExpectedOutputShape, c.options.MaxTensorVolume))
	}
	if len(report.Problems) > 0 {
		log.V(1).Info("sanity check failed before inspection", "problems", report.Problems)
		return report
	}

	observed, err := c.inspector.OutputShape(ctx, artifact)
	if err != nil {
		report.Problems = append(report.Problems, fmt.Sprintf("output shape: %v", err))
		log.V(1).Info("sanity check failed", "error", err.Error())
		return report
	}
	report.Observed = observed.Clone()
	report.Mismatches = CompareShapes(md.ExpectedOutputShape, observed, c.options.AllowDynamicDims)
	report.Passed = len(report.Mismatches) == 0
	log.V(1).Info("sanity check", "expected", report.Expected.String(), "observed", report.Observed.String(), "passed", report.Passed)
	return report
}

// CompareShapes lists every dimension where observed differs from expected.
// A rank difference yields one mismatch per missing or extra dimension.
func CompareShapes(expected, observed types.Shape, allowDynamic bool) []types.DimMismatch {
	var mismatches []types.DimMismatch
	n := len(expected)
	if len(observed) > n {
		n = len(observed)
	}
	for i := 0; i < n; i++ {
		switch {
		case i >= len(observed):
			mismatches = append(mismatches, types.DimMismatch{Index: i, Expected: expected[i], Reason: types.MismatchMissing})
		case i >= len(expected):
			mismatches = append(mismatches, types.DimMismatch{Index: i, Observed: observed[i], Reason: types.MismatchExtra})
		case observed[i] == types.DynamicDim:
			if !allowDynamic {
				mismatches = append(mismatches, types.DimMismatch{Index: i, Expected: expected[i], Observed: observed[i], Reason: types.MismatchDynamic})
			}
		case observed[i] != expected[i]:
			mismatches = append(mismatches, types.DimMismatch{Index: i, Expected: expected[i], Observed: observed[i], Reason: types.MismatchValue})
		}
	}
	return mismatches
}
