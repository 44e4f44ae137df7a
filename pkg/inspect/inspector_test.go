package inspect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mholt/archiver/v4"
	"github.com/opencontainers/go-digest"
	"google.golang.org/protobuf/encoding/protowire"
	"kubegems.io/airlock/pkg/types"
)

func onnxDim(v any) []byte {
	switch d := v.(type) {
	case int:
		b := protowire.AppendTag(nil, onnxDimValue, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(d))
	case string:
		b := protowire.AppendTag(nil, onnxDimParam, protowire.BytesType)
		return protowire.AppendString(b, d)
	default:
		return nil
	}
}

func onnxValueInfo(name string, dims ...any) []byte {
	var shape []byte
	for _, d := range dims {
		shape = protowire.AppendTag(shape, onnxShapeDim, protowire.BytesType)
		shape = protowire.AppendBytes(shape, onnxDim(d))
	}
	tensor := protowire.AppendTag(nil, 1, protowire.VarintType) // elem_type FLOAT
	tensor = protowire.AppendVarint(tensor, 1)
	if dims != nil {
		tensor = protowire.AppendTag(tensor, onnxTensorShape, protowire.BytesType)
		tensor = protowire.AppendBytes(tensor, shape)
	}
	typeProto := protowire.AppendTag(nil, onnxTypeTensor, protowire.BytesType)
	typeProto = protowire.AppendBytes(typeProto, tensor)

	vi := protowire.AppendTag(nil, 1, protowire.BytesType)
	vi = protowire.AppendString(vi, name)
	vi = protowire.AppendTag(vi, onnxValueInfoType, protowire.BytesType)
	return protowire.AppendBytes(vi, typeProto)
}

// onnxModel builds a ModelProto whose graph has a large initializer before its outputs.
func onnxModel(withGraph bool, outputDims ...any) []byte {
	model := protowire.AppendTag(nil, 1, protowire.VarintType) // ir_version
	model = protowire.AppendVarint(model, 8)
	model = protowire.AppendTag(model, 2, protowire.BytesType) // producer_name
	model = protowire.AppendString(model, "pytorch")
	if !withGraph {
		return model
	}

	graph := protowire.AppendTag(nil, 2, protowire.BytesType) // name
	graph = protowire.AppendString(graph, "main")
	graph = protowire.AppendTag(graph, 5, protowire.BytesType) // initializer
	graph = protowire.AppendBytes(graph, make([]byte, 64<<10))
	graph = protowire.AppendTag(graph, 11, protowire.BytesType) // input
	graph = protowire.AppendBytes(graph, onnxValueInfo("obs", 1, 32))
	graph = protowire.AppendTag(graph, onnxGraphOutput, protowire.BytesType)
	graph = protowire.AppendBytes(graph, onnxValueInfo("action", outputDims...))
	graph = protowire.AppendTag(graph, onnxGraphOutput, protowire.BytesType)
	graph = protowire.AppendBytes(graph, onnxValueInfo("value", 1, 1))

	model = protowire.AppendTag(model, onnxModelGraph, protowire.BytesType)
	model = protowire.AppendBytes(model, graph)
	model = protowire.AppendTag(model, 8, protowire.BytesType) // opset_import
	return protowire.AppendBytes(model, []byte{0x10, 0x11})
}

func torchZip(t *testing.T, shapeJSON string) []byte {
	t.Helper()
	src := t.TempDir()
	root := filepath.Join(src, "arm_policy")
	writeFile(t, filepath.Join(root, "data.pkl"), []byte{0x80, 0x02, '}', 'q', 0x00, '.'})
	if shapeJSON != "" {
		writeFile(t, filepath.Join(root, "extra", "output_shape.json"), []byte(shapeJSON))
	}
	files, err := archiver.FilesFromDisk(&archiver.FromDiskOptions{}, map[string]string{src + string(os.PathSeparator): ""})
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "model.zip")
	f, err := os.Create(out)
	if err != nil {
		t.Fatal(err)
	}
	if err := (archiver.Zip{}).Archive(context.Background(), f, files); err != nil {
		t.Fatal(err)
	}
	f.Close()
	content, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	return content
}

func writeFile(t *testing.T, path string, content []byte) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStaticInspector_Open(t *testing.T) {
	content := onnxModel(true, 1, 7)
	path := writeFile(t, filepath.Join(t.TempDir(), "policy.ONNX"), content)

	handle, err := NewStaticInspector().Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if handle.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", handle.Size, len(content))
	}
	if handle.Framework != types.FrameworkONNX {
		t.Errorf("Framework = %q, want onnx", handle.Framework)
	}
	if want := digest.FromBytes(content); handle.Digest != want {
		t.Errorf("Digest = %s, want %s", handle.Digest, want)
	}
}

func TestStaticInspector_OpenErrors(t *testing.T) {
	dir := t.TempDir()
	for _, path := range []string{filepath.Join(dir, "missing.pt"), dir} {
		if _, err := NewStaticInspector().Open(context.Background(), path); err == nil {
			t.Errorf("Open(%s) expected error", path)
		}
	}
}

func TestFrameworkFromPath(t *testing.T) {
	tests := []struct {
		path string
		want types.Framework
		ok   bool
	}{
		{path: "model.pt", want: types.FrameworkPyTorch, ok: true},
		{path: "weights/model.pth", want: types.FrameworkPyTorch, ok: true},
		{path: "model.onnx", want: types.FrameworkONNX, ok: true},
		{path: "clf.pkl", want: types.FrameworkSklearn, ok: true},
		{path: "clf.joblib", want: types.FrameworkSklearn, ok: true},
		{path: "model.h5", want: "", ok: false},
		{path: "model", want: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := FrameworkFromPath(tt.path)
			if got != tt.want || ok != tt.ok {
				t.Errorf("FrameworkFromPath(%s) = %q, %v, want %q, %v", tt.path, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestStaticInspector_OutputShape(t *testing.T) {
	pickle := []byte{0x80, 0x04, 0x95, 'K', 0x01, '.'}
	tests := []struct {
		name    string
		file    string
		content []byte
		sidecar string
		want    types.Shape
		wantErr error
	}{
		{name: "onnx fixed dims", file: "m.onnx", content: onnxModel(true, 1, 7), want: types.Shape{1, 7}},
		{name: "onnx dynamic batch", file: "m.onnx", content: onnxModel(true, "batch", 7), want: types.Shape{types.DynamicDim, 7}},
		{name: "onnx without shape uses sidecar", file: "m.onnx", content: onnxModel(true), sidecar: `{"output_shape":[1,3]}`, want: types.Shape{1, 3}},
		{name: "onnx without graph", file: "m.onnx", content: onnxModel(false), wantErr: ErrShapeUnavailable},
		{name: "onnx bad signature", file: "m.onnx", content: []byte("not a model"), wantErr: ErrInvalidSignature},
		{name: "torch zip extra file", file: "m.pt", content: torchZip(t, `{"output_shape":[1,7]}`), want: types.Shape{1, 7}},
		{name: "torch zip without extra uses sidecar", file: "m.pt", content: torchZip(t, ""), sidecar: `{"output_shape":[2,2]}`, want: types.Shape{2, 2}},
		{name: "torch zip without any shape", file: "m.pt", content: torchZip(t, ""), wantErr: ErrShapeUnavailable},
		{name: "torch legacy pickle", file: "m.pth", content: pickle, sidecar: `{"output_shape":[4]}`, want: types.Shape{4}},
		{name: "torch bad signature", file: "m.pt", content: []byte("GIF89a"), wantErr: ErrInvalidSignature},
		{name: "sklearn pickle", file: "clf.pkl", content: pickle, sidecar: `{"output_shape":[1,2]}`, want: types.Shape{1, 2}},
		{name: "sklearn missing stop opcode", file: "clf.pkl", content: pickle[:len(pickle)-1], wantErr: ErrInvalidSignature},
		{name: "sklearn not a pickle", file: "clf.pkl", content: []byte("{}"), wantErr: ErrInvalidSignature},
		{name: "empty file", file: "clf.pkl", content: nil, wantErr: ErrInvalidSignature},
		{name: "sidecar without shape", file: "clf.pkl", content: pickle, sidecar: `{}`, wantErr: ErrShapeUnavailable},
		{name: "unknown format", file: "model.h5", content: []byte{0x89, 'H', 'D', 'F'}, wantErr: ErrUnknownFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, filepath.Join(t.TempDir(), tt.file), tt.content)
			if tt.sidecar != "" {
				writeFile(t, path+DefaultSidecarSuffix, []byte(tt.sidecar))
			}
			i := NewStaticInspector()
			handle, err := i.Open(context.Background(), path)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			got, err := i.OutputShape(context.Background(), handle)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("OutputShape() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("OutputShape() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("OutputShape() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStaticInspector_TruncatedONNX(t *testing.T) {
	content := onnxModel(true, 1, 7)
	path := writeFile(t, filepath.Join(t.TempDir(), "m.onnx"), content[:len(content)/2])
	i := NewStaticInspector()
	handle, err := i.Open(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if shape, err := i.OutputShape(context.Background(), handle); err == nil {
		t.Errorf("OutputShape() = %v, expected error for truncated model", shape)
	}
}

type countingInspector struct {
	Inspector
	calls int
}

func (c *countingInspector) OutputShape(ctx context.Context, artifact types.ArtifactHandle) (types.Shape, error) {
	c.calls++
	return types.Shape{1, 7}, nil
}

func TestCachingInspector(t *testing.T) {
	inner := &countingInspector{Inspector: NewStaticInspector()}
	c, err := NewCachingInspector(inner, 2)
	if err != nil {
		t.Fatal(err)
	}
	handle := types.ArtifactHandle{Path: "m.onnx", Digest: digest.FromString("model")}
	for i := 0; i < 3; i++ {
		shape, err := c.OutputShape(context.Background(), handle)
		if err != nil {
			t.Fatal(err)
		}
		shape[0] = 99
	}
	if inner.calls != 1 {
		t.Errorf("inner inspector called %d times, want 1", inner.calls)
	}

	handle.Digest = digest.FromString("retrained")
	if _, err := c.OutputShape(context.Background(), handle); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Errorf("changed digest should miss the cache, calls = %d", inner.calls)
	}
	if got, _ := c.OutputShape(context.Background(), handle); !reflect.DeepEqual(got, types.Shape{1, 7}) {
		t.Errorf("cached shape was mutated by caller: %v", got)
	}
}

func TestCachingInspector_SidecarChange(t *testing.T) {
	pickle := []byte{0x80, 0x04, 0x95, 'K', 0x01, '.'}
	path := writeFile(t, filepath.Join(t.TempDir(), "clf.pkl"), pickle)
	writeFile(t, path+DefaultSidecarSuffix, []byte(`{"output_shape":[1,7]}`))

	c, err := NewCachingInspector(NewStaticInspector(), 4)
	if err != nil {
		t.Fatal(err)
	}
	handle, err := c.Open(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}

	shape, err := c.OutputShape(context.Background(), handle)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(shape, types.Shape{1, 7}) {
		t.Fatalf("OutputShape() = %v, want [1,7]", shape)
	}

	writeFile(t, path+DefaultSidecarSuffix, []byte(`{"output_shape":[1,9]}`))
	shape, err = c.OutputShape(context.Background(), handle)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(shape, types.Shape{1, 9}) {
		t.Errorf("OutputShape() after sidecar edit = %v, want [1,9]", shape)
	}
	if c.Len() != 2 {
		t.Errorf("cache entries = %d, want 2", c.Len())
	}
}
