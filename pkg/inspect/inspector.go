package inspect

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/opencontainers/go-digest"
	"kubegems.io/airlock/pkg/types"
)

var (
	ErrInvalidSignature = errors.New("invalid file signature")
	ErrUnknownFormat    = errors.New("unrecognized artifact format")
	ErrShapeUnavailable = errors.New("output shape cannot be derived")
)

const (
	zipMagic       = "PK\x03\x04"
	pickleProto    = 0x80
	pickleStop     = '.'
	onnxFirstByte  = 0x08
	signatureBytes = 4
)

// Inspector derives artifact facts by reading file structure only; models are never executed.
type Inspector interface {
	Open(ctx context.Context, path string) (types.ArtifactHandle, error)
	OutputShape(ctx context.Context, artifact types.ArtifactHandle) (types.Shape, error)
}

var extensions = map[string]types.Framework{
	".pt":     types.FrameworkPyTorch,
	".pth":    types.FrameworkPyTorch,
	".onnx":   types.FrameworkONNX,
	".pkl":    types.FrameworkSklearn,
	".pickle": types.FrameworkSklearn,
	".joblib": types.FrameworkSklearn,
}

// FrameworkFromPath infers the framework from the file extension.
func FrameworkFromPath(path string) (types.Framework, bool) {
	fw, ok := extensions[strings.ToLower(filepath.Ext(path))]
	return fw, ok
}

type StaticInspector struct {
	// SidecarSuffix is appended to the artifact path to locate a declared shape file.
	SidecarSuffix string
}

func NewStaticInspector() *StaticInspector {
	return &StaticInspector{SidecarSuffix: DefaultSidecarSuffix}
}

func (i *StaticInspector) Open(ctx context.Context, path string) (types.ArtifactHandle, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return types.ArtifactHandle{}, fmt.Errorf("artifact %s: %w", path, err)
	}
	if !fi.Mode().IsRegular() {
		return types.ArtifactHandle{}, fmt.Errorf("artifact %s: not a regular file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return types.ArtifactHandle{}, fmt.Errorf("artifact %s: %w", path, err)
	}
	defer f.Close()

	dgst, err := digest.Canonical.FromReader(f)
	if err != nil {
		return types.ArtifactHandle{}, fmt.Errorf("digest %s: %w", path, err)
	}
	fw, _ := FrameworkFromPath(path)
	handle := types.ArtifactHandle{
		Path:      path,
		Size:      fi.Size(),
		Framework: fw,
		Digest:    dgst,
		Modified:  fi.ModTime(),
	}
	logr.FromContextOrDiscard(ctx).V(1).Info("opened artifact", "path", path, "size", handle.Size, "framework", fw, "digest", dgst)
	return handle, nil
}

func (i *StaticInspector) OutputShape(ctx context.Context, artifact types.ArtifactHandle) (types.Shape, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("path", artifact.Path, "framework", artifact.Framework)

	f, err := os.Open(artifact.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, signatureBytes)
	n, readErr := io.ReadFull(f, head)
	if readErr != nil && !errors.Is(readErr, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%s: %w", artifact.Path, ErrInvalidSignature)
	}
	head = head[:n]
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var shape types.Shape
	switch artifact.Framework {
	case types.FrameworkPyTorch:
		switch {
		case strings.HasPrefix(string(head), zipMagic):
			shape, err = zipOutputShape(ctx, f)
		case len(head) > 0 && head[0] == pickleProto:
			// legacy pickle serialization carries no shape
		default:
			return nil, fmt.Errorf("%s: pytorch archive must be a zip or pickle: %w", artifact.Path, ErrInvalidSignature)
		}
	case types.FrameworkONNX:
		if len(head) == 0 || head[0] != onnxFirstByte {
			return nil, fmt.Errorf("%s: onnx model must start with ir_version: %w", artifact.Path, ErrInvalidSignature)
		}
		shape, err = onnxOutputShape(bufio.NewReader(f))
	case types.FrameworkSklearn:
		if err := checkPickle(f, head, artifact.Size); err != nil {
			return nil, fmt.Errorf("%s: %w", artifact.Path, err)
		}
	default:
		return nil, fmt.Errorf("%s: %w", artifact.Path, ErrUnknownFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", artifact.Path, err)
	}
	if shape != nil {
		log.V(1).Info("derived output shape from artifact", "shape", shape.String())
		return shape, nil
	}

	sidecar := artifact.Path + i.sidecarSuffix()
	shape, err = readSidecar(sidecar)
	if err != nil {
		return nil, err
	}
	log.V(1).Info("derived output shape from sidecar", "sidecar", sidecar, "shape", shape.String())
	return shape, nil
}

func (i *StaticInspector) sidecarSuffix() string {
	if i.SidecarSuffix == "" {
		return DefaultSidecarSuffix
	}
	return i.SidecarSuffix
}

// checkPickle requires the PROTO opcode first and the STOP opcode last.
func checkPickle(f *os.File, head []byte, size int64) error {
	if len(head) == 0 || head[0] != pickleProto {
		return fmt.Errorf("pickle must start with PROTO opcode: %w", ErrInvalidSignature)
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return fmt.Errorf("read pickle trailer: %w", err)
	}
	if last[0] != pickleStop {
		return fmt.Errorf("pickle must end with STOP opcode: %w", ErrInvalidSignature)
	}
	return nil
}
