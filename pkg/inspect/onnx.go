package inspect

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
	"kubegems.io/airlock/pkg/types"
)

// Field numbers from onnx.proto.
const (
	onnxModelGraph    protowire.Number = 7
	onnxGraphOutput   protowire.Number = 12
	onnxValueInfoType protowire.Number = 2
	onnxTypeTensor    protowire.Number = 1
	onnxTensorShape   protowire.Number = 2
	onnxShapeDim      protowire.Number = 1
	onnxDimValue      protowire.Number = 1
	onnxDimParam      protowire.Number = 2
)

const maxValueInfoSize = 1 << 20

var errMalformedProto = errors.New("malformed onnx protobuf")

// onnxOutputShape streams the ModelProto so that initializer payloads are skipped
// rather than loaded. It returns a nil shape when the first graph output has no
// tensor shape.
func onnxOutputShape(r *bufio.Reader) (types.Shape, error) {
	model := &protoScanner{r: r, left: -1}
	for {
		num, typ, err := model.tag()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("model has no graph: %w", ErrShapeUnavailable)
		}
		if err != nil {
			return nil, err
		}
		if num != onnxModelGraph || typ != protowire.BytesType {
			if err := model.skip(typ); err != nil {
				return nil, err
			}
			continue
		}
		size, err := model.length()
		if err != nil {
			return nil, err
		}
		return graphOutputShape(&protoScanner{r: r, left: size})
	}
}

func graphOutputShape(graph *protoScanner) (types.Shape, error) {
	for {
		num, typ, err := graph.tag()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("graph declares no outputs: %w", ErrShapeUnavailable)
		}
		if err != nil {
			return nil, err
		}
		if num != onnxGraphOutput || typ != protowire.BytesType {
			if err := graph.skip(typ); err != nil {
				return nil, err
			}
			continue
		}
		size, err := graph.length()
		if err != nil {
			return nil, err
		}
		if size > maxValueInfoSize {
			return nil, fmt.Errorf("graph output of %d bytes: %w", size, errMalformedProto)
		}
		valueInfo := make([]byte, size)
		if err := graph.read(valueInfo); err != nil {
			return nil, err
		}
		return valueInfoShape(valueInfo)
	}
}

// valueInfoShape walks ValueInfoProto.type.tensor_type.shape.dim.
func valueInfoShape(b []byte) (types.Shape, error) {
	typeProto, ok, err := findMessage(b, onnxValueInfoType)
	if err != nil || !ok {
		return nil, err
	}
	tensor, ok, err := findMessage(typeProto, onnxTypeTensor)
	if err != nil || !ok {
		return nil, err
	}
	shapeProto, ok, err := findMessage(tensor, onnxTensorShape)
	if err != nil || !ok {
		return nil, err
	}

	shape := types.Shape{}
	for len(shapeProto) > 0 {
		num, typ, n := protowire.ConsumeTag(shapeProto)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		shapeProto = shapeProto[n:]
		if num == onnxShapeDim && typ == protowire.BytesType {
			dim, n := protowire.ConsumeBytes(shapeProto)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			shapeProto = shapeProto[n:]
			value, err := dimension(dim)
			if err != nil {
				return nil, err
			}
			shape = append(shape, value)
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, shapeProto)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		shapeProto = shapeProto[n:]
	}
	return shape, nil
}

// dimension returns dim_value, or DynamicDim for a dim_param or an unset value.
func dimension(b []byte) (int64, error) {
	value := types.DynamicDim
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == onnxDimValue && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			b = b[n:]
			if int64(v) > 0 {
				value = int64(v)
			} else {
				value = types.DynamicDim
			}
		case num == onnxDimParam:
			value = types.DynamicDim
			fallthrough
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return value, nil
}

func findMessage(b []byte, want protowire.Number) ([]byte, bool, error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, false, protowire.ParseError(n)
		}
		b = b[n:]
		if num == want && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, false, protowire.ParseError(n)
			}
			return v, true, nil
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return nil, false, protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil, false, nil
}

// protoScanner reads protobuf fields from a stream, bounded to one message.
type protoScanner struct {
	r    *bufio.Reader
	left int64 // bytes remaining in the message, negative means until EOF
}

func (s *protoScanner) ReadByte() (byte, error) {
	if s.left == 0 {
		return 0, io.EOF
	}
	b, err := s.r.ReadByte()
	if err != nil {
		return 0, err
	}
	if s.left > 0 {
		s.left--
	}
	return b, nil
}

func (s *protoScanner) tag() (protowire.Number, protowire.Type, error) {
	v, err := binary.ReadUvarint(s)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, 0, io.EOF
		}
		return 0, 0, fmt.Errorf("read tag: %v: %w", err, errMalformedProto)
	}
	num, typ := protowire.DecodeTag(v)
	if !num.IsValid() {
		return 0, 0, fmt.Errorf("field number %d: %w", num, errMalformedProto)
	}
	return num, typ, nil
}

func (s *protoScanner) length() (int64, error) {
	v, err := binary.ReadUvarint(s)
	if err != nil {
		return 0, fmt.Errorf("read length: %v: %w", err, errMalformedProto)
	}
	if s.left >= 0 && v > uint64(s.left) {
		return 0, fmt.Errorf("length %d exceeds enclosing message: %w", v, errMalformedProto)
	}
	if v > 1<<62 {
		return 0, fmt.Errorf("length %d: %w", v, errMalformedProto)
	}
	return int64(v), nil
}

func (s *protoScanner) discard(n int64) error {
	if s.left >= 0 && n > s.left {
		return fmt.Errorf("field overruns message: %w", errMalformedProto)
	}
	for n > 0 {
		chunk := n
		if chunk > 1<<30 {
			chunk = 1 << 30
		}
		discarded, err := s.r.Discard(int(chunk))
		if s.left > 0 {
			s.left -= int64(discarded)
		}
		if err != nil {
			return fmt.Errorf("skip field: %v: %w", err, errMalformedProto)
		}
		n -= int64(discarded)
	}
	return nil
}

func (s *protoScanner) read(p []byte) error {
	if s.left >= 0 && int64(len(p)) > s.left {
		return fmt.Errorf("field overruns message: %w", errMalformedProto)
	}
	if _, err := io.ReadFull(s.r, p); err != nil {
		return fmt.Errorf("read field: %v: %w", err, errMalformedProto)
	}
	if s.left > 0 {
		s.left -= int64(len(p))
	}
	return nil
}

func (s *protoScanner) skip(typ protowire.Type) error {
	switch typ {
	case protowire.VarintType:
		if _, err := binary.ReadUvarint(s); err != nil {
			return fmt.Errorf("skip varint: %v: %w", err, errMalformedProto)
		}
		return nil
	case protowire.Fixed32Type:
		return s.discard(4)
	case protowire.Fixed64Type:
		return s.discard(8)
	case protowire.BytesType:
		n, err := s.length()
		if err != nil {
			return err
		}
		return s.discard(n)
	default:
		return fmt.Errorf("unsupported wire type %d: %w", typ, errMalformedProto)
	}
}
