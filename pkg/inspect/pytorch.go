package inspect

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/mholt/archiver/v4"
	"kubegems.io/airlock/pkg/types"
)

// ExtraShapeFile is the torch.jit extra file that records the output shape.
const ExtraShapeFile = "extra/output_shape.json"

var errFound = errors.New("found")

// zipOutputShape scans a torch zip archive for the extra shape file.
// It returns a nil shape when the archive does not carry one.
func zipOutputShape(ctx context.Context, archive io.Reader) (types.Shape, error) {
	var shape types.Shape
	err := archiver.Zip{}.Extract(ctx, archive, nil, func(ctx context.Context, f archiver.File) error {
		if f.IsDir() || !isExtraShapeFile(f.NameInArchive) {
			return nil
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		content, err := io.ReadAll(io.LimitReader(rc, 1<<20))
		if err != nil {
			return err
		}
		parsed, err := parseShapeFile(f.NameInArchive, content)
		if err != nil {
			return err
		}
		shape = parsed
		return errFound
	})
	if err != nil && !errors.Is(err, errFound) {
		return nil, err
	}
	return shape, nil
}

func isExtraShapeFile(name string) bool {
	name = strings.TrimPrefix(name, "/")
	return name == ExtraShapeFile || strings.HasSuffix(name, "/"+ExtraShapeFile)
}
