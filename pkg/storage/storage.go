package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
)

// Object is one upload. Open is called once per attempt so a retried upload
// always starts from the first byte.
type Object struct {
	Bucket      string
	Key         string
	ContentType string
	Size        int64
	Metadata    map[string]string
	Open        func() (io.ReadCloser, error)
}

// Sink persists objects. Failures are *errors.StorageError values that tell
// transient failures from permanent ones.
type Sink interface {
	Put(ctx context.Context, obj Object) error
}

func FileObject(bucket, key, filename, contentType string) (Object, error) {
	fi, err := os.Stat(filename)
	if err != nil {
		return Object{}, err
	}
	return Object{
		Bucket:      bucket,
		Key:         key,
		ContentType: contentType,
		Size:        fi.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(filename)
		},
	}, nil
}

func BytesObject(bucket, key string, content []byte, contentType string) Object {
	return Object{
		Bucket:      bucket,
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(content)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(content)), nil
		},
	}
}

// ObjectKey joins key parts with "/" regardless of the host OS.
func ObjectKey(parts ...string) string {
	return path.Join(parts...)
}
