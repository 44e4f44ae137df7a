package storage

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"kubegems.io/airlock/pkg/errors"
)

const (
	DefaultFileMode = 0o644
	DefaultDirMode  = 0o755
)

type LocalOptions struct {
	Basepath string `json:"basepath" mapstructure:"basepath"`
}

func NewDefaultLocalOptions() *LocalOptions {
	return &LocalOptions{
		Basepath: "data/airlock",
	}
}

var _ Sink = &LocalSink{}

// LocalSink writes objects under <basepath>/<bucket>/<key>, with a .meta file next to each.
type LocalSink struct {
	basepath string
}

func NewLocalSink(options *LocalOptions) (*LocalSink, error) {
	if err := os.MkdirAll(options.Basepath, DefaultDirMode); err != nil {
		return nil, err
	}
	return &LocalSink{basepath: options.Basepath}, nil
}

type localFileMeta struct {
	ContentType   string            `json:"contentType,omitempty"`
	ContentLength int64             `json:"contentLength,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (f *LocalSink) Put(ctx context.Context, obj Object) error {
	if err := ctx.Err(); err != nil {
		return Classify("put", obj.Bucket, obj.Key, err)
	}
	body, err := obj.Open()
	if err != nil {
		return errors.NewPermanentStorageError("open", obj.Bucket, obj.Key, err)
	}
	defer body.Close()

	datafile := f.path(obj.Bucket, obj.Key)
	if err := os.MkdirAll(filepath.Dir(datafile), DefaultDirMode); err != nil {
		return errors.NewPermanentStorageError("put", obj.Bucket, obj.Key, err)
	}
	n, err := f.writedata(datafile, body)
	if err != nil {
		return errors.NewPermanentStorageError("put", obj.Bucket, obj.Key, err)
	}
	if err := f.writemeta(datafile, obj, n); err != nil {
		return errors.NewPermanentStorageError("put", obj.Bucket, obj.Key, err)
	}
	logr.FromContextOrDiscard(ctx).V(1).Info("stored object", "path", datafile, "size", n)
	return nil
}

// Get returns the stored content of an object and its recorded metadata.
func (f *LocalSink) Get(ctx context.Context, bucket, key string) (io.ReadCloser, map[string]string, error) {
	datafile := f.path(bucket, key)
	meta, err := f.readmeta(datafile)
	if err != nil {
		return nil, nil, err
	}
	stream, err := os.Open(datafile)
	if err != nil {
		return nil, nil, err
	}
	return stream, meta.Metadata, nil
}

func (f *LocalSink) path(bucket, key string) string {
	return filepath.Join(f.basepath, bucket, filepath.FromSlash(key))
}

// writedata goes through a temporary file so a failed write never leaves a partial object.
func (f *LocalSink) writedata(datafile string, content io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(datafile), "."+filepath.Base(datafile)+".*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, content)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Chmod(tmp.Name(), DefaultFileMode); err != nil {
		return 0, err
	}
	return n, os.Rename(tmp.Name(), datafile)
}

func (f *LocalSink) writemeta(datafile string, obj Object, size int64) error {
	meta := localFileMeta{
		ContentType:   obj.ContentType,
		ContentLength: size,
		Metadata:      obj.Metadata,
	}
	jsonData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(datafile+".meta", jsonData, DefaultFileMode)
}

func (f *LocalSink) readmeta(datafile string) (*localFileMeta, error) {
	raw, err := os.ReadFile(datafile + ".meta")
	if err != nil {
		return nil, err
	}
	var meta localFileMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
