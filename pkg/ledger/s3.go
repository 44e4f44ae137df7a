package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-logr/logr"
	"golang.org/x/exp/slices"
	"kubegems.io/airlock/pkg/storage"
	"kubegems.io/airlock/pkg/types"
)

type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var _ Ledger = &S3Ledger{}

// S3Ledger stores a per-model index.json next to the model's versions in the bucket.
type S3Ledger struct {
	Client S3API
	Prefix string
	mu     sync.Mutex
}

func NewS3Ledger(client S3API, prefix string) *S3Ledger {
	return &S3Ledger{Client: client, Prefix: prefix}
}

func IndexPath(name string) string {
	return path.Join(name, types.LedgerIndexFileName)
}

// GetIndex returns the index for name, or an empty index when none has been written.
func (l *S3Ledger) GetIndex(ctx context.Context, bucket, name string) (types.Index, error) {
	out, err := l.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    l.prefixedKey(IndexPath(name)),
	})
	if err != nil {
		if storage.IsNotFound(err) {
			return types.Index{SchemaVersion: 1, MediaType: types.MediaTypeModelIndexJson}, nil
		}
		return types.Index{}, storage.Classify("get", bucket, IndexPath(name), err)
	}
	defer out.Body.Close()

	var index types.Index
	if err := json.NewDecoder(out.Body).Decode(&index); err != nil {
		return types.Index{}, fmt.Errorf("decode %s: %w", IndexPath(name), err)
	}
	return index, nil
}

func (l *S3Ledger) PutIndex(ctx context.Context, bucket, name string, index types.Index) error {
	slices.SortStableFunc(index.Manifests, func(a, b types.Descriptor) int {
		va, erra := types.ParseVersionTag(a.Name)
		vb, errb := types.ParseVersionTag(b.Name)
		if erra != nil || errb != nil {
			return types.SortDescriptorName(a, b)
		}
		return va.Compare(vb)
	})
	// use latest manifest annotations as index annotations
	if n := len(index.Manifests); n > 0 && index.Manifests[n-1].Annotations != nil {
		index.Annotations = index.Manifests[n-1].Annotations
	}
	content, err := json.Marshal(index)
	if err != nil {
		return err
	}
	_, err = l.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           l.prefixedKey(IndexPath(name)),
		Body:          bytes.NewReader(content),
		ContentLength: int64(len(content)),
		ContentType:   aws.String(types.MediaTypeModelIndexJson),
	})
	return storage.Classify("put", bucket, IndexPath(name), err)
}

func (l *S3Ledger) Versions(ctx context.Context, bucket, name string) ([]string, error) {
	index, err := l.GetIndex(ctx, bucket, name)
	if err != nil {
		return nil, err
	}
	versions := make([]string, 0, len(index.Manifests))
	for _, desc := range index.Manifests {
		versions = append(versions, desc.Name)
	}
	return versions, nil
}

// Register is a read-modify-write of the index object. Concurrent registrations
// for one name are serialized within a process only.
func (l *S3Ledger) Register(ctx context.Context, bucket, name string, entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	index, err := l.GetIndex(ctx, bucket, name)
	if err != nil {
		return err
	}
	if slices.ContainsFunc(index.Manifests, func(d types.Descriptor) bool { return d.Name == entry.Version }) {
		return ErrVersionExists
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	annotations := map[string]string{}
	for k, v := range entry.Metadata {
		annotations[k] = v
	}
	if entry.ObjectKey != "" {
		annotations[types.AnnotationObjectKey] = entry.ObjectKey
	}
	index.Manifests = append(index.Manifests, types.Descriptor{
		Name:        entry.Version,
		MediaType:   types.MediaTypeModelArtifact,
		Digest:      entry.Digest,
		Size:        entry.Size,
		Modified:    created,
		Annotations: annotations,
	})
	if err := l.PutIndex(ctx, bucket, name, index); err != nil {
		return err
	}
	logr.FromContextOrDiscard(ctx).V(1).Info("registered version in index", "bucket", bucket, "name", name, "version", entry.Version)
	return nil
}

func (l *S3Ledger) prefixedKey(key string) *string {
	return aws.String(path.Join(l.Prefix, key))
}
