package inspect

import (
	"context"
	"os"

	"github.com/go-logr/logr"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/opencontainers/go-digest"
	"kubegems.io/airlock/pkg/types"
)

const DefaultCacheSize = 256

// CachingInspector memoizes derived shapes by artifact path, content digest
// and the digest of the shape sidecar next to the artifact, if any.
type CachingInspector struct {
	Inspector
	// SidecarSuffix locates the sidecar whose content is part of the cache key.
	SidecarSuffix string

	shapes *lru.Cache[string, types.Shape]
}

func NewCachingInspector(inner Inspector, size int) (*CachingInspector, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, types.Shape](size)
	if err != nil {
		return nil, err
	}
	suffix := DefaultSidecarSuffix
	if static, ok := inner.(*StaticInspector); ok {
		suffix = static.sidecarSuffix()
	}
	return &CachingInspector{Inspector: inner, SidecarSuffix: suffix, shapes: cache}, nil
}

func (c *CachingInspector) OutputShape(ctx context.Context, artifact types.ArtifactHandle) (types.Shape, error) {
	key := c.cacheKey(artifact)
	if shape, ok := c.shapes.Get(key); ok {
		logr.FromContextOrDiscard(ctx).V(1).Info("output shape cache hit", "path", artifact.Path, "digest", artifact.Digest)
		return shape.Clone(), nil
	}
	shape, err := c.Inspector.OutputShape(ctx, artifact)
	if err != nil {
		return nil, err
	}
	c.shapes.Add(key, shape.Clone())
	return shape, nil
}

func (c *CachingInspector) cacheKey(artifact types.ArtifactHandle) string {
	key := artifact.Path + "@" + artifact.Digest.String()
	if c.SidecarSuffix == "" {
		return key
	}
	content, err := os.ReadFile(artifact.Path + c.SidecarSuffix)
	if err != nil {
		return key
	}
	return key + "+" + digest.FromBytes(content).String()
}

func (c *CachingInspector) Len() int {
	return c.shapes.Len()
}
