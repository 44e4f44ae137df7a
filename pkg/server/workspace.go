package server

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/exp/slices"
	"kubegems.io/airlock/pkg/airlock"
	"kubegems.io/airlock/pkg/errors"
)

// Workspace limits what a client of the gate can reach on the server: the
// files it may name and the buckets it may write to. The gate has no
// authentication of its own; it trusts whoever can reach the listener.
type Workspace struct {
	// Root is the directory request paths are resolved against. Empty disables the check.
	Root string
	// Buckets lists the buckets requests may name. Empty allows any.
	Buckets []string
}

// Resolve returns req with its paths made absolute under Root, or a
// ParameterInvalid error when a path escapes Root or the bucket is not allowed.
func (ws Workspace) Resolve(req airlock.DeployRequest) (airlock.DeployRequest, error) {
	if err := ws.CheckBucket(req.Bucket); err != nil {
		return req, err
	}
	artifact, err := ws.path(req.ArtifactPath)
	if err != nil {
		return req, err
	}
	config, err := ws.path(req.ConfigPath)
	if err != nil {
		return req, err
	}
	req.ArtifactPath, req.ConfigPath = artifact, config
	return req, nil
}

func (ws Workspace) CheckBucket(bucket string) error {
	if len(ws.Buckets) == 0 || slices.Contains(ws.Buckets, bucket) {
		return nil
	}
	return errors.NewParameterInvalidError(fmt.Sprintf("bucket %q is not served here", bucket))
}

func (ws Workspace) path(p string) (string, error) {
	if p == "" || ws.Root == "" {
		return p, nil
	}
	root, err := filepath.Abs(ws.Root)
	if err != nil {
		return "", errors.NewInternalError(err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, full)
	}
	full = filepath.Clean(full)
	// a symlink inside the root must not lead out of it
	if resolved, err := filepath.EvalSymlinks(full); err == nil {
		full = resolved
	}
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.NewParameterInvalidError(fmt.Sprintf("path %q is outside the workspace", p))
	}
	return full, nil
}
