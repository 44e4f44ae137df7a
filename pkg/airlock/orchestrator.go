package airlock

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/utils/clock"
	"kubegems.io/airlock/pkg/errors"
	"kubegems.io/airlock/pkg/inspect"
	"kubegems.io/airlock/pkg/ledger"
	"kubegems.io/airlock/pkg/sanity"
	"kubegems.io/airlock/pkg/schema"
	"kubegems.io/airlock/pkg/storage"
	"kubegems.io/airlock/pkg/types"
	"kubegems.io/airlock/pkg/versioning"
)

// InlineConfigFileName is the object name used for a configuration passed inline.
const InlineConfigFileName = "config.json"

var (
	ErrNoLedger = stderrors.New("no version ledger configured")
	ErrNoSink   = stderrors.New("no storage sink configured")
)

type State string

const (
	StateInit          State = "Init"
	StateSchemaChecked State = "SchemaChecked"
	StateSanityChecked State = "SanityChecked"
	StateVersioned     State = "Versioned"
	StateUploaded      State = "Uploaded"
	StateRejected      State = "Rejected"
)

type DeployRequest struct {
	ArtifactPath string `json:"artifactPath" yaml:"artifact"`
	// ConfigPath names a YAML or JSON model configuration. Config is used when it is empty.
	ConfigPath string `json:"configPath,omitempty" yaml:"config"`
	Config     any    `json:"config,omitempty" yaml:"-"`
	Bucket     string `json:"bucket" yaml:"bucket"`
	DryRun     bool   `json:"dryRun,omitempty" yaml:"dryRun"`
}

// Orchestrator runs the promotion pipeline: schema, sanity, version, storage.
// It holds no per-invocation state and may serve parallel invocations.
type Orchestrator struct {
	validator    *schema.Validator
	inspector    inspect.Inspector
	checker      *sanity.Checker
	ledger       ledger.Ledger
	sink         storage.Sink
	retry        RetryPolicy
	uploadConfig bool
	locks        nameLocks
	clock        clock.PassiveClock
	dryRunLedger bool
}

// NewOrchestrator wires the pipeline. versions may be nil, which allows offline
// dry runs only; sink may be nil when every request is a dry run.
func NewOrchestrator(validator *schema.Validator, inspector inspect.Inspector, versions ledger.Ledger, sink storage.Sink, options *Options) *Orchestrator {
	return &Orchestrator{
		validator:    validator,
		inspector:    inspector,
		checker:      sanity.NewChecker(inspector, options.Sanity),
		ledger:       versions,
		sink:         sink,
		retry:        options.Retry.normalized(),
		uploadConfig: options.UploadConfig,
		clock:        clock.RealClock{},
		dryRunLedger: options.DryRunReadsLedger,
	}
}

// WithClock sets the clock that stamps ledger entries.
func (o *Orchestrator) WithClock(c clock.PassiveClock) *Orchestrator {
	o.clock = c
	return o
}

// ObjectKey is the remote key of a file promoted under version.
func ObjectKey(name string, version types.VersionTag, file string) string {
	return storage.ObjectKey(name, version.String(), filepath.Base(file))
}

// Deploy runs one invocation to a terminal state. It never returns an error;
// every failure is reported through the result's Stage and Detail.
func (o *Orchestrator) Deploy(ctx context.Context, req DeployRequest) types.UploadResult {
	id := uuid.NewString()
	log := logr.FromContextOrDiscard(ctx).WithValues("invocation", id, "bucket", req.Bucket, "artifact", req.ArtifactPath)
	ctx = logr.NewContext(ctx, log)
	inv := &invocation{
		log:    log,
		state:  StateInit,
		result: types.UploadResult{InvocationID: id, Bucket: req.Bucket},
	}

	// schema
	if err := ctx.Err(); err != nil {
		return inv.reject(types.StageSchema, err)
	}
	md, err := o.metadata(req)
	if err != nil {
		return inv.reject(types.StageSchema, err)
	}
	inv.result.Name = md.Name
	inv.log = inv.log.WithValues("name", md.Name)
	inv.enter(StateSchemaChecked)

	// sanity
	if err := ctx.Err(); err != nil {
		return inv.reject(types.StageSanity, err)
	}
	artifact, err := o.inspector.Open(ctx, req.ArtifactPath)
	if err != nil {
		return inv.reject(types.StageSanity, &errors.SanityError{Problems: []string{err.Error()}})
	}
	inv.result.Digest = artifact.Digest.String()
	report := o.checker.Check(ctx, md, artifact)
	if !report.Passed {
		return inv.reject(types.StageSanity, &errors.SanityError{Problems: []string{report.Detail()}})
	}
	inv.enter(StateSanityChecked)

	// version
	if !req.DryRun {
		// the same name is never versioned twice at once within this process
		unlock := o.locks.Lock(req.Bucket + "/" + md.Name)
		defer unlock()
	}
	if err := ctx.Err(); err != nil {
		return inv.reject(types.StageVersion, err)
	}
	version, err := o.resolve(ctx, req, md.Name)
	if err != nil {
		return inv.reject(types.StageVersion, err)
	}
	artifactKey := ObjectKey(md.Name, version, req.ArtifactPath)
	inv.result.Version = &version
	inv.result.ObjectKey = artifactKey
	inv.log = inv.log.WithValues("version", version.String())
	inv.enter(StateVersioned)

	if req.DryRun {
		inv.result.Success = true
		inv.result.Simulated = true
		inv.enter(StateUploaded)
		inv.log.Info("dry run passed", "key", artifactKey)
		return inv.result
	}

	// storage
	if err := ctx.Err(); err != nil {
		return inv.reject(types.StageStorage, err)
	}
	if o.sink == nil {
		return inv.reject(types.StageStorage, errors.NewPermanentStorageError("put", req.Bucket, artifactKey, ErrNoSink))
	}
	objects, err := o.objects(req, md, artifact, version, id)
	if err != nil {
		return inv.reject(types.StageStorage, errors.NewPermanentStorageError("open", req.Bucket, artifactKey, err))
	}
	// from here on the caller can no longer abandon the invocation halfway
	storeCtx := context.WithoutCancel(ctx)
	attempts, err := o.store(storeCtx, objects)
	inv.result.Attempts = attempts
	if err != nil {
		return inv.reject(types.StageStorage, err)
	}
	entry := ledger.Entry{
		Version:   version.String(),
		Digest:    artifact.Digest,
		Size:      artifact.Size,
		ObjectKey: artifactKey,
		Metadata:  annotations(md, id),
		CreatedAt: o.clock.Now(),
	}
	if _, err := o.register(storeCtx, req.Bucket, md.Name, entry); err != nil {
		return inv.reject(types.StageStorage, err)
	}
	inv.result.Success = true
	inv.enter(StateUploaded)
	inv.log.Info("model promoted", "key", artifactKey, "attempts", attempts)
	return inv.result
}

// metadata loads and validates the configuration together with the request's bucket,
// reporting every violation at once.
func (o *Orchestrator) metadata(req DeployRequest) (types.ModelMetadata, error) {
	var violations []errors.FieldViolation
	if req.Bucket == "" {
		violations = append(violations, errors.FieldViolation{Field: "bucket", Expected: "bucket name", Message: "is required"})
	} else if msgs := validation.IsDNS1123Subdomain(req.Bucket); len(msgs) > 0 {
		violations = append(violations, errors.FieldViolation{Field: "bucket", Expected: "bucket name", Message: strings.Join(msgs, ", ")})
	}

	raw := req.Config
	if req.ConfigPath != "" {
		loaded, err := schema.LoadConfig(req.ConfigPath)
		if err != nil {
			return types.ModelMetadata{}, mergeViolations(err, violations)
		}
		raw = loaded
	} else if raw == nil {
		return types.ModelMetadata{}, mergeViolations(
			errors.NewSchemaError(errors.FieldViolation{Field: schema.RootField, Expected: "object", Message: "no model configuration supplied"}),
			violations)
	}

	md, err := o.validator.Validate(raw)
	if err != nil {
		return types.ModelMetadata{}, mergeViolations(err, violations)
	}
	if len(violations) > 0 {
		return types.ModelMetadata{}, errors.NewSchemaError(violations...)
	}
	return md, nil
}

func mergeViolations(err error, violations []errors.FieldViolation) error {
	var se *errors.SchemaError
	if !stderrors.As(err, &se) {
		return err
	}
	if len(violations) == 0 {
		return se
	}
	return errors.NewSchemaError(append(append([]errors.FieldViolation{}, violations...), se.Violations...)...)
}

// resolve computes the next version once. Dry runs resolve against an empty
// history unless dryRunLedger is set; real runs require a ledger.
func (o *Orchestrator) resolve(ctx context.Context, req DeployRequest, name string) (types.VersionTag, error) {
	var raw []string
	switch {
	case req.DryRun && (!o.dryRunLedger || o.ledger == nil):
	case o.ledger == nil:
		return types.VersionTag{}, &errors.VersionError{Name: name, Err: ErrNoLedger}
	default:
		versions, err := o.ledger.Versions(ctx, req.Bucket, name)
		if err != nil {
			return types.VersionTag{}, &errors.VersionError{Name: name, Err: err}
		}
		raw = versions
	}
	tags, err := versioning.ParseLedger(name, raw)
	if err != nil {
		return types.VersionTag{}, err
	}
	return versioning.Resolve(name, tags)
}

func (o *Orchestrator) objects(req DeployRequest, md types.ModelMetadata, artifact types.ArtifactHandle, version types.VersionTag, id string) ([]storage.Object, error) {
	meta := map[string]string{
		"name":          md.Name,
		"version":       version.String(),
		"framework":     string(md.Framework),
		"digest":        artifact.Digest.String(),
		"invocation-id": id,
	}
	model, err := storage.FileObject(req.Bucket, ObjectKey(md.Name, version, req.ArtifactPath), req.ArtifactPath, types.DefaultArtifactContentType)
	if err != nil {
		return nil, err
	}
	model.Metadata = meta
	objects := []storage.Object{model}
	if !o.uploadConfig {
		return objects, nil
	}

	var config storage.Object
	if req.ConfigPath != "" {
		contentType := types.MediaTypeModelConfigYaml
		if strings.EqualFold(filepath.Ext(req.ConfigPath), ".json") {
			contentType = types.MediaTypeModelConfigJson
		}
		config, err = storage.FileObject(req.Bucket, ObjectKey(md.Name, version, req.ConfigPath), req.ConfigPath, contentType)
		if err != nil {
			return nil, err
		}
	} else {
		content, err := json.Marshal(md)
		if err != nil {
			return nil, err
		}
		config = storage.BytesObject(req.Bucket, ObjectKey(md.Name, version, InlineConfigFileName), content, types.MediaTypeModelConfigJson)
	}
	config.Metadata = meta
	return append(objects, config), nil
}

func annotations(md types.ModelMetadata, id string) map[string]string {
	annotations := map[string]string{
		types.AnnotationFramework:     string(md.Framework),
		types.AnnotationExpectedShape: md.ExpectedOutputShape.String(),
		types.AnnotationInvocationID:  id,
	}
	if md.Description != "" {
		annotations[types.AnnotationDescription] = md.Description
	}
	if md.ExperimentID != "" {
		annotations[types.AnnotationExperimentID] = md.ExperimentID
	}
	if md.AuthorEmail != "" {
		annotations[types.AnnotationAuthorEmail] = md.AuthorEmail
	}
	return annotations
}

type invocation struct {
	log    logr.Logger
	state  State
	result types.UploadResult
}

func (inv *invocation) enter(state State) {
	inv.log.V(1).Info("state transition", "from", inv.state, "to", state)
	inv.state = state
}

func (inv *invocation) reject(stage types.Stage, err error) types.UploadResult {
	inv.result.Success = false
	inv.result.Stage = stage
	inv.result.Detail = err.Error()
	var se *errors.SchemaError
	if stderrors.As(err, &se) {
		for _, v := range se.Violations {
			inv.result.Violations = append(inv.result.Violations, v.String())
		}
	}
	if stage == types.StageStorage {
		inv.result.Transient = errors.IsTransient(err)
	}
	inv.log.Info("rejected", "stage", stage, "error", err.Error())
	inv.enter(StateRejected)
	return inv.result
}
