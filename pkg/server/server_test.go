package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"kubegems.io/airlock/pkg/airlock"
	"kubegems.io/airlock/pkg/errors"
	"kubegems.io/airlock/pkg/inspect"
	"kubegems.io/airlock/pkg/ledger"
	"kubegems.io/airlock/pkg/schema"
	"kubegems.io/airlock/pkg/storage"
	"kubegems.io/airlock/pkg/types"
)

type MockDeployer struct {
	mock.Mock
}

func (m *MockDeployer) Deploy(ctx context.Context, req airlock.DeployRequest) types.UploadResult {
	return m.Called(ctx, req).Get(0).(types.UploadResult)
}

func (m *MockDeployer) DeployBatch(ctx context.Context, reqs []airlock.DeployRequest, concurrency int) []types.UploadResult {
	return m.Called(ctx, reqs, concurrency).Get(0).([]types.UploadResult)
}

func (m *MockDeployer) Versions(ctx context.Context, bucket, name string) ([]string, error) {
	args := m.Called(ctx, bucket, name)
	versions, _ := args.Get(0).([]string)
	return versions, args.Error(1)
}

func do(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var content []byte
	switch b := body.(type) {
	case nil:
	case string:
		content = []byte(b)
	default:
		var err error
		content, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(content))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		result types.UploadResult
		want   int
	}{
		{result: types.UploadResult{Success: true}, want: http.StatusOK},
		{result: types.UploadResult{Success: true, Simulated: true}, want: http.StatusOK},
		{result: types.UploadResult{Stage: types.StageSchema}, want: http.StatusUnprocessableEntity},
		{result: types.UploadResult{Stage: types.StageSanity}, want: http.StatusUnprocessableEntity},
		{result: types.UploadResult{Stage: types.StageVersion}, want: http.StatusInternalServerError},
		{result: types.UploadResult{Stage: types.StageStorage}, want: http.StatusBadGateway},
		{result: types.UploadResult{Stage: types.StageStorage, Transient: true}, want: http.StatusBadGateway},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusOf(tt.result), "stage %q", tt.result.Stage)
	}
}

func TestServer_Deploy(t *testing.T) {
	deployer := &MockDeployer{}
	req := airlock.DeployRequest{ArtifactPath: "/w/arm_policy.pt", ConfigPath: "/w/model.yaml", Bucket: "robotics-staging", DryRun: true}
	deployer.On("Deploy", mock.Anything, req).Return(types.UploadResult{
		InvocationID: "id",
		Success:      true,
		Simulated:    true,
		Version:      &types.InitialVersion,
		Bucket:       "robotics-staging",
	})
	handler := (&Server{Deployer: deployer}).Handler()

	rec := do(t, handler, http.MethodPost, "/api/v1/deploy", req)

	assert.Equal(t, http.StatusOK, rec.Code)
	got := map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "1.0.0", got["version"])
	assert.Equal(t, true, got["simulated"])
	deployer.AssertExpectations(t)
}

func TestServer_DeployRejected(t *testing.T) {
	deployer := &MockDeployer{}
	deployer.On("Deploy", mock.Anything, mock.Anything).Return(types.UploadResult{
		Stage:      types.StageSchema,
		Detail:     "schema invalid: framework: framework is required",
		Violations: []string{"framework: framework is required"},
	})
	rec := do(t, (&Server{Deployer: deployer}).Handler(), http.MethodPost, "/api/v1/deploy", airlock.DeployRequest{Bucket: "b"})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	result := types.UploadResult{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, types.ExitSchemaRejected, result.ExitCode())
}

func TestServer_DeployBadRequest(t *testing.T) {
	deployer := &MockDeployer{}
	rec := do(t, (&Server{Deployer: deployer}).Handler(), http.MethodPost, "/api/v1/deploy", "{not json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	info := errors.ErrorInfo{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, errors.ErrCodeInvalidParameter, info.Code)
	deployer.AssertNotCalled(t, "Deploy", mock.Anything, mock.Anything)
}

func TestServer_DeployBatch(t *testing.T) {
	deployer := &MockDeployer{}
	reqs := []airlock.DeployRequest{{Bucket: "a"}, {Bucket: "b"}}
	deployer.On("DeployBatch", mock.Anything, reqs, 2).Return([]types.UploadResult{
		{Success: true, Bucket: "a"},
		{Stage: types.StageSanity, Bucket: "b"},
	})
	handler := (&Server{Deployer: deployer, Concurrency: 2}).Handler()

	rec := do(t, handler, http.MethodPost, "/api/v1/batch", BatchRequest{Requests: reqs, Concurrency: 16})

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := BatchResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "a", resp.Results[0].Bucket)
	assert.Equal(t, types.ExitSanityRejected, resp.ExitCode)

	rec = do(t, handler, http.MethodPost, "/api/v1/batch", BatchRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetVersions(t *testing.T) {
	deployer := &MockDeployer{}
	deployer.On("Versions", mock.Anything, "robotics-staging", "arm-policy").Return([]string{"1.0.0", "1.1.0"}, nil)
	deployer.On("Versions", mock.Anything, "robotics-staging", "unknown").Return([]string{}, nil)
	deployer.On("Versions", mock.Anything, "offline", "arm-policy").Return(nil, airlock.ErrNoLedger)
	deployer.On("Versions", mock.Anything, "broken", "arm-policy").
		Return(nil, errors.NewTransientStorageError("get", "broken", "arm-policy/index.json", context.DeadlineExceeded))
	handler := (&Server{Deployer: deployer}).Handler()

	rec := do(t, handler, http.MethodGet, "/api/v1/buckets/robotics-staging/models/arm-policy/versions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	list := VersionList{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, VersionList{Bucket: "robotics-staging", Name: "arm-policy", Versions: []string{"1.0.0", "1.1.0"}}, list)

	tests := map[string]int{
		"/api/v1/buckets/robotics-staging/models/unknown/versions":     http.StatusNotFound,
		"/api/v1/buckets/offline/models/arm-policy/versions":           http.StatusNotImplemented,
		"/api/v1/buckets/broken/models/arm-policy/versions":            http.StatusBadGateway,
		"/api/v1/buckets/robotics-staging/models/-arm-policy/versions": http.StatusNotFound,
	}
	for path, want := range tests {
		assert.Equal(t, want, do(t, handler, http.MethodGet, path, nil).Code, path)
	}
}

func TestServer_HealthzAndSchema(t *testing.T) {
	handler := (&Server{Deployer: &MockDeployer{}}).Handler()

	rec := do(t, handler, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(t, handler, http.MethodGet, "/api/v1/schema", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, string(schema.Document()), rec.Body.String())
}

func TestServer_DeployRoundTrip(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "arm_policy.pt")
	require.NoError(t, os.WriteFile(artifact, []byte{0x80, 0x04, 0x95, 'K', 0x01, '.'}, 0o644))
	require.NoError(t, inspect.WriteSidecar(artifact, types.Shape{1, 7}))

	validator, err := schema.NewValidator()
	require.NoError(t, err)
	sink, err := storage.NewLocalSink(&storage.LocalOptions{Basepath: filepath.Join(dir, "store")})
	require.NoError(t, err)
	versions := ledger.NewMemoryLedger()
	orchestrator := airlock.NewOrchestrator(validator, inspect.NewStaticInspector(), versions, sink, airlock.DefaultOptions())
	handler := (&Server{Deployer: orchestrator, Concurrency: 2}).Handler()

	req := airlock.DeployRequest{
		ArtifactPath: artifact,
		Bucket:       "robotics-staging",
		Config: map[string]any{
			"name":                  "arm-policy",
			"framework":             "pytorch",
			"expected_output_shape": []int{1, 7},
		},
	}
	rec := do(t, handler, http.MethodPost, "/api/v1/deploy", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := types.UploadResult{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "arm-policy/1.0.0/arm_policy.pt", result.ObjectKey)
	_, err = os.Stat(filepath.Join(dir, "store", "robotics-staging", "arm-policy", "1.0.0", "arm_policy.pt"))
	assert.NoError(t, err)

	rec = do(t, handler, http.MethodGet, "/api/v1/buckets/robotics-staging/models/arm-policy/versions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"1.0.0"`)

	req.Config = map[string]any{"name": "arm-policy", "framework": "pytorch", "expected_output_shape": []int{1, 8}}
	rec = do(t, handler, http.MethodPost, "/api/v1/deploy", req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stage":"sanity"`)
}

func TestWorkspace_Resolve(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "models"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "m.pt"), []byte{0x80}, 0o644))
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))
	realRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)

	ws := Workspace{Root: root, Buckets: []string{"robotics-staging"}}
	tests := []struct {
		name     string
		req      airlock.DeployRequest
		artifact string
		wantErr  bool
	}{
		{name: "relative", req: airlock.DeployRequest{ArtifactPath: "models/m.pt", Bucket: "robotics-staging"}, artifact: filepath.Join(realRoot, "models", "m.pt")},
		{name: "absolute inside", req: airlock.DeployRequest{ArtifactPath: filepath.Join(root, "m.pt"), Bucket: "robotics-staging"}, artifact: filepath.Join(realRoot, "m.pt")},
		{name: "parent escape", req: airlock.DeployRequest{ArtifactPath: "../etc/passwd", Bucket: "robotics-staging"}, wantErr: true},
		{name: "absolute outside", req: airlock.DeployRequest{ArtifactPath: "/etc/passwd", Bucket: "robotics-staging"}, wantErr: true},
		{name: "config outside", req: airlock.DeployRequest{ArtifactPath: "m.pt", ConfigPath: "/etc/hosts", Bucket: "robotics-staging"}, wantErr: true},
		{name: "symlink escape", req: airlock.DeployRequest{ArtifactPath: "escape", Bucket: "robotics-staging"}, wantErr: true},
		{name: "bucket not served", req: airlock.DeployRequest{ArtifactPath: "m.pt", Bucket: "production"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ws.Resolve(tt.req)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsErrCode(err, errors.ErrCodeInvalidParameter), err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.artifact, got.ArtifactPath)
		})
	}

	req := airlock.DeployRequest{ArtifactPath: "/anywhere/m.pt", Bucket: "any"}
	got, err := Workspace{}.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestServer_DeployOutsideWorkspace(t *testing.T) {
	deployer := &MockDeployer{}
	handler := (&Server{Deployer: deployer, Workspace: Workspace{Root: t.TempDir()}}).Handler()

	rec := do(t, handler, http.MethodPost, "/api/v1/deploy", airlock.DeployRequest{ArtifactPath: "/etc/passwd", Bucket: "robotics-staging"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	batch := BatchRequest{Requests: []airlock.DeployRequest{{ArtifactPath: "m.pt", Bucket: "b"}, {ArtifactPath: "../../m.pt", Bucket: "b"}}}
	rec = do(t, handler, http.MethodPost, "/api/v1/batch", batch)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	deployer.AssertNotCalled(t, "Deploy", mock.Anything, mock.Anything)
	deployer.AssertNotCalled(t, "DeployBatch", mock.Anything, mock.Anything, mock.Anything)
}

func TestServer_VersionsBucketNotServed(t *testing.T) {
	deployer := &MockDeployer{}
	handler := (&Server{Deployer: deployer, Workspace: Workspace{Buckets: []string{"robotics-staging"}}}).Handler()

	rec := do(t, handler, http.MethodGet, "/api/v1/buckets/production/models/arm-policy/versions", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	deployer.AssertNotCalled(t, "Versions", mock.Anything, mock.Anything, mock.Anything)
}
