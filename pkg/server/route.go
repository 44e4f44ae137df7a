package server

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"kubegems.io/airlock/pkg/airlock"
	"kubegems.io/airlock/pkg/errors"
	"kubegems.io/airlock/pkg/schema"
	"kubegems.io/airlock/pkg/types"
)

const (
	BucketRegexp = `[a-z0-9][a-z0-9.-]{1,252}`
	NameRegexp   = schema.NamePattern
)

type BatchRequest struct {
	Requests    []airlock.DeployRequest `json:"requests"`
	Concurrency int                     `json:"concurrency,omitempty"`
}

type BatchResponse struct {
	Results  []types.UploadResult `json:"results"`
	ExitCode int                  `json:"exitCode"`
}

type VersionList struct {
	Bucket   string   `json:"bucket"`
	Name     string   `json:"name"`
	Versions []string `json:"versions"`
}

func (s *Server) Handler() http.Handler {
	mux := mux.NewRouter()
	mux = mux.StrictSlash(true)
	// healthy
	mux.Methods("GET").Path("/healthz").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	api := mux.PathPrefix("/api/v1").Subrouter()
	api.Methods("GET").Path("/schema").HandlerFunc(s.GetSchema)
	api.Methods("POST").Path("/deploy").HandlerFunc(MaxBytesReadHandler(s.Deploy, MaxBytesRead))
	api.Methods("POST").Path("/batch").HandlerFunc(MaxBytesReadHandler(s.DeployBatch, MaxBytesRead))
	api.Methods("GET").Path("/buckets/{bucket:" + BucketRegexp + "}/models/{name:" + NameRegexp + "}/versions").HandlerFunc(s.GetVersions)
	return mux
}

func (s *Server) GetSchema(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	w.Write(schema.Document())
}

func (s *Server) Deploy(w http.ResponseWriter, r *http.Request) {
	req := airlock.DeployRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ResponseError(w, errors.NewParameterInvalidError(fmt.Sprintf("decode deploy request: %v", err)))
		return
	}
	req, err := s.Workspace.Resolve(req)
	if err != nil {
		ResponseError(w, err)
		return
	}
	result := s.Deployer.Deploy(r.Context(), req)
	ResponseJSON(w, StatusOf(result), result)
}

func (s *Server) DeployBatch(w http.ResponseWriter, r *http.Request) {
	req := BatchRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ResponseError(w, errors.NewParameterInvalidError(fmt.Sprintf("decode batch request: %v", err)))
		return
	}
	if len(req.Requests) == 0 {
		ResponseError(w, errors.NewParameterInvalidError("batch has no requests"))
		return
	}
	for i := range req.Requests {
		resolved, err := s.Workspace.Resolve(req.Requests[i])
		if err != nil {
			ResponseError(w, err)
			return
		}
		req.Requests[i] = resolved
	}
	concurrency := req.Concurrency
	if concurrency <= 0 || (s.Concurrency > 0 && concurrency > s.Concurrency) {
		concurrency = s.Concurrency
	}
	results := s.Deployer.DeployBatch(r.Context(), req.Requests, concurrency)
	ResponseOK(w, BatchResponse{Results: results, ExitCode: airlock.BatchExitCode(results)})
}

func (s *Server) GetVersions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	bucket, name := vars["bucket"], vars["name"]
	if err := s.Workspace.CheckBucket(bucket); err != nil {
		ResponseError(w, err)
		return
	}
	versions, err := s.Deployer.Versions(r.Context(), bucket, name)
	if err != nil {
		if stderrors.Is(err, airlock.ErrNoLedger) {
			ResponseError(w, errors.NewUnsupportedError(err.Error()))
			return
		}
		ResponseError(w, err)
		return
	}
	if len(versions) == 0 {
		ResponseError(w, errors.NewNameUnknownError(name))
		return
	}
	ResponseOK(w, VersionList{Bucket: bucket, Name: name, Versions: versions})
}
