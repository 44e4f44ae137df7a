package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"

	"github.com/go-logr/logr"
	"github.com/gorilla/handlers"
	"kubegems.io/airlock/pkg/airlock"
	"kubegems.io/airlock/pkg/types"
)

const MaxBytesRead = int64(1 << 20) // 1MB

// Deployer is the part of the orchestrator the HTTP gate serves.
type Deployer interface {
	Deploy(ctx context.Context, req airlock.DeployRequest) types.UploadResult
	DeployBatch(ctx context.Context, reqs []airlock.DeployRequest, concurrency int) []types.UploadResult
	Versions(ctx context.Context, bucket, name string) ([]string, error)
}

type Server struct {
	Deployer    Deployer
	Concurrency int
	Workspace   Workspace
}

func Run(ctx context.Context, options *airlock.Options) error {
	log := logr.FromContextOrDiscard(ctx)
	orchestrator, closeFn, err := airlock.New(ctx, options)
	if err != nil {
		return err
	}
	defer closeFn()

	s := &Server{
		Deployer:    orchestrator,
		Concurrency: options.Concurrency,
		Workspace:   Workspace{Root: options.Workspace, Buckets: options.Buckets},
	}
	if options.Workspace == "" {
		log.Info("no workspace set, clients may name any server-local path")
	}
	server := http.Server{
		Addr:    options.Listen,
		Handler: handlers.CombinedLoggingHandler(os.Stdout, s.Handler()),
		BaseContext: func(l net.Listener) context.Context {
			return ctx
		},
	}
	shutdown := make(chan struct{})
	go func() {
		defer close(shutdown)
		<-ctx.Done()
		// in-flight deploys finish before the ledger is closed
		server.Shutdown(context.WithoutCancel(ctx))
	}()
	var serveErr error
	if options.TLS != nil && options.TLS.CertFile != "" && options.TLS.KeyFile != "" {
		log.Info("airlockd listening", "https", options.Listen)
		serveErr = server.ListenAndServeTLS(options.TLS.CertFile, options.TLS.KeyFile)
	} else {
		log.Info("airlockd listening", "http", options.Listen)
		serveErr = server.ListenAndServe()
	}
	if errors.Is(serveErr, http.ErrServerClosed) {
		<-shutdown
		return nil
	}
	return serveErr
}

// MaxBytesReadHandler returns a Handler that runs h with its ResponseWriter and Request.Body wrapped by a MaxBytesReader.
func MaxBytesReadHandler(h http.HandlerFunc, n int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := *r
		r2.Body = http.MaxBytesReader(w, r.Body, n)
		h.ServeHTTP(w, &r2)
	}
}
