package airlock

import (
	"context"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"kubegems.io/airlock/pkg/types"
)

// DeployBatch runs independent invocations with at most concurrency in flight.
// Results are in request order.
func (o *Orchestrator) DeployBatch(ctx context.Context, reqs []DeployRequest, concurrency int) []types.UploadResult {
	log := logr.FromContextOrDiscard(ctx)
	results := make([]types.UploadResult, len(reqs))

	eg := errgroup.Group{}
	if concurrency > 0 {
		eg.SetLimit(concurrency)
	}
	for i, req := range reqs {
		i, req := i, req
		eg.Go(func() error {
			results[i] = o.Deploy(ctx, req)
			return nil
		})
	}
	_ = eg.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	log.Info("batch finished", "total", len(results), "succeeded", succeeded)
	return results
}

// BatchExitCode is zero when every invocation succeeded, otherwise the exit code
// of the first failure in request order.
func BatchExitCode(results []types.UploadResult) int {
	for _, r := range results {
		if !r.Success {
			return r.ExitCode()
		}
	}
	return types.ExitUploaded
}
