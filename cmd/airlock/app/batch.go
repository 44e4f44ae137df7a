package app

import (
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"
	"kubegems.io/airlock/pkg/airlock"
)

func NewBatchCmd(options *airlock.Options) *cobra.Command {
	concurrency := 0
	dryRun := false
	output := OutputTable
	showProgress := true
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "promote every model listed in a batch manifest",
		Example: `
  airlock batch models.yaml
  airlock batch models.yaml --concurrency 8 --dry-run -o json
		`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := BaseContext()
			defer cancel()
			if len(args) == 0 {
				return errors.New("at least one argument is required")
			}
			if err := checkOutput(output); err != nil {
				return err
			}
			manifest, err := airlock.LoadBatchManifest(args[0])
			if err != nil {
				return err
			}
			if dryRun {
				for i := range manifest.Models {
					manifest.Models[i].DryRun = true
				}
			}
			limit := options.Concurrency
			if manifest.Concurrency > 0 {
				limit = manifest.Concurrency
			}
			if concurrency > 0 {
				limit = concurrency
			}

			var progressOut io.Writer
			if showProgress && output == OutputTable && !dryRun {
				progressOut = os.Stderr
			}
			orchestrator, cleanup, err := NewOrchestrator(ctx, options, progressOut)
			if err != nil {
				return err
			}
			results := orchestrator.DeployBatch(ctx, manifest.Models, limit)
			cleanup()

			if err := PrintResults(os.Stdout, output, results...); err != nil {
				return err
			}
			return Exit(airlock.BatchExitCode(results))
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&concurrency, "concurrency", concurrency, "invocations in flight, overrides the manifest")
	flags.BoolVar(&dryRun, "dry-run", dryRun, "dry run every model in the manifest")
	flags.StringVarP(&output, "output", "o", output, "output format, table or json")
	flags.BoolVar(&showProgress, "progress", showProgress, "show upload progress on stderr")
	return cmd
}
