package app

import (
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"
	"kubegems.io/airlock/pkg/airlock"
)

func NewDeployCmd(options *airlock.Options) *cobra.Command {
	req := airlock.DeployRequest{}
	output := OutputTable
	showProgress := true
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "validate, version and upload a model artifact",
		Example: `
  airlock deploy --model-file arm_policy.pt --config model.yaml --bucket robotics-staging
  airlock deploy -m arm_policy.onnx -c model.yaml -b robotics-staging --dry-run -o json
		`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := BaseContext()
			defer cancel()
			if req.ArtifactPath == "" {
				return errors.New("--model-file is required")
			}
			if err := checkOutput(output); err != nil {
				return err
			}
			var progressOut io.Writer
			if showProgress && output == OutputTable && !req.DryRun {
				progressOut = os.Stderr
			}
			orchestrator, cleanup, err := NewOrchestrator(ctx, options, progressOut)
			if err != nil {
				return err
			}
			result := orchestrator.Deploy(ctx, req)
			cleanup()

			if err := PrintResults(os.Stdout, output, result); err != nil {
				return err
			}
			return Exit(result.ExitCode())
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&req.ArtifactPath, "model-file", "m", req.ArtifactPath, "model artifact to promote")
	flags.StringVarP(&req.ConfigPath, "config", "c", req.ConfigPath, "model config, yaml or json")
	flags.StringVarP(&req.Bucket, "bucket", "b", req.Bucket, "destination bucket")
	flags.BoolVar(&req.DryRun, "dry-run", req.DryRun, "run every check without touching storage")
	flags.StringVarP(&output, "output", "o", output, "output format, table or json")
	flags.BoolVar(&showProgress, "progress", showProgress, "show upload progress on stderr")
	return cmd
}
