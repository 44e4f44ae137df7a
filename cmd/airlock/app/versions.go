package app

import (
	"errors"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"kubegems.io/airlock/pkg/airlock"
)

func NewVersionsCmd(options *airlock.Options) *cobra.Command {
	bucket := ""
	output := OutputTable
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "list the registered versions of a model",
		Example: `
  airlock versions arm-policy --bucket robotics-staging
		`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := BaseContext()
			defer cancel()
			if len(args) == 0 {
				return errors.New("at least one argument is required")
			}
			if bucket == "" {
				return errors.New("--bucket is required")
			}
			if err := checkOutput(output); err != nil {
				return err
			}
			orchestrator, cleanup, err := NewOrchestrator(ctx, options, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			versions, err := orchestrator.Versions(ctx, bucket, args[0])
			if err != nil {
				return err
			}
			if output == OutputJSON {
				return PrintJSON(os.Stdout, versions)
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Version", "Object"})
			for _, v := range versions {
				t.AppendRow(table.Row{v, bucket + "/" + args[0] + "/" + v + "/"})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVarP(&bucket, "bucket", "b", bucket, "bucket the model was promoted to")
	cmd.Flags().StringVarP(&output, "output", "o", output, "output format, table or json")
	return cmd
}
