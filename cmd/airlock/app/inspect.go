package app

import (
	"errors"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"kubegems.io/airlock/pkg/inspect"
	"kubegems.io/airlock/pkg/progress"
	"kubegems.io/airlock/pkg/types"
)

type InspectResult struct {
	types.ArtifactHandle
	OutputShape types.Shape `json:"outputShape,omitempty"`
	Error       string      `json:"error,omitempty"`
}

func NewInspectCmd() *cobra.Command {
	output := OutputTable
	writeShape := []int64{}
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "show what airlock derives from model artifacts",
		Example: `
  airlock inspect arm_policy.pt gripper.onnx
  airlock inspect classifier.pkl --write-shape 1,3
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
			if len(writeShape) > 0 {
				if len(args) != 1 {
					return errors.New("--write-shape takes exactly one artifact")
				}
				if err := inspect.WriteSidecar(args[0], types.Shape(writeShape)); err != nil {
					return err
				}
			}

			inspector := inspect.NewStaticInspector()
			results := make([]InspectResult, 0, len(args))
			for _, path := range args {
				result := InspectResult{}
				handle, err := inspector.Open(ctx, path)
				if err != nil {
					result.Path, result.Error = path, err.Error()
					results = append(results, result)
					continue
				}
				result.ArtifactHandle = handle
				if shape, err := inspector.OutputShape(ctx, handle); err != nil {
					result.Error = err.Error()
				} else {
					result.OutputShape = shape
				}
				results = append(results, result)
			}

			if output == OutputJSON {
				return PrintJSON(os.Stdout, results)
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"File", "Framework", "Size", "Digest", "Output Shape", "Error"})
			for _, r := range results {
				shape, dgst, size := "", "", ""
				if r.OutputShape != nil {
					shape = r.OutputShape.String()
				}
				if r.Digest != "" {
					dgst = r.Digest.Encoded()[:12]
					size = progress.HumanSize(r.Size)
				}
				t.AppendRow(table.Row{r.Path, r.Framework, size, dgst, shape, r.Error})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", output, "output format, table or json")
	cmd.Flags().Int64SliceVar(&writeShape, "write-shape", writeShape, "declare the output shape in a sidecar file before inspecting")
	return cmd
}
