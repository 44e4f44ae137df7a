package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"kubegems.io/airlock/pkg/types"
)

const (
	OutputTable = "table"
	OutputJSON  = "json"
)

func checkOutput(output string) error {
	switch output {
	case OutputTable, OutputJSON:
		return nil
	default:
		return fmt.Errorf("unknown output format %q, want table or json", output)
	}
}

func PrintJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// PrintResults renders one row per invocation followed by any field violations.
func PrintResults(w io.Writer, output string, results ...types.UploadResult) error {
	if output == OutputJSON {
		if len(results) == 1 {
			return PrintJSON(w, results[0])
		}
		return PrintJSON(w, results)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Name", "Version", "Bucket", "Object", "Result", "Attempts", "Detail"})
	for _, r := range results {
		version := ""
		if r.Version != nil {
			version = r.Version.String()
		}
		attempts := ""
		if r.Attempts > 0 {
			attempts = strconv.Itoa(r.Attempts)
		}
		t.AppendRow(table.Row{r.Name, version, r.Bucket, r.ObjectKey, outcome(r), attempts, r.Detail})
	}
	t.Render()

	for _, r := range results {
		for _, v := range r.Violations {
			fmt.Fprintf(w, "  %s: %s\n", r.InvocationID, v)
		}
	}
	return nil
}

func outcome(r types.UploadResult) string {
	switch {
	case r.Success && r.Simulated:
		return "simulated"
	case r.Success:
		return "uploaded"
	default:
		return fmt.Sprintf("rejected (%s, exit %d)", r.Stage, r.ExitCode())
	}
}
