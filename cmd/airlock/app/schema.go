package app

import (
	"os"

	"github.com/spf13/cobra"
	"kubegems.io/airlock/pkg/schema"
)

func NewSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "schema",
		Short:        "print the json schema model configs are validated against",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := os.Stdout.Write(schema.Document())
			return err
		},
	}
}
