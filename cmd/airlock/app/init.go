package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"kubegems.io/airlock/pkg/schema"
	"sigs.k8s.io/yaml"
)

const ModelConfigFileName = "model.yaml"

type InitOptions struct {
	Name        string
	Framework   string
	Shape       []int64
	Description string
	AuthorEmail string
	Force       bool
}

func NewInitCmd() *cobra.Command {
	options := InitOptions{}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "write a model config template at path",
		Example: `
  airlock init ./arm-policy --framework pytorch --shape 1,7
		`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := BaseContext()
			defer cancel()
			if len(args) == 0 {
				return errors.New("at least one argument is required")
			}
			configfile, err := InitModel(ctx, args[0], options)
			if err != nil {
				return err
			}
			fmt.Printf("Model config written to %s\n", configfile)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&options.Name, "name", options.Name, "model name, defaults to the directory name")
	flags.StringVar(&options.Framework, "framework", options.Framework, "pytorch, onnx or sklearn")
	flags.Int64SliceVar(&options.Shape, "shape", options.Shape, "expected output shape, e.g. 1,7")
	flags.StringVar(&options.Description, "description", options.Description, "model description")
	flags.StringVar(&options.AuthorEmail, "author-email", options.AuthorEmail, "author email")
	flags.BoolVarP(&options.Force, "force", "f", options.Force, "overwrite an existing config")
	return cmd
}

// InitModel writes a model config under path after checking it against the
// metadata schema, and returns the file it wrote.
func InitModel(ctx context.Context, path string, options InitOptions) (string, error) {
	configfile := filepath.Join(path, ModelConfigFileName)
	if _, err := os.Stat(configfile); err == nil && !options.Force {
		return "", fmt.Errorf("%s already exists", configfile)
	} else if err != nil && !os.IsNotExist(err) {
		return "", err
	}

	name := options.Name
	if name == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", err
		}
		name = strings.ToLower(filepath.Base(abs))
	}
	description := options.Description
	if description == "" {
		description = fmt.Sprintf("%s model", name)
	}
	config := map[string]any{
		"name":                  name,
		"framework":             options.Framework,
		"expected_output_shape": options.Shape,
		"description":           description,
	}
	if options.AuthorEmail != "" {
		config["author_email"] = options.AuthorEmail
	}

	validator, err := schema.NewValidator()
	if err != nil {
		return "", err
	}
	md, err := validator.Validate(config)
	if err != nil {
		return "", err
	}
	content, err := yaml.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("encode model config: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("create model directory %s: %w", path, err)
	}
	if err := os.WriteFile(configfile, content, 0o644); err != nil {
		return "", fmt.Errorf("write model config %s: %w", configfile, err)
	}
	return configfile, nil
}
