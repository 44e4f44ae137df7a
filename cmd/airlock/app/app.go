package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"
	"kubegems.io/airlock/pkg/airlock"
	"kubegems.io/airlock/pkg/config"
	"kubegems.io/airlock/pkg/progress"
	"kubegems.io/airlock/pkg/version"
)

// ExitError carries a non-zero process exit code out of a command.
type ExitError int

func (e ExitError) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

// Exit returns nil for code zero so a successful run stays an error-free run.
func Exit(code int) error {
	if code == 0 {
		return nil
	}
	return ExitError(code)
}

func NewAirlockCmd() *cobra.Command {
	options := airlock.DefaultOptions()
	configFile := ""
	cmd := &cobra.Command{
		Use:           "airlock",
		Short:         "validate, version and promote model artifacts to object storage",
		Version:       version.Get().String(),
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadWithFlags(cmd.Flags(), configFile, options)
		},
	}
	cmd.AddCommand(NewDeployCmd(options))
	cmd.AddCommand(NewBatchCmd(options))
	cmd.AddCommand(NewVersionsCmd(options))
	cmd.AddCommand(NewInspectCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewSchemaCmd())

	flags := cmd.PersistentFlags()
	flags.StringVar(&configFile, "config-file", configFile, "airlock config file, yaml or json")
	flags.StringVar(&options.Storage, "storage", options.Storage, "storage backend, s3 or local")
	flags.StringVar(&options.S3.URL, "s3-url", options.S3.URL, "s3 endpoint url")
	flags.StringVar(&options.S3.Region, "s3-region", options.S3.Region, "s3 region")
	flags.StringVar(&options.S3.AccessKey, "s3-access-key", options.S3.AccessKey, "s3 access key")
	flags.StringVar(&options.S3.SecretKey, "s3-secret-key", options.S3.SecretKey, "s3 secret key")
	flags.StringVar(&options.S3.Prefix, "s3-prefix", options.S3.Prefix, "prefix prepended to every object key")
	flags.BoolVar(&options.S3.PathStyle, "s3-path-style", options.S3.PathStyle, "use path style s3 addressing")
	flags.StringVar(&options.Local.Basepath, "local-path", options.Local.Basepath, "directory of the local storage backend")
	flags.StringVar(&options.Ledger.Backend, "ledger", options.Ledger.Backend, "version ledger backend, s3, leveldb, postgres, memory or none")
	flags.StringVar(&options.Ledger.Path, "ledger-path", options.Ledger.Path, "leveldb ledger directory")
	flags.StringVar(&options.Ledger.DSN, "ledger-dsn", options.Ledger.DSN, "postgres ledger connection string")
	flags.UintVar(&options.Retry.MaxAttempts, "max-attempts", options.Retry.MaxAttempts, "storage attempts before giving up")
	flags.DurationVar(&options.Retry.Timeout, "storage-timeout", options.Retry.Timeout, "timeout of one storage attempt")
	flags.BoolVar(&options.Sanity.AllowDynamicDims, "allow-dynamic-dims", options.Sanity.AllowDynamicDims, "let symbolic artifact dimensions match any declared value")
	flags.Int64Var(&options.Sanity.MaxTensorVolume, "max-tensor-volume", options.Sanity.MaxTensorVolume, "largest accepted expected output volume")
	flags.BoolVar(&options.UploadConfig, "upload-config", options.UploadConfig, "store the model config next to the artifact")
	flags.BoolVar(&options.DryRunReadsLedger, "dry-run-ledger", options.DryRunReadsLedger, "let dry runs read the ledger to report the next version")
	return cmd
}

func BaseContext() (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	if os.Getenv("DEBUG") == "1" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		ctx = logr.NewContext(ctx, stdr.NewWithOptions(log.Default(), stdr.Options{LogCaller: stdr.Error}))
	}
	return ctx, cancel
}

// NewOrchestrator builds the pipeline from options. With progressOut set, uploads
// render progress bars there. The returned func waits for the bars and releases
// the ledger.
func NewOrchestrator(ctx context.Context, options *airlock.Options, progressOut io.Writer) (*airlock.Orchestrator, func(), error) {
	c, err := airlock.Build(ctx, options)
	if err != nil {
		return nil, nil, err
	}
	cleanup := c.Close
	if progressOut != nil && c.Sink != nil {
		sink := progress.NewSink(c.Sink, progressOut)
		c.Sink = sink
		cleanup = func() {
			sink.Wait()
			c.Close()
		}
	}
	return airlock.NewOrchestrator(c.Validator, c.Inspector, c.Ledger, c.Sink, options), cleanup, nil
}
