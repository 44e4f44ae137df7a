package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"
	"kubegems.io/airlock/pkg/airlock"
	"kubegems.io/airlock/pkg/config"
	"kubegems.io/airlock/pkg/server"
	"kubegems.io/airlock/pkg/version"
)

const ErrExitCode = 1

func main() {
	if err := NewAirlockdCmd().Execute(); err != nil {
		fmt.Println(err.Error())
		os.Exit(ErrExitCode)
	}
}

func NewAirlockdCmd() *cobra.Command {
	options := airlock.DefaultOptions()
	configFile := ""
	cmd := &cobra.Command{
		Use:     "airlockd",
		Short:   "airlockd serves model promotion over http",
		Version: version.Get().String(),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
			defer cancel()

			log.SetFlags(log.LstdFlags | log.Lshortfile)
			ctx = logr.NewContext(ctx, stdr.NewWithOptions(log.Default(), stdr.Options{LogCaller: stdr.Error}))

			if err := config.LoadWithFlags(cmd.Flags(), configFile, options); err != nil {
				return err
			}
			return server.Run(ctx, options)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config-file", configFile, "airlockd config file, yaml or json")
	flags.StringVar(&options.Listen, "listen", options.Listen, "listen address")
	flags.StringVar(&options.TLS.CertFile, "tls-cert", options.TLS.CertFile, "tls cert file")
	flags.StringVar(&options.TLS.KeyFile, "tls-key", options.TLS.KeyFile, "tls key file")
	flags.StringVar(&options.Storage, "storage", options.Storage, "storage backend, s3 or local")
	flags.StringVar(&options.S3.URL, "s3-url", options.S3.URL, "s3 url")
	flags.StringVar(&options.S3.Region, "s3-region", options.S3.Region, "s3 region")
	flags.StringVar(&options.S3.AccessKey, "s3-access-key", options.S3.AccessKey, "s3 access key")
	flags.StringVar(&options.S3.SecretKey, "s3-secret-key", options.S3.SecretKey, "s3 secret key")
	flags.StringVar(&options.S3.Prefix, "s3-prefix", options.S3.Prefix, "prefix prepended to every object key")
	flags.BoolVar(&options.S3.PathStyle, "s3-path-style", options.S3.PathStyle, "use path style s3 addressing")
	flags.StringVar(&options.Local.Basepath, "local-path", options.Local.Basepath, "local storage directory")
	flags.StringVar(&options.Ledger.Backend, "ledger", options.Ledger.Backend, "version ledger backend, s3, leveldb, postgres or memory")
	flags.StringVar(&options.Ledger.Path, "ledger-path", options.Ledger.Path, "leveldb ledger directory")
	flags.StringVar(&options.Ledger.DSN, "ledger-dsn", options.Ledger.DSN, "postgres ledger connection string")
	flags.UintVar(&options.Retry.MaxAttempts, "max-attempts", options.Retry.MaxAttempts, "storage attempts before giving up")
	flags.DurationVar(&options.Retry.Timeout, "storage-timeout", options.Retry.Timeout, "timeout of one storage attempt")
	flags.StringVar(&options.Workspace, "workspace", options.Workspace, "directory that request artifact and config paths must stay within")
	flags.StringSliceVar(&options.Buckets, "bucket", options.Buckets, "bucket clients may deploy to, repeatable; any bucket when unset")
	flags.IntVar(&options.Concurrency, "concurrency", options.Concurrency, "largest batch concurrency a client may ask for")
	flags.BoolVar(&options.Sanity.AllowDynamicDims, "allow-dynamic-dims", options.Sanity.AllowDynamicDims, "let symbolic artifact dimensions match any declared value")
	return cmd
}
