package airlock

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-logr/logr"
	"kubegems.io/airlock/pkg/inspect"
	"kubegems.io/airlock/pkg/ledger"
	"kubegems.io/airlock/pkg/schema"
	"kubegems.io/airlock/pkg/storage"
)

// Components are the collaborators an orchestrator is built from.
type Components struct {
	Validator *schema.Validator
	Inspector inspect.Inspector
	Ledger    ledger.Ledger
	Sink      storage.Sink
	closers   []func()
}

// Close releases ledger resources in reverse order of creation.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// New builds an orchestrator from options. The returned func releases ledger
// resources and must be called once the orchestrator is no longer used.
func New(ctx context.Context, options *Options) (*Orchestrator, func(), error) {
	c, err := Build(ctx, options)
	if err != nil {
		return nil, nil, err
	}
	return NewOrchestrator(c.Validator, c.Inspector, c.Ledger, c.Sink, options), c.Close, nil
}

// Build selects the storage sink and ledger backends named in options.
func Build(ctx context.Context, options *Options) (*Components, error) {
	log := logr.FromContextOrDiscard(ctx)
	c := &Components{}

	validator, err := schema.NewValidator()
	if err != nil {
		return nil, err
	}
	c.Validator = validator
	inspector, err := inspect.NewCachingInspector(inspect.NewStaticInspector(), options.CacheSize)
	if err != nil {
		return nil, err
	}
	c.Inspector = inspector

	ledgerOptions := options.Ledger
	if ledgerOptions == nil {
		ledgerOptions = &LedgerOptions{Backend: LedgerNone}
	}
	var s3client *s3.Client
	if options.Storage == StorageS3 || ledgerOptions.Backend == LedgerS3 {
		if s3client, err = storage.NewS3Client(ctx, options.S3); err != nil {
			return nil, err
		}
	}

	switch options.Storage {
	case StorageS3:
		c.Sink = storage.NewS3Sink(s3client, options.S3)
	case StorageLocal:
		localsink, err := storage.NewLocalSink(options.Local)
		if err != nil {
			return nil, err
		}
		c.Sink = localsink
	case "":
	default:
		return nil, fmt.Errorf("unknown storage backend %q", options.Storage)
	}

	switch ledgerOptions.Backend {
	case LedgerS3:
		c.Ledger = ledger.NewS3Ledger(s3client, options.S3.Prefix)
	case LedgerLevelDB:
		leveldbLedger, err := ledger.NewLevelDBLedger(ledgerOptions.Path)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() { leveldbLedger.Close() })
		c.Ledger = leveldbLedger
	case LedgerPostgres:
		pgLedger, err := ledger.NewPostgresLedger(ctx, ledgerOptions.DSN)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, pgLedger.Close)
		c.Ledger = pgLedger
	case LedgerMemory:
		c.Ledger = ledger.NewMemoryLedger()
	case LedgerNone, "":
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", ledgerOptions.Backend)
	}

	log.V(1).Info("components configured", "storage", options.Storage, "ledger", ledgerOptions.Backend)
	return c, nil
}

// Versions lists the registered versions of name in semantic order.
func (o *Orchestrator) Versions(ctx context.Context, bucket, name string) ([]string, error) {
	if o.ledger == nil {
		return nil, ErrNoLedger
	}
	versions, err := o.ledger.Versions(ctx, bucket, name)
	if err != nil {
		return nil, err
	}
	ledger.SortVersions(versions)
	return versions, nil
}
