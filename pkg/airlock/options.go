package airlock

import (
	"time"

	"kubegems.io/airlock/pkg/inspect"
	"kubegems.io/airlock/pkg/sanity"
	"kubegems.io/airlock/pkg/storage"
)

const (
	StorageS3    = "s3"
	StorageLocal = "local"

	LedgerS3       = "s3"
	LedgerLevelDB  = "leveldb"
	LedgerPostgres = "postgres"
	LedgerMemory   = "memory"
	LedgerNone     = "none"
)

type Options struct {
	Listen string      `json:"listen" mapstructure:"listen"`
	TLS    *TLSOptions `json:"tls" mapstructure:"tls"`
	// Storage selects the sink: "s3" or "local".
	Storage      string                `json:"storage" mapstructure:"storage"`
	S3           *storage.S3Options    `json:"s3" mapstructure:"s3"`
	Local        *storage.LocalOptions `json:"local" mapstructure:"local"`
	Ledger       *LedgerOptions        `json:"ledger" mapstructure:"ledger"`
	Sanity       sanity.Options        `json:"sanity" mapstructure:"sanity"`
	Retry        RetryPolicy           `json:"retry" mapstructure:"retry"`
	CacheSize    int                   `json:"cacheSize" mapstructure:"cacheSize"`
	Concurrency  int                   `json:"concurrency" mapstructure:"concurrency"`
	UploadConfig bool                  `json:"uploadConfig" mapstructure:"uploadConfig"`
	// DryRunReadsLedger lets dry runs read the ledger to report the version a
	// real run would get. Off, dry runs do no network I/O and start from 1.0.0.
	DryRunReadsLedger bool `json:"dryRunReadsLedger" mapstructure:"dryRunReadsLedger"`
	// Workspace confines the artifact and config paths an airlockd client may name.
	// Empty accepts any path readable by the server.
	Workspace string `json:"workspace" mapstructure:"workspace"`
	// Buckets, when set, are the only buckets airlockd serves.
	Buckets []string `json:"buckets" mapstructure:"buckets"`
}

type TLSOptions struct {
	CertFile string `json:"certFile" mapstructure:"certFile"`
	KeyFile  string `json:"keyFile" mapstructure:"keyFile"`
}

type LedgerOptions struct {
	// Backend is one of s3, leveldb, postgres, memory or none.
	// With none only offline dry runs are possible.
	Backend string `json:"backend" mapstructure:"backend"`
	Path    string `json:"path" mapstructure:"path"`
	DSN     string `json:"dsn" mapstructure:"dsn"`
}

// RetryPolicy bounds the storage step. Backoff doubles from InitialBackoff up to
// MaxBackoff with no jitter; Timeout applies to each attempt.
type RetryPolicy struct {
	MaxAttempts    uint          `json:"maxAttempts" mapstructure:"maxAttempts"`
	InitialBackoff time.Duration `json:"initialBackoff" mapstructure:"initialBackoff"`
	MaxBackoff     time.Duration `json:"maxBackoff" mapstructure:"maxBackoff"`
	Timeout        time.Duration `json:"timeout" mapstructure:"timeout"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Timeout:        60 * time.Second,
	}
}

// Backoff returns the delay before retry n+1, n counting from zero.
func (p RetryPolicy) Backoff(n uint) time.Duration {
	delay := p.InitialBackoff
	for i := uint(0); i < n; i++ {
		if p.MaxBackoff > 0 && delay >= p.MaxBackoff {
			break
		}
		delay *= 2
	}
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		delay = p.MaxBackoff
	}
	return delay
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts == 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	if p.InitialBackoff < 0 {
		p.InitialBackoff = 0
	}
	return p
}

func DefaultOptions() *Options {
	return &Options{
		Listen:  ":8080",
		TLS:     &TLSOptions{},
		Storage: StorageS3,
		S3:      storage.NewDefaultS3Options(),
		Local:   storage.NewDefaultLocalOptions(),
		Ledger: &LedgerOptions{
			Backend: LedgerS3,
			Path:    "data/airlock-ledger",
		},
		Sanity:       sanity.DefaultOptions(),
		Retry:        DefaultRetryPolicy(),
		CacheSize:    inspect.DefaultCacheSize,
		Concurrency:  4,
		UploadConfig: true,
	}
}
