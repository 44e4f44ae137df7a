package ledger

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	"golang.org/x/exp/slices"
	"kubegems.io/airlock/pkg/types"
)

var ErrVersionExists = stderrors.New("version already registered")

// Entry is the record written once an artifact has been stored under a version.
type Entry struct {
	Version   string            `json:"version"`
	Digest    digest.Digest     `json:"digest,omitempty"`
	Size      int64             `json:"size,omitempty"`
	ObjectKey string            `json:"objectKey,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Ledger is the authoritative list of versions per bucket and model name.
// Versions returns raw strings so that malformed data surfaces to the caller.
type Ledger interface {
	Versions(ctx context.Context, bucket, name string) ([]string, error)
	Register(ctx context.Context, bucket, name string, entry Entry) error
}

func ledgerKey(bucket, name string) string {
	return bucket + "/" + name
}

func containsVersion(entries []Entry, version string) bool {
	return slices.ContainsFunc(entries, func(e Entry) bool { return e.Version == version })
}

func entryVersions(entries []Entry) []string {
	versions := make([]string, 0, len(entries))
	for _, e := range entries {
		versions = append(versions, e.Version)
	}
	return versions
}

// SortVersions orders raw version strings by semantic version, keeping unparsable
// entries last in their original order.
func SortVersions(versions []string) {
	slices.SortStableFunc(versions, func(a, b string) int {
		va, erra := types.ParseVersionTag(a)
		vb, errb := types.ParseVersionTag(b)
		switch {
		case erra != nil && errb != nil:
			return 0
		case erra != nil:
			return 1
		case errb != nil:
			return -1
		default:
			return va.Compare(vb)
		}
	})
}

var _ Ledger = &MemoryLedger{}

type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: map[string][]Entry{}}
}

// Seed records raw versions without validation, for tests and local replays.
func (m *MemoryLedger) Seed(bucket, name string, versions ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range versions {
		m.entries[ledgerKey(bucket, name)] = append(m.entries[ledgerKey(bucket, name)], Entry{Version: v})
	}
}

func (m *MemoryLedger) Versions(ctx context.Context, bucket, name string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return entryVersions(m.entries[ledgerKey(bucket, name)]), nil
}

func (m *MemoryLedger) Register(ctx context.Context, bucket, name string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ledgerKey(bucket, name)
	if containsVersion(m.entries[key], entry.Version) {
		return ErrVersionExists
	}
	m.entries[key] = append(m.entries[key], entry)
	return nil
}

func (m *MemoryLedger) Entries(bucket, name string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.entries[ledgerKey(bucket, name)])
}
