package ledger

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

var _ Ledger = &LevelDBLedger{}

// LevelDBLedger keeps one JSON list of entries per bucket/name key in a local database.
type LevelDBLedger struct {
	mu sync.Mutex
	db *leveldb.DB
}

func NewLevelDBLedger(path string) (*LevelDBLedger, error) {
	if path == "" {
		return nil, fmt.Errorf("local ledger path not set")
	}
	if basepath := filepath.Dir(path); basepath != "" {
		if err := os.MkdirAll(basepath, os.ModePerm); err != nil {
			return nil, err
		}
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	return &LevelDBLedger{db: db}, nil
}

func (l *LevelDBLedger) Versions(ctx context.Context, bucket, name string) ([]string, error) {
	entries, err := l.get(bucket, name)
	if err != nil {
		return nil, err
	}
	return entryVersions(entries), nil
}

func (l *LevelDBLedger) Register(ctx context.Context, bucket, name string, entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.get(bucket, name)
	if err != nil {
		return err
	}
	if containsVersion(entries, entry.Version) {
		return ErrVersionExists
	}
	content, err := json.Marshal(append(entries, entry))
	if err != nil {
		return err
	}
	return l.db.Put([]byte(ledgerKey(bucket, name)), content, nil)
}

func (l *LevelDBLedger) Close() error {
	return l.db.Close()
}

func (l *LevelDBLedger) get(bucket, name string) ([]Entry, error) {
	val, err := l.db.Get([]byte(ledgerKey(bucket, name)), nil)
	if err != nil {
		// a model without entries has no key yet
		if stderrors.Is(err, leveldb.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(val, &entries); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", ledgerKey(bucket, name), err)
	}
	return entries, nil
}
