package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/chazu/voxgraph/pkg/graph"
	"github.com/chazu/voxgraph/pkg/logging"
	"github.com/chazu/voxgraph/pkg/ops"
	"github.com/dgraph-io/badger/v4"
)

var keyPrefix = []byte("result/v1/")

// DiskConfig configures a Disk store.
type DiskConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path           string
	InMemory       bool
	// SyncWrites fsyncs every write. Results can always be recomputed, so
	// the default is off.
	SyncWrites     bool
	// TTL expires entries; zero keeps them until garbage collected.
	TTL            time.Duration
	// GCInterval is how often the value log is garbage collected. Zero
	// disables collection.
	GCInterval     time.Duration
	GCDiscardRatio float64
	Logger         *slog.Logger
}

// DefaultDiskConfig returns the configuration for a cache directory.
func DefaultDiskConfig(path string) DiskConfig {
	return DiskConfig{
		Path:           path,
		TTL:            7 * 24 * time.Hour,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// Disk persists encoded results in BadgerDB.
type Disk struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger

	stop chan struct{}
	done chan struct{}
}

var _ Store = (*Disk)(nil)

// badgerLogger adapts slog to badger's logger interface.
type badgerLogger struct{ logger *slog.Logger }

func (l badgerLogger) Errorf(format string, args ...any)   { l.logger.Error(fmt.Sprintf(format, args...)) }
func (l badgerLogger) Warningf(format string, args ...any) { l.logger.Warn(fmt.Sprintf(format, args...)) }
func (l badgerLogger) Infof(format string, args ...any)    { l.logger.Debug(fmt.Sprintf(format, args...)) }
func (l badgerLogger) Debugf(format string, args ...any)   { l.logger.Debug(fmt.Sprintf(format, args...)) }

// OpenDisk opens (creating if needed) the database described by cfg.
func OpenDisk(cfg DiskConfig) (*Disk, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("store: disk: path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("store: disk: create %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: disk: open: %w", err)
	}
	d := &Disk{db: db, ttl: cfg.TTL, logger: cfg.Logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		d.stop = make(chan struct{})
		d.done = make(chan struct{})
		go d.collect(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return d, nil
}

func (d *Disk) log() *slog.Logger { return logging.Or(d.logger) }

func diskKey(f graph.Fingerprint) []byte {
	return append(append([]byte(nil), keyPrefix...), f[:]...)
}

// Get loads and decodes the value under f. Entries that fail their
// integrity check are deleted and reported as ErrCorrupt.
func (d *Disk) Get(ctx context.Context, f graph.Fingerprint) (ops.Value, bool, error) {
	if err := ctx.Err(); err != nil {
		return ops.Value{}, false, err
	}
	var data []byte
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(diskKey(f))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ops.Value{}, false, nil
	}
	if err != nil {
		return ops.Value{}, false, fmt.Errorf("store: disk: get %s: %w", f.Short(), err)
	}
	v, err := Decode(data)
	if err != nil {
		_ = d.db.Update(func(txn *badger.Txn) error { return txn.Delete(diskKey(f)) })
		return ops.Value{}, false, err
	}
	return v, true, nil
}

// Put encodes and writes v under f.
func (d *Disk) Put(ctx context.Context, f graph.Fingerprint, v ops.Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(v)
	if err != nil {
		return err
	}
	err = d.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(diskKey(f), data)
		if d.ttl > 0 {
			e = e.WithTTL(d.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("store: disk: put %s: %w", f.Short(), err)
	}
	return nil
}

// Len counts the stored results.
func (d *Disk) Len() (int, error) {
	n := 0
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (d *Disk) collect(interval time.Duration, ratio float64) {
	defer close(d.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			err := d.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				d.log().Warn("store: value log gc failed", "error", err)
			}
		}
	}
}

// Close stops garbage collection and closes the database.
func (d *Disk) Close() error {
	if d.stop != nil {
		close(d.stop)
		<-d.done
	}
	return d.db.Close()
}
