// Package persistence implements the durable Cubes DB: a LevelDB-backed
// key-value log, keyed by 64-char lowercase hex cube keys, with schema
// versioning and retry-with-backoff on I/O failure.
package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/luxfi/log"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// CubesDBSchemaVersion is the schema version stamped on the Cubes DB.
const CubesDBSchemaVersion = 3

var schemaVersionKey = []byte("__schema_version__")

// pendingWrite is queued while the adapter has not finished opening:
// writes before Open completes are queued, not rejected.
type pendingWrite struct {
	hexKey string
	data   []byte
}

// Adapter is a LevelDB-backed implementation of store.Persistence.
type Adapter struct {
	path    string
	inMem   bool
	logger  log.Logger
	backoff func() backoff.BackOff

	mu      sync.Mutex
	db      *leveldb.DB
	ready   bool
	pending []pendingWrite
}

// Option customizes an Adapter at construction time.
type Option func(*Adapter)

// WithLogger attaches a structured logger.
func WithLogger(logger log.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// WithBackOff overrides the retry policy used for writes; mainly useful in
// tests that want to shrink retry delays.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(a *Adapter) { a.backoff = factory }
}

// NewFileAdapter returns an Adapter backed by a LevelDB directory on disk.
func NewFileAdapter(path string, opts ...Option) *Adapter {
	return newAdapter(path, false, opts)
}

// NewMemoryAdapter returns an Adapter backed by LevelDB's in-memory storage
// engine: durability semantics without touching disk, useful for tests and
// ephemeral nodes.
func NewMemoryAdapter(opts ...Option) *Adapter {
	return newAdapter("", true, opts)
}

func newAdapter(path string, inMem bool, opts []Option) *Adapter {
	a := &Adapter{
		path:  path,
		inMem: inMem,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = log.NewNoOpLogger()
	}
	return a
}

// Open opens (creating if absent) the underlying LevelDB store, verifies
// its schema version, and flushes any writes queued before Open completed.
func (a *Adapter) Open(ctx context.Context) error {
	var stor storage.Storage
	var err error
	if a.inMem {
		stor = storage.NewMemStorage()
	} else {
		stor, err = storage.OpenFile(a.path, false)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIoError, err)
		}
	}

	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}

	if err := a.checkSchema(db); err != nil {
		db.Close()
		return err
	}

	a.mu.Lock()
	a.db = db
	a.ready = true
	queued := a.pending
	a.pending = nil
	a.mu.Unlock()

	for _, w := range queued {
		if err := a.putNow(ctx, w.hexKey, w.data); err != nil {
			a.logger.Error("flushing queued write failed", "key", w.hexKey, "err", err)
		}
	}
	return nil
}

func (a *Adapter) checkSchema(db *leveldb.DB) error {
	existing, err := db.Get(schemaVersionKey, nil)
	if err == leveldb.ErrNotFound {
		return db.Put(schemaVersionKey, []byte{CubesDBSchemaVersion}, nil)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	if len(existing) != 1 || existing[0] != CubesDBSchemaVersion {
		return ErrSchemaMismatch
	}
	return nil
}

// Put writes data under hexKey. If the adapter has not finished Open, the
// write is queued rather than rejected.
func (a *Adapter) Put(ctx context.Context, hexKey string, data []byte) error {
	a.mu.Lock()
	if !a.ready {
		a.pending = append(a.pending, pendingWrite{hexKey: hexKey, data: append([]byte(nil), data...)})
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()
	return a.putNow(ctx, hexKey, data)
}

// putNow performs the actual write, retrying transient I/O failures with
// backoff.
func (a *Adapter) putNow(ctx context.Context, hexKey string, data []byte) error {
	op := func() error {
		a.mu.Lock()
		db := a.db
		a.mu.Unlock()
		if db == nil {
			return backoff.Permanent(ErrIoError)
		}
		if err := db.Put([]byte(hexKey), data, nil); err != nil {
			return err
		}
		return nil
	}

	err := backoff.Retry(op, a.withContext(ctx, a.backoff()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return nil
}

// withContext stops retrying once ctx is done, without depending on a
// particular backoff major version's context helper.
func (a *Adapter) withContext(ctx context.Context, b backoff.BackOff) backoff.BackOff {
	return &ctxBackOff{ctx: ctx, BackOff: b}
}

type ctxBackOff struct {
	ctx context.Context
	backoff.BackOff
}

func (c *ctxBackOff) NextBackOff() time.Duration {
	if c.ctx.Err() != nil {
		return backoff.Stop
	}
	return c.BackOff.NextBackOff()
}

// Iter streams every stored cube body (schema-version entry excluded) over
// the returned channel, closing it once exhausted or ctx is cancelled.
func (a *Adapter) Iter(ctx context.Context) (<-chan []byte, error) {
	a.mu.Lock()
	db := a.db
	a.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("%w: iter called before open", ErrIoError)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		iter := db.NewIterator(nil, nil)
		defer iter.Release()
		for iter.Next() {
			if string(iter.Key()) == string(schemaVersionKey) {
				continue
			}
			value := append([]byte(nil), iter.Value()...)
			select {
			case out <- value:
			case <-ctx.Done():
				return
			}
		}
		if err := iter.Error(); err != nil {
			a.logger.Error("iteration failed", "err", err)
		}
	}()
	return out, nil
}

// Close releases the underlying LevelDB handle.
func (a *Adapter) Close() error {
	a.mu.Lock()
	db := a.db
	a.db = nil
	a.ready = false
	a.mu.Unlock()
	if db == nil {
		return nil
	}
	return db.Close()
}
