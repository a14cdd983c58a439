package persistence

import "errors"

// ErrSchemaMismatch is returned by Open when the on-disk schema version
// does not match the version this code expects. This is fatal: the caller
// must not proceed against a store it cannot interpret.
var ErrSchemaMismatch = errors.New("persistence: schema version mismatch")

// ErrIoError wraps an underlying storage-engine failure after retries have
// been exhausted.
var ErrIoError = errors.New("persistence: io error")
