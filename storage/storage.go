// Package storage provides the key/value JSON persistence primitive used by
// the watermark and checkpoint stores. Keys are slash-separated paths; the
// backend decides where they live (local filesystem or S3-compatible object
// storage).
package storage

import "context"

// Store is the persistence contract injected into state stores.
//
// LoadJSON reports found=false when no document exists at the key. Backends
// must not treat a missing document as an error; the stores degrade to a
// fresh state in that case.
type Store interface {
	// LoadJSON reads the document at key into v.
	LoadJSON(ctx context.Context, key string, v any) (found bool, err error)

	// SaveJSON writes v as JSON at key, replacing any existing document.
	SaveJSON(ctx context.Context, key string, v any) error

	// Delete removes the document at key. Returns false if nothing existed.
	Delete(ctx context.Context, key string) (bool, error)

	// List returns all keys under prefix that end with suffix.
	// An empty suffix matches every key.
	List(ctx context.Context, prefix, suffix string) ([]string, error)
}
