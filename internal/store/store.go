// Package store provides the object storage the dataset is written to.
// Keys are relative to the configured repository (bucket); the first key
// segment is the branch.
package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrObjectExists is returned by Put when the key is already taken.
	ErrObjectExists = errors.New("object already exists")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// ObjectStore is the contract both the S3 and in-memory stores satisfy.
type ObjectStore interface {
	// Put creates key. It never replaces an existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	// List returns every object whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// Open returns the store for backend: "s3" (the default) or "memory".
func Open(backend string, cfg S3Config) (ObjectStore, error) {
	switch backend {
	case "", "s3":
		s, err := NewS3Store(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", backend)
}
