// Package storage provides temporary file handling and object storage for
// uploaded videos and generated screenshots. It defines the Storage and
// ObjectStore interfaces (ports) and implementations for local disk, S3 and
// MinIO.
package storage

import (
	"context"
	"errors"
	"io"
)

// Static errors for storage operations.
var (
	// ErrObjectNotFound is returned when an object key does not exist.
	ErrObjectNotFound = errors.New("object not found")
	// ErrInvalidKey is returned when an object key is empty or escapes the store root.
	ErrInvalidKey = errors.New("invalid object key")
)

// Storage defines the interface for temporary file storage.
// Selected source files are kept here until their session ends.
type Storage interface {
	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error
}

// ObjectStore is the remote target uploads are transmitted to and
// screenshots are stored in.
type ObjectStore interface {
	// Put stores data under key and returns the object's URL.
	// size is the number of bytes in data, or -1 when unknown.
	Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) (url string, err error)

	// Open returns a reader for the object stored under key.
	// Returns ErrObjectNotFound if the key does not exist.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Download writes the object stored under key to destPath.
	Download(ctx context.Context, key, destPath string) error

	// Delete removes the objects stored under keys, ignoring missing ones.
	Delete(ctx context.Context, keys []string) error
}
