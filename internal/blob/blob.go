// Package blob stores the uploaded image bytes. Keys are slash-separated,
// bucketed by calendar month: "2026-10/k3j9x0a.png".
package blob

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

var (
	ErrNotExist = errors.New("blob does not exist")
	ErrExist    = errors.New("blob already exists")
	ErrBadKey   = errors.New("invalid blob key")
)

// Info describes a stored object.
type Info struct {
	Size        int64
	ContentType string
	ModTime     time.Time
}

// Object is an open blob. Disk objects also implement io.Seeker so they can
// be served with http.ServeContent.
type Object interface {
	io.ReadCloser
	Info() Info
}

type Store interface {
	// Put writes r under key. ErrExist if the key is taken.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Open returns the object or ErrNotExist.
	Open(ctx context.Context, key string) (Object, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes key. A missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// MonthKey builds the storage key for name in the bucket of the month t
// falls in (UTC).
func MonthKey(t time.Time, name string) string {
	return t.UTC().Format("2006-01") + "/" + name
}

// cleanKey rejects keys that would escape the store root.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return "", ErrBadKey
	}
	cleaned := path.Clean(key)
	if cleaned != key || cleaned == "." || strings.HasPrefix(cleaned, "../") || cleaned == ".." {
		return "", ErrBadKey
	}
	return cleaned, nil
}
