// Package blob stores uploaded notebooks under owner-scoped keys.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("blob not found")

// Store persists raw documents. Put returns the storage path recorded on the
// analysis.
type Store interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// Key builds the object key {ownerID}/{unixMillis}-{filename}. Directory parts
// of filename are dropped.
func Key(ownerID, filename string, at time.Time) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/"))
	if name == "." || name == "/" || name == "" {
		name = "document.ipynb"
	}
	return fmt.Sprintf("%s/%d-%s", strings.TrimSpace(ownerID), at.UnixMilli(), name)
}

// cleanKey rejects keys that would escape the store's root.
func cleanKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("key is required")
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." || part == "" {
			return "", fmt.Errorf("invalid key %q", key)
		}
	}
	return key, nil
}
