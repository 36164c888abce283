// Package blobstore keeps the original bytes of uploaded files.
package blobstore

import (
	"context"
	"io"
	"path"
	"strings"
)

// Store saves uploaded files and returns an opaque reference to them.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) (string, error)
	Delete(ctx context.Context, ref string) error
}

// Key builds the storage key of an uploaded file.
func Key(documentID, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return documentID + "/" + name
}
