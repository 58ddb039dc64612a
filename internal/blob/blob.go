// Package blob is the object storage used for gallery metadata and images.
package blob

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("blob: object not found")
	ErrPreconditionFailed = errors.New("blob: precondition failed")
)

type Object struct {
	Key         string
	Body        []byte
	ETag        string
	ContentType string
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// PutOptions carries the content type and the optional write precondition.
// IfMatch and IfNoneMatch are mutually exclusive.
type PutOptions struct {
	ContentType string
	IfMatch     string
	IfNoneMatch bool
}

type Store interface {
	Get(ctx context.Context, key string) (*Object, error)
	// Put returns the ETag of the stored object.
	Put(ctx context.Context, key string, body []byte, opts PutOptions) (string, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	// URL returns a URL the browser can load the object from.
	URL(ctx context.Context, key string) (string, error)
}
