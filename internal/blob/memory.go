package blob

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps objects in process. It backs local development
// (BLOB_DRIVER=memory) and tests, and honours the same preconditions as S3.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	baseURL string
}

type memoryObject struct {
	body        []byte
	etag        string
	contentType string
	modified    time.Time
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memoryObject),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	body := make([]byte, len(obj.body))
	copy(body, obj.body)
	return &Object{Key: key, Body: body, ETag: obj.etag, ContentType: obj.contentType}, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, body []byte, opts PutOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.objects[key]
	if opts.IfMatch != "" && (!exists || existing.etag != opts.IfMatch) {
		return "", fmt.Errorf("put %s: %w", key, ErrPreconditionFailed)
	}
	if opts.IfNoneMatch && exists {
		return "", fmt.Errorf("put %s: %w", key, ErrPreconditionFailed)
	}

	sum := md5.Sum(body)
	stored := make([]byte, len(body))
	copy(stored, body)
	obj := memoryObject{
		body:        stored,
		etag:        `"` + hex.EncodeToString(sum[:]) + `"`,
		contentType: opts.ContentType,
		modified:    time.Now(),
	}
	// Identical bodies keep distinct versions so check-and-set still detects rewrites.
	if exists && existing.etag == obj.etag {
		obj.etag = fmt.Sprintf(`"%s-%d"`, hex.EncodeToString(sum[:]), obj.modified.UnixNano())
	}
	m.objects[key] = obj
	return obj.etag, nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]ObjectInfo, 0)
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, ObjectInfo{
				Key:          key,
				Size:         int64(len(obj.body)),
				ETag:         obj.etag,
				LastModified: obj.modified,
			})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Delete is idempotent, like S3.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) URL(_ context.Context, key string) (string, error) {
	return m.baseURL + "/" + key, nil
}
