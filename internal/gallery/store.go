package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/omoideart/omoide-gallery/internal/blob"
)

const (
	// RootPrefix holds every gallery's objects.
	RootPrefix       = "galleries/"
	metadataFile     = "metadata.json"
	maxWriteAttempts = 5
)

// MetadataKey is the blob key of a gallery's metadata document.
func MetadataKey(id string) string {
	return Prefix(id) + metadataFile
}

// Prefix is the blob prefix that owns all of a gallery's objects.
func Prefix(id string) string {
	return RootPrefix + id + "/"
}

// ImageKey names a stored image, e.g. galleries/{id}/web-2.jpg.
func ImageKey(id, kind string, index int) string {
	return fmt.Sprintf("%s%s-%d.jpg", Prefix(id), kind, index)
}

// IDFromMetadataKey reverses MetadataKey. ok is false for other keys.
func IDFromMetadataKey(key string) (string, bool) {
	if !strings.HasPrefix(key, RootPrefix) || !strings.HasSuffix(key, "/"+metadataFile) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(key, RootPrefix), "/"+metadataFile)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// Store keeps gallery metadata in blob storage. Every write is a
// check-and-set on the object's ETag, so concurrent slot updates retry
// instead of clobbering each other.
type Store struct {
	blobs blob.Store
	ttl   time.Duration
	log   *zap.SugaredLogger
	now   func() time.Time
}

// NewStore creates a gallery store on top of a blob store.
func NewStore(blobs blob.Store, ttl time.Duration, logger *zap.SugaredLogger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{
		blobs: blobs,
		ttl:   ttl,
		log:   logger,
		now:   time.Now,
	}
}

// Blobs exposes the underlying blob store for image objects.
func (s *Store) Blobs() blob.Store {
	return s.blobs
}

// Create writes a fresh all-pending gallery. If the gallery already exists
// the stored document is returned unchanged.
func (s *Store) Create(ctx context.Context, id string, inputs UserInputs) (*Metadata, error) {
	meta := NewMetadata(id, inputs, s.now(), s.ttl)
	body, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.blobs.Put(ctx, MetadataKey(id), body, blob.PutOptions{
		ContentType: "application/json",
		IfNoneMatch: true,
	})
	if errors.Is(err, blob.ErrPreconditionFailed) {
		s.log.Infof("📁 Gallery %s already exists, reusing metadata", id)
		return s.Get(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("create gallery %s: %w", id, err)
	}

	s.log.Infof("📁 Created gallery %s (expires %s)", id, meta.ExpiresAt.Format(time.RFC3339))
	return meta, nil
}

// Get loads a gallery. Missing galleries return ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Metadata, error) {
	meta, _, err := s.load(ctx, MetadataKey(id))
	return meta, err
}

// GetByKey loads a gallery from its metadata key.
func (s *Store) GetByKey(ctx context.Context, key string) (*Metadata, error) {
	meta, _, err := s.load(ctx, key)
	return meta, err
}

func (s *Store) load(ctx context.Context, key string) (*Metadata, string, error) {
	obj, err := s.blobs.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, "", fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, "", err
	}

	var meta Metadata
	if err := json.Unmarshal(obj.Body, &meta); err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", key, err)
	}
	meta.normalizeSlots()
	return &meta, obj.ETag, nil
}

// Update runs fn against the current document and writes the result only if
// nobody else wrote in between. On a lost race it re-reads and tries again,
// giving up with ErrConflict after a few attempts. fn errors abort the update.
func (s *Store) Update(ctx context.Context, id string, fn func(*Metadata) error) (*Metadata, error) {
	key := MetadataKey(id)

	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		meta, etag, err := s.load(ctx, key)
		if err != nil {
			return nil, err
		}

		if err := fn(meta); err != nil {
			return nil, err
		}

		body, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}

		_, err = s.blobs.Put(ctx, key, body, blob.PutOptions{
			ContentType: "application/json",
			IfMatch:     etag,
		})
		if err == nil {
			return meta, nil
		}
		if !errors.Is(err, blob.ErrPreconditionFailed) {
			return nil, fmt.Errorf("write gallery %s: %w", id, err)
		}

		s.log.Warnf("⚠️  Gallery %s changed during update (attempt %d/%d), retrying", id, attempt, maxWriteAttempts)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt*attempt) * 10 * time.Millisecond):
		}
	}

	return nil, fmt.Errorf("gallery %s: %w", id, ErrConflict)
}

// ApplyImageUpdate applies one slot result through the aggregator.
func (s *Store) ApplyImageUpdate(ctx context.Context, id string, u ImageUpdate) (*Metadata, error) {
	return s.Update(ctx, id, func(m *Metadata) error {
		return m.ApplyUpdate(u)
	})
}

// SetStatus overrides the overall status, e.g. to mark a gallery failed when
// generation could not start.
func (s *Store) SetStatus(ctx context.Context, id string, status Status) (*Metadata, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.Update(ctx, id, func(m *Metadata) error {
		m.Status = status
		return nil
	})
}

// MarkPurchased exempts a gallery from expiry.
func (s *Store) MarkPurchased(ctx context.Context, id string) (*Metadata, error) {
	return s.Update(ctx, id, func(m *Metadata) error {
		m.Purchased = true
		return nil
	})
}

// RecordView increments the view counter.
func (s *Store) RecordView(ctx context.Context, id string) (*Metadata, error) {
	return s.Update(ctx, id, func(m *Metadata) error {
		m.ViewCount++
		return nil
	})
}

// ListMetadataKeys returns every gallery metadata key in the bucket.
func (s *Store) ListMetadataKeys(ctx context.Context) ([]string, error) {
	objects, err := s.blobs.List(ctx, RootPrefix)
	if err != nil {
		return nil, fmt.Errorf("list galleries: %w", err)
	}

	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		if _, ok := IDFromMetadataKey(obj.Key); ok {
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}

// DeleteResult counts the objects removed for one gallery. Complete is
// true once the metadata document is gone too.
type DeleteResult struct {
	Deleted  int      `json:"deleted"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
	Complete bool     `json:"complete"`
}

// Delete removes every object under the gallery prefix. Individual delete
// failures are counted and do not stop the remaining deletes. The metadata
// document goes last and only when everything else is gone, so a gallery
// that was partly deleted is still found and finished by the next sweep.
func (s *Store) Delete(ctx context.Context, id string) (DeleteResult, error) {
	var result DeleteResult

	objects, err := s.blobs.List(ctx, Prefix(id))
	if err != nil {
		return result, fmt.Errorf("list gallery %s: %w", id, err)
	}

	metaKey := MetadataKey(id)
	hasMeta := false
	for _, obj := range objects {
		if obj.Key == metaKey {
			hasMeta = true
			continue
		}
		s.deleteObject(ctx, obj.Key, &result)
	}

	if result.Failed > 0 {
		s.log.Warnf("⚠️  Keeping metadata of gallery %s until %d objects are removed", id, result.Failed)
		return result, nil
	}
	if hasMeta {
		s.deleteObject(ctx, metaKey, &result)
	}
	result.Complete = result.Failed == 0
	return result, nil
}

func (s *Store) deleteObject(ctx context.Context, key string, result *DeleteResult) {
	if err := s.blobs.Delete(ctx, key); err != nil {
		result.Failed++
		result.Errors = append(result.Errors, err.Error())
		s.log.Errorf("❌ Failed to delete %s: %v", key, err)
		return
	}
	result.Deleted++
}
