package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omoideart/omoide-gallery/internal/blob"
	"github.com/omoideart/omoide-gallery/internal/gallery"
	"github.com/omoideart/omoide-gallery/internal/metrics"
)

type flakyStore struct {
	*blob.MemoryStore
	failDelete string
	failList   bool
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	if key == f.failDelete {
		return errors.New("access denied")
	}
	return f.MemoryStore.Delete(ctx, key)
}

func (f *flakyStore) List(ctx context.Context, prefix string) ([]blob.ObjectInfo, error) {
	if f.failList {
		return nil, errors.New("listing unavailable")
	}
	return f.MemoryStore.List(ctx, prefix)
}

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, blobs blob.Store, id string, created time.Time, purchased bool) {
	t.Helper()
	ctx := context.Background()

	meta := gallery.NewMetadata(id, gallery.DefaultInputs(), created, gallery.DefaultTTL)
	meta.Purchased = purchased
	body, err := json.Marshal(meta)
	require.NoError(t, err)

	_, err = blobs.Put(ctx, gallery.MetadataKey(id), body, blob.PutOptions{ContentType: "application/json"})
	require.NoError(t, err)
	for i := 1; i <= 2; i++ {
		_, err = blobs.Put(ctx, gallery.ImageKey(id, "web", i), []byte("img"), blob.PutOptions{})
		require.NoError(t, err)
	}
}

func newSweeper(t *testing.T, store blob.Store, jobs JobPurger) *Sweeper {
	t.Helper()
	s := NewSweeper(gallery.NewStore(store, 0, nil), jobs, metrics.New(), nil)
	s.now = func() time.Time { return now }
	return s
}

func TestSweepDeletesOnlyExpiredUnpurchased(t *testing.T) {
	ctx := context.Background()
	blobs := &flakyStore{MemoryStore: blob.NewMemoryStore("https://blob.test")}

	seed(t, blobs, "old", now.Add(-31*24*time.Hour), false)
	seed(t, blobs, "bought", now.Add(-90*24*time.Hour), true)
	seed(t, blobs, "fresh", now.Add(-24*time.Hour), false)
	_, err := blobs.Put(ctx, "galleries/stray.txt", []byte("x"), blob.PutOptions{})
	require.NoError(t, err)

	jobs := gallery.NewMemoryJobStore()
	_, err = jobs.AddJob(ctx, "req-old", "old", 1)
	require.NoError(t, err)
	_, err = jobs.AddJob(ctx, "req-fresh", "fresh", 1)
	require.NoError(t, err)

	report := newSweeper(t, blobs, jobs).Run(ctx)

	assert.True(t, report.Success)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 3, report.Deleted)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, report.Details, 1)
	assert.Equal(t, "old", report.Details[0].GalleryID)
	assert.Equal(t, "deleted", report.Details[0].Action)
	assert.Equal(t, 3, report.Details[0].FilesDeleted)
	assert.Equal(t, 1, report.Details[0].DaysExpired)
	assert.NotEmpty(t, report.Duration)

	left, err := blobs.List(ctx, gallery.Prefix("old"))
	require.NoError(t, err)
	assert.Empty(t, left)

	for _, id := range []string{"bought", "fresh"} {
		_, err := blobs.Get(ctx, gallery.MetadataKey(id))
		assert.NoError(t, err, id)
	}

	job, err := jobs.GetJob(ctx, "req-old")
	require.NoError(t, err)
	assert.Nil(t, job)
	job, err = jobs.GetJob(ctx, "req-fresh")
	require.NoError(t, err)
	assert.NotNil(t, job)
}

func TestSweepKeepsGalleriesWithoutExpiry(t *testing.T) {
	ctx := context.Background()
	blobs := &flakyStore{MemoryStore: blob.NewMemoryStore("https://blob.test")}

	docs := map[string]string{
		"legacy":     `{"id":"legacy","status":"complete","images":[],"purchased":false}`,
		"nullexpiry": `{"id":"nullexpiry","status":"complete","expiresAt":null,"purchased":false}`,
	}
	for id, doc := range docs {
		_, err := blobs.Put(ctx, gallery.MetadataKey(id), []byte(doc), blob.PutOptions{})
		require.NoError(t, err)
		_, err = blobs.Put(ctx, gallery.ImageKey(id, "web", 1), []byte("img"), blob.PutOptions{})
		require.NoError(t, err)
	}

	report := newSweeper(t, blobs, nil).Run(ctx)

	assert.True(t, report.Success)
	assert.Equal(t, 2, report.Scanned)
	assert.Zero(t, report.Processed)
	assert.Zero(t, report.Deleted)
	for id := range docs {
		_, err := blobs.Get(ctx, gallery.MetadataKey(id))
		assert.NoError(t, err, id)
		_, err = blobs.Get(ctx, gallery.ImageKey(id, "web", 1))
		assert.NoError(t, err, id)
	}
}

func TestSweepCountsDeleteFailures(t *testing.T) {
	ctx := context.Background()
	blobs := &flakyStore{MemoryStore: blob.NewMemoryStore("https://blob.test")}
	seed(t, blobs, "a", now.Add(-40*24*time.Hour), false)
	seed(t, blobs, "b", now.Add(-40*24*time.Hour), false)
	blobs.failDelete = gallery.ImageKey("a", "web", 1)

	report := newSweeper(t, blobs, nil).Run(ctx)

	assert.True(t, report.Success)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 4, report.Deleted)
	assert.Equal(t, 1, report.Failed)

	var partial Detail
	for _, d := range report.Details {
		if d.GalleryID == "a" {
			partial = d
		}
	}
	assert.Equal(t, "partial", partial.Action)
	assert.Equal(t, 1, partial.FilesFailed)
	assert.Equal(t, 1, partial.FilesDeleted)
	assert.Contains(t, partial.Errors[0], "access denied")
}

func TestSweepFinishesPartialDeleteOnNextRun(t *testing.T) {
	ctx := context.Background()
	blobs := &flakyStore{MemoryStore: blob.NewMemoryStore("https://blob.test")}
	seed(t, blobs, "old", now.Add(-40*24*time.Hour), false)
	jobs := gallery.NewMemoryJobStore()
	_, err := jobs.AddJob(ctx, "req-old", "old", 2)
	require.NoError(t, err)

	blobs.failDelete = gallery.ImageKey("old", "web", 2)
	first := newSweeper(t, blobs, jobs).Run(ctx)
	assert.Equal(t, 1, first.Processed)
	assert.Equal(t, 1, first.Failed)
	assert.Equal(t, "partial", first.Details[0].Action)

	_, err = blobs.Get(ctx, gallery.MetadataKey("old"))
	require.NoError(t, err, "metadata must outlive a partial delete")
	job, err := jobs.GetJob(ctx, "req-old")
	require.NoError(t, err)
	assert.NotNil(t, job)

	blobs.failDelete = ""
	second := newSweeper(t, blobs, jobs).Run(ctx)
	assert.Equal(t, 1, second.Processed)
	assert.Equal(t, 2, second.Deleted)
	assert.Zero(t, second.Failed)
	assert.Equal(t, "deleted", second.Details[0].Action)

	left, err := blobs.List(ctx, gallery.Prefix("old"))
	require.NoError(t, err)
	assert.Empty(t, left)
	job, err = jobs.GetJob(ctx, "req-old")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestSweepSkipsCorruptMetadata(t *testing.T) {
	ctx := context.Background()
	blobs := &flakyStore{MemoryStore: blob.NewMemoryStore("https://blob.test")}
	_, err := blobs.Put(ctx, gallery.MetadataKey("bad"), []byte("{not json"), blob.PutOptions{})
	require.NoError(t, err)

	report := newSweeper(t, blobs, nil).Run(ctx)
	assert.True(t, report.Success)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Processed)
	assert.Equal(t, "skipped", report.Details[0].Action)

	_, err = blobs.Get(ctx, gallery.MetadataKey("bad"))
	assert.NoError(t, err)
}

func TestSweepListingFailure(t *testing.T) {
	blobs := &flakyStore{MemoryStore: blob.NewMemoryStore("https://blob.test"), failList: true}

	report := newSweeper(t, blobs, nil).Run(context.Background())
	assert.False(t, report.Success)
	assert.Contains(t, report.Error, "listing unavailable")
	assert.Zero(t, report.Processed)
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	sweeper := newSweeper(t, blob.NewMemoryStore(""), nil)

	_, err := NewScheduler(sweeper, "not a schedule", nil)
	assert.Error(t, err)

	s, err := NewScheduler(sweeper, "", nil)
	require.NoError(t, err)
	s.Start()
	s.Stop(context.Background())
}
