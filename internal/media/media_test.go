package media

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/wpmigrate/internal/destination/memory"
	"github.com/tigerroll/wpmigrate/internal/domain/model"
	"github.com/tigerroll/wpmigrate/internal/mapping"
	"github.com/tigerroll/wpmigrate/internal/source"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

const photoURL = "https://old.example.com/wp-content/uploads/2021/05/photo.jpg"

type fixture struct {
	importer  *Importer
	transport *httpmock.MockTransport
	mapping   *mapping.MemoryStore
	source    *source.MemoryRepository
	dest      *memory.Repository
	sink      *logger.Sink
	sleeps    []time.Duration
}

func newFixture(t *testing.T, dryRun bool) *fixture {
	t.Helper()
	f := &fixture{
		transport: httpmock.NewMockTransport(),
		mapping:   mapping.NewMemoryStore(),
		source:    source.NewMemoryRepository(),
		dest:      memory.New("https://new.example.com/wp-content/uploads"),
		sink:      logger.NewSink(filepath.Join(t.TempDir(), "wpmigrate.log"), true),
	}
	f.source.AddPost(model.PostRow{ID: 55, PostType: "attachment", PostTitle: "Photo", GUID: photoURL},
		model.MetaRow{MetaKey: "_wp_attached_file", MetaValue: "2021/05/photo.jpg"})

	f.importer = NewImporter(Deps{
		Mapping:     f.mapping,
		Source:      f.source,
		Destination: f.dest,
		Sink:        f.sink,
		Client:      &http.Client{Transport: f.transport},
		Sleep: func(_ context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		},
	}, Options{ScopeID: 1, SourceSiteURL: "https://old.example.com/", DryRun: dryRun, TempDir: t.TempDir()})
	return f
}

func (f *fixture) logs(t *testing.T) string {
	t.Helper()
	out, err := f.sink.Tail(100)
	require.NoError(t, err)
	return out
}

func TestImportByID_IsIdempotent(t *testing.T) {
	f := newFixture(t, false)
	f.transport.RegisterResponder(http.MethodGet, photoURL, httpmock.NewBytesResponder(http.StatusOK, []byte("jpeg-bytes")))
	ctx := context.Background()

	first, err := f.importer.ImportByID(ctx, 55)
	require.NoError(t, err)
	require.True(t, first.OK())
	assert.True(t, first.Created)

	second, err := f.importer.ImportByID(ctx, 55)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.False(t, second.Created)

	assert.Equal(t, 1, f.transport.GetTotalCallCount(), "network I/O happens once")
	assert.Equal(t, 1, f.mapping.Upserts)
	assert.Equal(t, 1, f.source.Calls[55], "mapped ids never reach the source")
	assert.Len(t, f.dest.Attachments(), 1)
	assert.Equal(t, "2021/05/photo.jpg", f.dest.Attachments()[first.ID].Key)

	v, ok, _ := f.dest.GetMeta(ctx, first.ID, MetaSourceAttachmentID)
	assert.True(t, ok)
	assert.Equal(t, "55", v)
	v, _, _ = f.dest.GetMeta(ctx, first.ID, MetaSourceAttachedFile)
	assert.Equal(t, "2021/05/photo.jpg", v)
	assert.Contains(t, f.logs(t), "Attachment already mapped")
}

func TestImportByID_DryRunHasNoSideEffects(t *testing.T) {
	f := newFixture(t, true)
	out, err := f.importer.ImportByID(context.Background(), 55)
	require.NoError(t, err)
	assert.False(t, out.OK())
	assert.True(t, out.DryRun)
	assert.Zero(t, f.transport.GetTotalCallCount())
	assert.Zero(t, f.mapping.Upserts)
	assert.Empty(t, f.dest.Attachments())
	assert.Contains(t, f.logs(t), "[DRY RUN] Would import attachment")
	assert.Contains(t, f.logs(t), `"source_url":"`+photoURL+`"`)
}

func TestImportByID_DownloadRetryExhaustion(t *testing.T) {
	f := newFixture(t, false)
	f.transport.RegisterResponder(http.MethodGet, photoURL, httpmock.NewErrorResponder(errors.New("connection reset by peer")))

	out, err := f.importer.ImportByID(context.Background(), 55)
	require.Error(t, err)
	assert.True(t, exception.IsDownloadError(err))
	assert.False(t, out.OK())
	assert.Equal(t, 3, f.transport.GetTotalCallCount())
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, f.sleeps)
	assert.Zero(t, f.mapping.Upserts)
	assert.Contains(t, f.logs(t), "Failed to download attachment")
}

func TestImportByID_Unresolvable(t *testing.T) {
	f := newFixture(t, false)
	f.source.AddPost(model.PostRow{ID: 77, PostType: "attachment", GUID: "https://old.example.com/?attachment_id=77"})

	_, err := f.importer.ImportByID(context.Background(), 77)
	assert.True(t, exception.IsErrorOfType(err, exception.AttachmentUnresolvableType))

	_, err = f.importer.ImportByID(context.Background(), 404)
	assert.True(t, exception.IsErrorOfType(err, exception.AttachmentUnresolvableType))
	assert.Contains(t, f.logs(t), "Attachment not found in source DB")
}

func TestImportRecord_GUIDFallbackAndURLKey(t *testing.T) {
	f := newFixture(t, false)
	url := "https://old.example.com/wp-content/uploads/2020/01/logo.png"
	f.transport.RegisterResponder(http.MethodGet, url, httpmock.NewBytesResponder(http.StatusOK, []byte("png")))
	ctx := context.Background()

	out, err := f.importer.ImportFromURL(ctx, url+"?ver=2")
	require.NoError(t, err)
	require.True(t, out.OK())

	id, ok, _ := f.mapping.Get(ctx, 1, model.ObjectAttachmentURL, PathHash("2020/01/logo.png"))
	assert.True(t, ok)
	assert.Equal(t, out.ID, id)

	again, err := f.importer.ImportFromURL(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, out.ID, again.ID)
	assert.Equal(t, 1, f.transport.GetTotalCallCount(), "url-only imports are reused through their path hash")
}

func TestImportFromURL_PrefersSourceAttachment(t *testing.T) {
	f := newFixture(t, false)
	f.transport.RegisterResponder(http.MethodGet, photoURL, httpmock.NewBytesResponder(http.StatusOK, []byte("jpeg")))
	out, err := f.importer.ImportFromURL(context.Background(), photoURL)
	require.NoError(t, err)
	id, ok, _ := f.mapping.Get(context.Background(), 1, model.ObjectAttachment, 55)
	assert.True(t, ok)
	assert.Equal(t, out.ID, id)
}

func TestDownloadWithRetry(t *testing.T) {
	noSleep := func(context.Context, time.Duration) error { return nil }

	t.Run("recovers after non-2xx and empty body", func(t *testing.T) {
		transport := httpmock.NewMockTransport()
		transport.RegisterResponder(http.MethodGet, photoURL,
			httpmock.NewStringResponder(http.StatusBadGateway, "bad gateway").
				Then(httpmock.NewBytesResponder(http.StatusOK, nil)).
				Then(httpmock.NewBytesResponder(http.StatusOK, []byte("data"))))

		var attempts []int
		path, err := DownloadWithRetry(context.Background(), &http.Client{Transport: transport}, photoURL, 3, 2*time.Second, DownloadOptions{
			TempDir:   t.TempDir(),
			Sleep:     noSleep,
			OnAttempt: func(attempt int, _ int64, _ error) { attempts = append(attempts, attempt) },
		})
		require.NoError(t, err)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "data", string(data))
		assert.Equal(t, []int{1, 2, 3}, attempts)
	})

	t.Run("returns the last error", func(t *testing.T) {
		transport := httpmock.NewMockTransport()
		transport.RegisterResponder(http.MethodGet, photoURL,
			httpmock.NewErrorResponder(errors.New("timeout")).
				Then(httpmock.NewStringResponder(http.StatusNotFound, "")))

		tempDir := t.TempDir()
		_, err := DownloadWithRetry(context.Background(), &http.Client{Transport: transport}, photoURL, 2, time.Second, DownloadOptions{TempDir: tempDir, Sleep: noSleep})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unexpected status 404")
		entries, _ := os.ReadDir(tempDir)
		assert.Empty(t, entries, "failed attempts leave no temp files")
	})
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "2021/05", Subdir("2021/05/photo.jpg"))
	assert.Equal(t, "", Subdir("photo.jpg"))
	assert.Equal(t, "2021/05/photo.jpg", FileFromURL(photoURL+"#x"))
	assert.Equal(t, "", FileFromURL("https://old.example.com/about"))
	assert.Equal(t, "2019/02/a.pdf", AttachedFile(model.PostRow{GUID: "http://x/wp-content/uploads/2019/02/a.pdf"}, nil))
}
