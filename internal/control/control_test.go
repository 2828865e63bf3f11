package control

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/wpmigrate/internal/destination/memory"
	"github.com/tigerroll/wpmigrate/internal/domain/model"
	"github.com/tigerroll/wpmigrate/internal/importer"
	"github.com/tigerroll/wpmigrate/internal/mapping"
	"github.com/tigerroll/wpmigrate/internal/purge"
	"github.com/tigerroll/wpmigrate/internal/source"
	"github.com/tigerroll/wpmigrate/internal/state"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

type fixture struct {
	ctl     *Controller
	src     *source.MemoryRepository
	dest    *memory.Repository
	state   *state.RunStateManager
	mapping *mapping.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kv := state.NewMemoryKVStore()
	settings := state.NewConfigStore(kv, model.Settings{
		SourceSiteURL:      "https://old.example.com",
		SourceTablePrefix:  "wp_",
		PostsPerRun:        10,
		RunIntervalMinutes: 1,
		EnableLogging:      true,
		ImportScope: model.ImportScope{
			{PostType: "post", Taxonomies: []string{"category"}, Enabled: true},
			{PostType: "resource", Enabled: true},
			{PostType: "news-cpt", Enabled: false},
		},
	})
	f := &fixture{
		src:     source.NewMemoryRepository(),
		dest:    memory.New("https://new.example.com/wp-content/uploads"),
		state:   state.NewRunStateManager(kv),
		mapping: mapping.NewMemoryStore(),
	}
	sink := logger.NewSink(filepath.Join(t.TempDir(), "wpmigrate.log"), true)
	lock := state.NewMemoryLock()
	sources := source.StaticFactory(f.src)

	runner := importer.NewRunner(importer.Deps{
		Settings:    settings,
		State:       f.state,
		Lock:        lock,
		Mapping:     f.mapping,
		Sources:     sources,
		Destination: f.dest,
		Sink:        sink,
		Client:      &http.Client{Transport: httpmock.NewMockTransport()},
		Sleep:       func(context.Context, time.Duration) error { return nil },
		Download:    importer.DownloadOptions{TempDir: t.TempDir()},
	})
	purger := purge.NewPurger(purge.Deps{
		Mapping:      f.mapping,
		Destination:  f.dest,
		State:        f.state,
		Lock:         lock,
		Sink:         sink,
		ActingUserID: 1,
	})
	f.ctl = New(Deps{
		Settings: settings,
		State:    f.state,
		Runner:   runner,
		Purger:   purger,
		Sources:  sources,
		Mapping:  f.mapping,
		Sink:     sink,
	})
	return f
}

func TestController_StartAndStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.ctl.Start(ctx, []string{"news-cpt"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "not enabled")

	res = f.ctl.Start(ctx, nil)
	require.True(t, res.Success)
	st, err := f.state.Get(ctx)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, []string{"post", "resource"}, st.ActivePostTypes)

	res = f.ctl.Stop(ctx)
	require.True(t, res.Success)
	st, err = f.state.Get(ctx)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.True(t, st.StopRequested)

	batch := f.ctl.RunOneBatch(ctx)
	assert.Equal(t, model.OutcomeAbortedStop, batch.Outcome)
	st, err = f.state.Get(ctx)
	require.NoError(t, err)
	assert.False(t, st.StopRequested)

	tail, err := f.ctl.FetchLogTail(0)
	require.NoError(t, err)
	assert.Contains(t, tail, "Import started")
	assert.Contains(t, tail, "Stop requested")
}

func TestController_RunOneBatchAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.src.AddPost(model.PostRow{ID: 10, PostType: "post", PostTitle: "Hello", PostStatus: "publish"})
	f.src.AddPost(model.PostRow{ID: 11, PostType: "resource", PostTitle: "Guide", PostStatus: "publish"})
	require.True(t, f.ctl.Start(ctx, []string{"resource"}).Success)

	res := f.ctl.RunOneBatch(ctx)
	require.True(t, res.Success)
	assert.Equal(t, 1, res.Processed)
	assert.Empty(t, f.dest.Posts("post"))
	assert.Len(t, f.dest.Posts("resource"), 1)

	status, err := f.ctl.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.MappingCount)
	assert.Equal(t, uint64(11), status.State.CursorFor("resource"))
	assert.Equal(t, 10, status.Settings.PostsPerRun)

	single := f.ctl.ImportPost(ctx, 10)
	require.True(t, single.Success)
	assert.Len(t, f.dest.Posts("post"), 1)
}

func TestController_TestSourceConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.src.AddPost(model.PostRow{ID: 10, PostType: "post"})

	res := f.ctl.TestSourceConnection(ctx)
	assert.True(t, res.Success)
	assert.Equal(t, "Connection OK. wp_posts count: 1", res.Message)

	f.src.Err = exception.NewConnectionError("source", errors.New("Access denied for user 'wp'@'10.0.0.2'"))
	res = f.ctl.TestSourceConnection(ctx)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "Access denied")
	assert.Nil(t, res.Info)
}

func TestController_PurgeImported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.src.AddPost(model.PostRow{ID: 10, PostType: "post", PostTitle: "Hello", PostStatus: "publish"})
	require.True(t, f.ctl.RunOneBatch(ctx).Success)
	require.Len(t, f.dest.Posts("post"), 1)

	res := f.ctl.PurgeImported(ctx, 0, true)
	assert.True(t, res.Success)
	assert.True(t, res.Done)
	assert.Equal(t, 1, res.Deleted)
	assert.Empty(t, f.dest.Posts("post"))

	st, err := f.state.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), st.CursorFor("post"))
}
