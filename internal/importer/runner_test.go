package importer

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tigerroll/wpmigrate/internal/content"
	"github.com/tigerroll/wpmigrate/internal/destination"
	"github.com/tigerroll/wpmigrate/internal/destination/memory"
	"github.com/tigerroll/wpmigrate/internal/domain/model"
	"github.com/tigerroll/wpmigrate/internal/mapping"
	"github.com/tigerroll/wpmigrate/internal/phpserial"
	"github.com/tigerroll/wpmigrate/internal/source"
	"github.com/tigerroll/wpmigrate/internal/state"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

const (
	photoURL = "https://old.example.com/wp-content/uploads/2021/05/photo.jpg"
	newPhoto = "https://new.example.com/wp-content/uploads/2021/05/photo.jpg"
)

type staticSettings struct {
	mu sync.Mutex
	s  model.Settings
}

func (s *staticSettings) Get(context.Context) (model.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.s.Sanitize(), nil
}

func (s *staticSettings) set(fn func(*model.Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.s)
}

type harness struct {
	runner    *Runner
	settings  *staticSettings
	state     *state.RunStateManager
	lock      *state.MemoryLock
	mapping   *mapping.MemoryStore
	source    *source.MemoryRepository
	active    source.Repository
	dest      *memory.Repository
	transport *httpmock.MockTransport
	sink      *logger.Sink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		settings: &staticSettings{s: model.Settings{
			SourceSiteURL:      "https://old.example.com",
			DestinationSiteURL: "https://new.example.com",
			SourceTablePrefix:  "wp_",
			SourceScopeID:      1,
			PostsPerRun:        2,
			RunIntervalMinutes: 5,
			EnableLogging:      true,
			ImportScope: model.ImportScope{
				{PostType: "post", Taxonomies: []string{"category"}, Enabled: true},
				{PostType: "page", Enabled: true},
			},
		}},
		state:     state.NewRunStateManager(state.NewMemoryKVStore()),
		lock:      state.NewMemoryLock(),
		mapping:   mapping.NewMemoryStore(),
		source:    source.NewMemoryRepository(),
		dest:      memory.New("https://new.example.com/wp-content/uploads"),
		transport: httpmock.NewMockTransport(),
		sink:      logger.NewSink(filepath.Join(t.TempDir(), "wpmigrate.log"), true),
	}
	h.active = h.source
	h.transport.RegisterResponder(http.MethodGet, photoURL, httpmock.NewBytesResponder(http.StatusOK, []byte("jpeg")))

	h.source.AddPost(model.PostRow{ID: 55, PostType: "attachment", PostTitle: "Photo", PostStatus: "inherit"},
		model.MetaRow{MetaKey: "_wp_attached_file", MetaValue: "2021/05/photo.jpg"})
	h.source.AddUser(model.UserRow{ID: 7, UserLogin: "alice", UserEmail: "alice@example.com", DisplayName: "Alice"},
		model.MetaRow{MetaKey: "wp_capabilities", MetaValue: `a:1:{s:6:"editor";b:1;}`})

	h.runner = NewRunner(Deps{
		Settings: h.settings,
		State:    h.state,
		Lock:     h.lock,
		Mapping:  h.mapping,
		Sources: func(context.Context, model.Settings) (source.Repository, error) {
			return h.active, nil
		},
		Destination:     h.dest,
		Fields:          content.FieldTypeMap{"field_hero": "image", "field_gallery": "gallery"},
		Sink:            h.sink,
		Client:          &http.Client{Transport: h.transport},
		Sleep:           func(context.Context, time.Duration) error { return nil },
		Download:        DownloadOptions{TempDir: t.TempDir()},
		DefaultAuthorID: 1,
	})
	return h
}

func (h *harness) addPosts() {
	h.source.AddPost(model.PostRow{
		ID: 10, PostType: "post", PostTitle: "First", PostStatus: "publish", PostAuthor: 7,
		PostContent: `<img class="wp-image-55" src="` + photoURL + `">`,
	},
		model.MetaRow{MetaKey: "_thumbnail_id", MetaValue: "55"},
		model.MetaRow{MetaKey: "_edit_lock", MetaValue: "1600000000:1"},
		model.MetaRow{MetaKey: "_yoast_wpseo_title", MetaValue: "SEO"},
		model.MetaRow{MetaKey: "_wpml_language", MetaValue: "en"},
		model.MetaRow{MetaKey: "subtitle", MetaValue: "Hello"},
	)
	h.source.AddPost(model.PostRow{ID: 11, PostType: "post", PostTitle: "Second", PostStatus: "inherit", PostAuthor: 7})
	h.source.AddPost(model.PostRow{ID: 12, PostType: "post", PostTitle: "Third", PostStatus: "publish"})
	h.source.AddPost(model.PostRow{ID: 13, PostType: "page", PostTitle: "About", PostStatus: "publish"})

	h.source.AddTerms(10, model.TermRow{TermID: 3, Name: "News", Slug: "news", Taxonomy: "category"})
	h.source.AddTerms(11, model.TermRow{TermID: 3, Name: "News", Slug: "news", Taxonomy: "category"})
	h.source.AddTerms(12, model.TermRow{TermID: 4, Name: "Events", Slug: "events", Taxonomy: "category"})
}

func (h *harness) destID(t *testing.T, objectType model.ObjectType, sourceID uint64) uint64 {
	t.Helper()
	id, ok, err := h.mapping.Get(context.Background(), 1, objectType, sourceID)
	require.NoError(t, err)
	require.True(t, ok, "no %s mapping for %d", objectType, sourceID)
	return id
}

func (h *harness) meta(t *testing.T, postID uint64, key string) (string, bool) {
	t.Helper()
	v, ok, err := h.dest.GetMeta(context.Background(), postID, key)
	require.NoError(t, err)
	return v, ok
}

func (h *harness) logs(t *testing.T) string {
	t.Helper()
	out, err := h.sink.Tail(500)
	require.NoError(t, err)
	return out
}

func TestRunBatch_FreshImportAcrossBatches(t *testing.T) {
	h := newHarness(t)
	h.addPosts()
	ctx := context.Background()
	_, err := h.dest.InsertTerm(ctx, destination.Term{Name: "Events", Slug: "events", Taxonomy: "category"})
	require.NoError(t, err)

	first := h.runner.RunBatch(ctx)
	assert.True(t, first.Success)
	assert.Equal(t, model.OutcomeCompleted, first.Outcome)
	assert.Equal(t, 2, first.Processed)
	assert.Equal(t, 2, first.Stats.PostsImported)

	st, err := h.state.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), st.CursorFor("post"))
	assert.NotNil(t, st.LastRunAt)

	second := h.runner.RunBatch(ctx)
	assert.Equal(t, 1, second.Processed)
	third := h.runner.RunBatch(ctx)
	assert.Equal(t, 0, third.Processed)
	assert.Contains(t, third.Message, "nothing left")

	st, err = h.state.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), st.CursorFor("post"))
	assert.Equal(t, 3, st.Stats.PostsImported)
	assert.Len(t, h.dest.Posts("post"), 3)
	assert.Empty(t, h.dest.Posts("page"))

	post10 := h.destID(t, model.ObjectPost, 10)
	attachment := h.destID(t, model.ObjectAttachment, 55)
	author := h.destID(t, model.ObjectUser, 7)

	p, err := h.dest.GetPost(ctx, post10)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, author, p.Author)
	assert.Equal(t, "publish", p.Status)
	assert.Contains(t, p.Content, "wp-image-"+formatID(attachment))
	assert.Contains(t, p.Content, newPhoto)

	thumb, _ := h.meta(t, post10, "_thumbnail_id")
	assert.Equal(t, formatID(attachment), thumb)
	sourceID, _ := h.meta(t, post10, MetaSourceID)
	assert.Equal(t, "10", sourceID)
	subtitle, _ := h.meta(t, post10, "subtitle")
	assert.Equal(t, "Hello", subtitle)
	for _, key := range []string{"_edit_lock", "_yoast_wpseo_title", "_wpml_language"} {
		_, ok := h.meta(t, post10, key)
		assert.False(t, ok, key)
	}

	p11, err := h.dest.GetPost(ctx, h.destID(t, model.ObjectPost, 11))
	require.NoError(t, err)
	assert.Equal(t, "private", p11.Status)
	p12, err := h.dest.GetPost(ctx, h.destID(t, model.ObjectPost, 12))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p12.Author)

	news := h.destID(t, model.ObjectTerm, 3)
	assert.Equal(t, []uint64{news}, h.dest.PostTerms(post10, "category"))
	assert.Equal(t, []uint64{news}, h.dest.PostTerms(h.destID(t, model.ObjectPost, 11), "category"))
	assert.Equal(t, 2, h.dest.Terms())
	_, mapped, err := h.mapping.Get(ctx, 1, model.ObjectTerm, 4)
	require.NoError(t, err)
	assert.False(t, mapped, "terms reused by slug are not mapped")

	assert.Equal(t, 1, h.dest.Users())
	alice, err := h.dest.GetUserByLogin(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "editor", alice.Role)

	assert.Equal(t, 1, h.transport.GetTotalCallCount())
	assert.Contains(t, h.logs(t), "Imported post")
}

func TestRunBatch_RerunUpdatesWithoutDuplicates(t *testing.T) {
	h := newHarness(t)
	h.addPosts()
	h.settings.set(func(s *model.Settings) { s.PostsPerRun = 10 })
	ctx := context.Background()

	require.Equal(t, 3, h.runner.RunBatch(ctx).Stats.PostsImported)
	_, err := h.state.Update(ctx, func(st *model.RunState) { st.Cursor = map[string]uint64{} })
	require.NoError(t, err)

	again := h.runner.RunBatch(ctx)
	assert.Equal(t, 0, again.Stats.PostsImported)
	assert.Equal(t, 3, again.Stats.PostsUpdated)
	assert.Len(t, h.dest.Posts("post"), 3)
	assert.Len(t, h.dest.Attachments(), 1)
	assert.Equal(t, 1, h.dest.Users())
	assert.Equal(t, 2, h.dest.Terms())
	assert.Equal(t, 1, h.transport.GetTotalCallCount())
}

type stoppingSource struct {
	*source.MemoryRepository
	state *state.RunStateManager
	after uint64
}

func (s *stoppingSource) FetchMeta(ctx context.Context, postID uint64) ([]model.MetaRow, error) {
	if postID == s.after {
		if _, err := s.state.RequestStop(ctx); err != nil {
			return nil, err
		}
	}
	return s.MemoryRepository.FetchMeta(ctx, postID)
}

func TestRunBatch_StopMidBatchDiscardsProgress(t *testing.T) {
	h := newHarness(t)
	h.addPosts()
	h.settings.set(func(s *model.Settings) { s.PostsPerRun = 10 })
	h.active = &stoppingSource{MemoryRepository: h.source, state: h.state, after: 10}
	ctx := context.Background()
	_, err := h.state.MarkStart(ctx, []string{"post"})
	require.NoError(t, err)

	res := h.runner.RunBatch(ctx)
	assert.Equal(t, model.OutcomeAbortedStop, res.Outcome)
	assert.Equal(t, 1, res.Processed)

	st, err := h.state.Get(ctx)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.False(t, st.StopRequested)
	assert.Equal(t, uint64(0), st.CursorFor("post"))
	assert.Equal(t, model.Stats{}, st.Stats)
	assert.Len(t, h.dest.Posts("post"), 1)
	assert.Contains(t, h.logs(t), "Stop requested; batch aborted.")
}

func TestRunBatch_StopRequestedBeforeStart(t *testing.T) {
	h := newHarness(t)
	h.addPosts()
	ctx := context.Background()
	_, err := h.state.RequestStop(ctx)
	require.NoError(t, err)

	res := h.runner.RunBatch(ctx)
	assert.Equal(t, model.OutcomeAbortedStop, res.Outcome)
	assert.Empty(t, h.dest.Posts("post"))

	lease, err := h.lock.TryAcquire(ctx, time.Minute)
	require.NoError(t, err, "lock must be released on the abort path")
	require.NoError(t, lease.Release(ctx))
}

func TestRunBatch_DryRunHasNoSideEffects(t *testing.T) {
	h := newHarness(t)
	h.addPosts()
	h.settings.set(func(s *model.Settings) {
		s.DryRun = true
		s.PostsPerRun = 10
		s.PluginPowerPressOptionsEnabled = true
	})
	h.source.AddOption("powerpress_general", "https://old.example.com/feed/")
	ctx := context.Background()

	res := h.runner.RunBatch(ctx)
	assert.True(t, res.Success)
	assert.True(t, res.DryRun)
	assert.Equal(t, 3, res.Processed)
	assert.Contains(t, res.Message, "3 posts would be imported")

	assert.Empty(t, h.dest.Posts("post"))
	assert.Empty(t, h.dest.Attachments())
	assert.Empty(t, h.dest.Options())
	assert.Equal(t, 0, h.dest.Users())
	assert.Equal(t, 0, h.dest.Terms())
	assert.Equal(t, 0, h.mapping.Upserts)
	assert.Equal(t, 0, h.transport.GetTotalCallCount())

	st, err := h.state.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), st.CursorFor("post"))
	assert.Equal(t, model.Stats{}, st.Stats)
	assert.False(t, st.PluginImportDone(model.PluginImportPowerPress))

	logs := h.logs(t)
	assert.Contains(t, logs, "[DRY RUN] Would import post")
	assert.Contains(t, logs, "[DRY RUN] Would create user")
	assert.Contains(t, logs, "[DRY RUN] Would import attachment")
	assert.Contains(t, logs, "[DRY RUN] Would import plugin options")
}

func TestRunBatch_SkippedWhenLockHeld(t *testing.T) {
	h := newHarness(t)
	h.addPosts()
	ctx := context.Background()

	lease, err := h.lock.TryAcquire(ctx, time.Minute)
	require.NoError(t, err)
	res := h.runner.RunBatch(ctx)
	assert.Equal(t, model.OutcomeSkippedLocked, res.Outcome)
	assert.Equal(t, 0, res.Processed)
	assert.Empty(t, h.dest.Posts("post"))

	require.NoError(t, lease.Release(ctx))
	assert.Equal(t, model.OutcomeCompleted, h.runner.RunBatch(ctx).Outcome)
}

type blockingSource struct {
	*source.MemoryRepository
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSource) FetchPosts(ctx context.Context, postType string, afterID uint64, limit int) ([]model.PostRow, error) {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.MemoryRepository.FetchPosts(ctx, postType, afterID, limit)
}

func TestRunBatch_ConcurrentBatchesHaveOneHolder(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	h.addPosts()
	blocking := &blockingSource{MemoryRepository: h.source, entered: make(chan struct{}), release: make(chan struct{})}
	h.active = blocking
	ctx := context.Background()

	results := make(chan model.BatchResult, 1)
	go func() { results <- h.runner.RunBatch(ctx) }()
	<-blocking.entered

	second := h.runner.RunBatch(ctx)
	close(blocking.release)
	first := <-results

	assert.Equal(t, model.OutcomeSkippedLocked, second.Outcome)
	assert.Equal(t, model.OutcomeCompleted, first.Outcome)
	assert.Equal(t, 2, first.Processed)
}

func TestRunBatch_ConnectionErrorFailsBatch(t *testing.T) {
	h := newHarness(t)
	h.addPosts()
	h.source.Err = exception.NewConnectionError("source", errors.New("dial tcp 10.0.0.9:3306: connect: connection refused"))
	ctx := context.Background()

	res := h.runner.RunBatch(ctx)
	assert.False(t, res.Success)
	assert.Equal(t, model.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Message, "connection refused")

	st, err := h.state.Get(ctx)
	require.NoError(t, err)
	assert.Contains(t, st.LastError, "connection refused")
	assert.Equal(t, uint64(0), st.CursorFor("post"))
}

func TestRunBatch_RejectedRowIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.addPosts()
	h.dest.Fail["First"] = errors.New("destination rejected the write")
	ctx := context.Background()

	res := h.runner.RunBatch(ctx)
	assert.Equal(t, model.OutcomeCompleted, res.Outcome)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Stats.PostsSkipped)
	assert.Equal(t, 1, res.Stats.PostsImported)

	st, err := h.state.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), st.CursorFor("post"))
	assert.Contains(t, h.logs(t), "Failed to import post")
}

func TestRunBatch_PluginOptionsImportOnce(t *testing.T) {
	h := newHarness(t)
	h.settings.set(func(s *model.Settings) { s.PluginPowerPressOptionsEnabled = true })
	general, err := phpserial.Marshal(map[string]any{"feed_url": "https://old.example.com/feed/", "count": 3})
	require.NoError(t, err)
	h.source.AddOption("powerpress_general", general)
	h.source.AddOption("powerpress_logo", photoURL)
	h.source.AddOption("blogname", "Old")
	ctx := context.Background()

	require.True(t, h.runner.RunBatch(ctx).Success)

	opts := h.dest.Options()
	assert.Equal(t, newPhoto, opts["powerpress_logo"])
	assert.NotContains(t, opts, "blogname")
	decoded, err := phpserial.Unmarshal(opts["powerpress_general"])
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"feed_url": "https://new.example.com/feed/", "count": int64(3)}, decoded.(*phpserial.Array).Map())

	st, err := h.state.Get(ctx)
	require.NoError(t, err)
	assert.True(t, st.PluginImportDone(model.PluginImportPowerPress))
	assert.False(t, st.PluginImportDone(model.PluginImportACFTheme))
	assert.Equal(t, []string{"powerpress_general", "powerpress_logo"}, st.ImportedOptions[model.ImportedOptionsPowerPress])

	h.source.AddOption("powerpress_extra", "x")
	require.True(t, h.runner.RunBatch(ctx).Success)
	assert.NotContains(t, h.dest.Options(), "powerpress_extra")
}

func TestRunBatch_PluginOptionsKeepSerializedShape(t *testing.T) {
	h := newHarness(t)
	h.settings.set(func(s *model.Settings) { s.PluginPowerPressOptionsEnabled = true })
	h.source.AddOption("powerpress_feed", `O:8:"stdClass":1:{s:4:"name";s:3:"abc";}`)
	h.source.AddOption("powerpress_order", `a:2:{s:1:"b";i:1;s:1:"a";i:2;}`)
	h.source.AddOption("powerpress_site", `O:8:"stdClass":2:{s:4:"link";s:24:"https://old.example.com/";s:2:"id";i:4;}`)

	require.True(t, h.runner.RunBatch(context.Background()).Success)

	opts := h.dest.Options()
	assert.Equal(t, `O:8:"stdClass":1:{s:4:"name";s:3:"abc";}`, opts["powerpress_feed"])
	assert.Equal(t, `a:2:{s:1:"b";i:1;s:1:"a";i:2;}`, opts["powerpress_order"])
	assert.Equal(t, `O:8:"stdClass":2:{s:4:"link";s:24:"https://new.example.com/";s:2:"id";i:4;}`, opts["powerpress_site"])
}

func TestRunBatch_FieldPluginMeta(t *testing.T) {
	cases := []struct {
		name       string
		acfEnabled bool
	}{
		{name: "enabled", acfEnabled: true},
		{name: "disabled", acfEnabled: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.settings.set(func(s *model.Settings) { s.PluginACFEnabled = tc.acfEnabled })
			h.source.AddPost(model.PostRow{ID: 20, PostType: "post", PostTitle: "Hero", PostStatus: "publish"},
				model.MetaRow{MetaKey: "hero", MetaValue: "55"},
				model.MetaRow{MetaKey: "_hero", MetaValue: "field_hero"},
				model.MetaRow{MetaKey: "rating", MetaValue: "55"},
			)
			ctx := context.Background()
			require.True(t, h.runner.RunBatch(ctx).Success)

			post := h.destID(t, model.ObjectPost, 20)
			rating, _ := h.meta(t, post, "rating")
			assert.Equal(t, "55", rating, "numeric meta without a media hint is left alone")

			hero, ok := h.meta(t, post, "hero")
			_, refOK := h.meta(t, post, "_hero")
			if !tc.acfEnabled {
				assert.False(t, ok)
				assert.False(t, refOK)
				return
			}
			assert.True(t, refOK)
			assert.Equal(t, formatID(h.destID(t, model.ObjectAttachment, 55)), hero)
		})
	}
}

func TestImportSinglePost(t *testing.T) {
	h := newHarness(t)
	h.addPosts()
	ctx := context.Background()

	res := h.runner.ImportSinglePost(ctx, 11)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Stats.PostsImported)
	assert.Len(t, h.dest.Posts("post"), 1)

	st, err := h.state.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), st.CursorFor("post"))
	assert.Equal(t, 1, st.Stats.PostsImported)

	missing := h.runner.ImportSinglePost(ctx, 999)
	assert.False(t, missing.Success)
	assert.Contains(t, missing.Message, "not found")
}

func TestMetaPolicy(t *testing.T) {
	fields := IndexFieldKeys([]model.MetaRow{{MetaKey: "_hero", MetaValue: "field_abc"}, {MetaKey: "hero", MetaValue: "5"}})
	all := model.Settings{PluginYoastSEOEnabled: true, PluginPermalinkManagerEnabled: true, PluginACFEnabled: true, PluginHreflangEnabled: true}

	cases := []struct {
		key      string
		settings model.Settings
		want     bool
		reason   string
	}{
		{key: "_edit_lock", settings: all, reason: SkipInternal},
		{key: "_edit_last", settings: all, reason: SkipInternal},
		{key: "_thumbnail_id", settings: all, reason: SkipInternal},
		{key: "_yoast_wpseo_title", settings: model.Settings{}, reason: SkipSEODisabled},
		{key: "_yoast_wpseo_title", settings: all, want: true},
		{key: "_hreflang_map", settings: all, reason: SkipOutOfScope},
		{key: "_redirection_rule", settings: all, reason: SkipOutOfScope},
		{key: "wpml_language", settings: all, reason: SkipOutOfScope},
		{key: "custom_permalink", settings: model.Settings{}, reason: SkipPermalinkOff},
		{key: "custom_permalink", settings: all, want: true},
		{key: "hero", settings: model.Settings{}, reason: SkipFieldPluginOff},
		{key: "_hero", settings: model.Settings{}, reason: SkipFieldPluginOff},
		{key: "hero", settings: all, want: true},
		{key: "subtitle", settings: model.Settings{}, want: true},
	}
	for _, tc := range cases {
		got, reason := MetaPolicy(tc.key, tc.settings, fields)
		assert.Equal(t, tc.want, got, tc.key)
		assert.Equal(t, tc.reason, reason, tc.key)
	}
}

func TestNormalizeStatus(t *testing.T) {
	for _, s := range []string{"publish", "draft", "pending", "private", "future"} {
		assert.Equal(t, s, NormalizeStatus(s))
	}
	assert.Equal(t, "private", NormalizeStatus("inherit"))
	assert.Equal(t, "private", NormalizeStatus("wc-completed"))
}

func TestSourceRole(t *testing.T) {
	u := model.UserWithMeta{Meta: []model.MetaRow{{MetaKey: "wp_3_capabilities", MetaValue: `a:2:{s:11:"contributor";b:1;s:6:"editor";b:0;}`}}}
	assert.Equal(t, "contributor", sourceRole(u, capabilitiesKey(model.Settings{SourceTablePrefix: "wp_", SourceScopeID: 3})))
	assert.Equal(t, DefaultRole, sourceRole(u, "wp_capabilities"))
	ordered := model.UserWithMeta{Meta: []model.MetaRow{{MetaKey: "wp_capabilities", MetaValue: `a:2:{s:6:"editor";b:1;s:6:"author";b:1;}`}}}
	assert.Equal(t, "editor", sourceRole(ordered, "wp_capabilities"), "first granted role in stored order")
	assert.Equal(t, DefaultRole, sourceRole(model.UserWithMeta{Meta: []model.MetaRow{{MetaKey: "wp_capabilities", MetaValue: "garbage"}}}, "wp_capabilities"))
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func TestActivePostTypes(t *testing.T) {
	settings := model.Settings{ImportScope: model.ImportScope{
		{PostType: "post", Enabled: true},
		{PostType: "resource", Enabled: true},
		{PostType: "news-cpt", Enabled: false},
	}}
	assert.Equal(t, []string{"post", "resource"}, ActivePostTypes(settings, model.DefaultRunState()))
	assert.Equal(t, []string{"resource"}, ActivePostTypes(settings, model.RunState{ActivePostTypes: []string{"resource", "news-cpt"}}))
}
