package wpdb

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tigerroll/wpmigrate/internal/destination"
	"github.com/tigerroll/wpmigrate/internal/phpserial"
	"github.com/tigerroll/wpmigrate/pkg/batch/adapter/storage/local"
)

func newTestRepository(t *testing.T) (*Repository, *gorm.DB, string) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	tables := map[string]any{
		"wp_posts":              &wpPost{},
		"wp_postmeta":           &wpMeta{},
		"wp_terms":              &wpTerm{},
		"wp_term_taxonomy":      &wpTermTaxonomy{},
		"wp_term_relationships": &wpTermRelationship{},
		"wp_users":              &wpUser{},
		"wp_usermeta":           &wpUserMeta{},
		"wp_options":            &wpOption{},
	}
	for name, model := range tables {
		require.NoError(t, db.Table(name).AutoMigrate(model), name)
	}

	uploadsDir := t.TempDir()
	store, err := local.NewStore(uploadsDir)
	require.NoError(t, err)
	return New(db, "wp_", store, "https://new.example.com/wp-content/uploads"), db, uploadsDir
}

func TestRepository_PostLifecycle(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRepository(t)

	id, err := r.InsertPost(ctx, destination.Post{Title: "Hello", Content: "<p>x</p>", Status: "publish", Type: "news-cpt", Author: 3})
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := r.GetPost(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Hello", got.Title)

	got.Title = "Updated"
	got.Excerpt = ""
	require.NoError(t, r.UpdatePost(ctx, *got))
	got, _ = r.GetPost(ctx, id)
	assert.Equal(t, "Updated", got.Title)

	assert.ErrorIs(t, r.UpdatePost(ctx, destination.Post{ID: 999, Title: "x"}), destination.ErrNotFound)

	require.NoError(t, r.SetMeta(ctx, id, "_wpmigrate_source_id", "10"))
	require.NoError(t, r.SetMeta(ctx, id, "_wpmigrate_source_id", "11"))
	v, ok, err := r.GetMeta(ctx, id, "_wpmigrate_source_id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "11", v)

	require.NoError(t, r.DeletePost(ctx, id))
	got, err = r.GetPost(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
	_, ok, _ = r.GetMeta(ctx, id, "_wpmigrate_source_id")
	assert.False(t, ok)
	assert.ErrorIs(t, r.DeletePost(ctx, id), destination.ErrNotFound)
}

func TestRepository_Terms(t *testing.T) {
	ctx := context.Background()
	r, db, _ := newTestRepository(t)

	postID, err := r.InsertPost(ctx, destination.Post{Title: "P", Type: "post", Status: "publish"})
	require.NoError(t, err)
	newsID, err := r.InsertTerm(ctx, destination.Term{Name: "News", Slug: "news", Taxonomy: "category"})
	require.NoError(t, err)
	eventsID, err := r.InsertTerm(ctx, destination.Term{Name: "Events", Slug: "events", Taxonomy: "category"})
	require.NoError(t, err)

	found, err := r.FindTermBySlug(ctx, "category", "news")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, newsID, found.ID)
	missing, err := r.FindTermBySlug(ctx, "post_tag", "news")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, r.SetPostTerms(ctx, postID, "category", []uint64{newsID, eventsID}))
	require.NoError(t, r.SetPostTerms(ctx, postID, "category", []uint64{eventsID}))

	var rels []wpTermRelationship
	require.NoError(t, db.Table("wp_term_relationships").Find(&rels).Error)
	require.Len(t, rels, 1)

	var counts []wpTermTaxonomy
	require.NoError(t, db.Table("wp_term_taxonomy").Order("term_id ASC").Find(&counts).Error)
	require.Len(t, counts, 2)
	assert.EqualValues(t, 0, counts[0].Count)
	assert.EqualValues(t, 1, counts[1].Count)

	require.NoError(t, r.DeleteTerm(ctx, eventsID))
	require.NoError(t, db.Table("wp_term_relationships").Find(&rels).Error)
	assert.Empty(t, rels)
	assert.ErrorIs(t, r.DeleteTerm(ctx, eventsID), destination.ErrNotFound)
}

func TestRepository_Attachments(t *testing.T) {
	ctx := context.Background()
	r, _, uploadsDir := newTestRepository(t)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 3))))
	writeTemp := func() string {
		p := filepath.Join(t.TempDir(), "download.tmp")
		require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
		return p
	}

	tmp := writeTemp()
	id, err := r.CreateAttachment(ctx, destination.AttachmentFile{LocalPath: tmp, FileName: "photo.png", Subdir: "2021/05", Title: "Photo"})
	require.NoError(t, err)
	assert.NoFileExists(t, tmp, "temporary download is consumed")
	assert.FileExists(t, filepath.Join(uploadsDir, "2021", "05", "photo.png"))

	url, err := r.AttachmentURL(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "https://new.example.com/wp-content/uploads/2021/05/photo.png", url)

	raw, ok, err := r.GetMeta(ctx, id, "_wp_attachment_metadata")
	require.NoError(t, err)
	require.True(t, ok)
	meta, err := phpserial.Unmarshal(raw)
	require.NoError(t, err)
	fields := meta.(*phpserial.Array).Map()
	assert.Equal(t, int64(4), fields["width"])
	assert.Equal(t, int64(3), fields["height"])

	post, err := r.GetPost(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "attachment", post.Type)
	assert.Equal(t, "image/png", post.MimeType)

	second, err := r.CreateAttachment(ctx, destination.AttachmentFile{LocalPath: writeTemp(), FileName: "photo.png", Subdir: "2021/05"})
	require.NoError(t, err)
	url, _ = r.AttachmentURL(ctx, second)
	assert.Equal(t, "https://new.example.com/wp-content/uploads/2021/05/photo-1.png", url, "existing uploads are never overwritten")

	require.NoError(t, r.DeleteAttachment(ctx, id))
	assert.NoFileExists(t, filepath.Join(uploadsDir, "2021", "05", "photo.png"))
	assert.ErrorIs(t, r.DeleteAttachment(ctx, id), destination.ErrNotFound)
}

func TestRepository_Users(t *testing.T) {
	ctx := context.Background()
	r, db, _ := newTestRepository(t)

	id, err := r.InsertUser(ctx, destination.User{Login: "editor", Email: "editor@example.com", DisplayName: "Ed", Role: "editor", Password: "s3cret"})
	require.NoError(t, err)

	byLogin, err := r.GetUserByLogin(ctx, "editor")
	require.NoError(t, err)
	require.NotNil(t, byLogin)
	assert.Equal(t, id, byLogin.ID)
	byEmail, err := r.GetUserByEmail(ctx, "editor@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, byEmail.ID)
	none, err := r.GetUserByEmail(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, none)

	var stored wpUser
	require.NoError(t, db.Table("wp_users").Where("ID = ?", id).Take(&stored).Error)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.UserPass), []byte("s3cret")))

	var caps wpUserMeta
	require.NoError(t, db.Table("wp_usermeta").Where("user_id = ? AND meta_key = ?", id, "wp_capabilities").Take(&caps).Error)
	assert.Equal(t, `a:1:{s:6:"editor";b:1;}`, caps.MetaValue)

	postID, err := r.InsertPost(ctx, destination.Post{Title: "Owned", Type: "post", Author: id})
	require.NoError(t, err)
	require.NoError(t, r.DeleteUser(ctx, id, 1))
	post, _ := r.GetPost(ctx, postID)
	assert.Equal(t, uint64(1), post.Author)
	gone, _ := r.GetUser(ctx, id)
	assert.Nil(t, gone)
}

func TestRepository_Options(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRepository(t)

	_, ok, err := r.GetOption(ctx, "powerpress_general")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.SetOption(ctx, "powerpress_general", "a"))
	require.NoError(t, r.SetOption(ctx, "powerpress_general", "b"))
	v, ok, err := r.GetOption(ctx, "powerpress_general")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestRepository_FieldType(t *testing.T) {
	ctx := context.Background()
	r, db, _ := newTestRepository(t)

	def, err := phpserial.Marshal(map[string]any{"type": "image", "return_format": "id"})
	require.NoError(t, err)
	require.NoError(t, db.Table("wp_posts").Create(&wpPost{PostType: "acf-field", PostName: "field_hero", PostContent: def}).Error)

	fieldType, ok := r.FieldType(ctx, "field_hero")
	assert.True(t, ok)
	assert.Equal(t, "image", fieldType)

	_, ok = r.FieldType(ctx, "field_missing")
	assert.False(t, ok)

	require.NoError(t, db.Table("wp_posts").Where("post_name = ?", "field_hero").Delete(&wpPost{}).Error)
	fieldType, ok = r.FieldType(ctx, "field_hero")
	assert.True(t, ok, "definitions are cached")
	assert.Equal(t, "image", fieldType)
}
