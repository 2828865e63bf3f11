package source

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tigerroll/wpmigrate/internal/domain/model"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
)

func newMockReader(t *testing.T, prefix string, scopeID int) (*Reader, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return NewReader(func(context.Context) (*gorm.DB, error) { return db, nil }, prefix, scopeID), mock
}

func TestTableNames(t *testing.T) {
	single := TableNames("wp_", 1)
	assert.Equal(t, "wp_posts", single.Posts)
	assert.Equal(t, "wp_options", single.Options)

	scoped := TableNames("wp_", 3)
	assert.Equal(t, "wp_3_posts", scoped.Posts)
	assert.Equal(t, "wp_3_postmeta", scoped.PostMeta)
	assert.Equal(t, "wp_3_term_relationships", scoped.TermRelationships)
	assert.Equal(t, "wp_3_options", scoped.Options)
	assert.Equal(t, "wp_terms", scoped.Terms)
	assert.Equal(t, "wp_term_taxonomy", scoped.TermTaxonomy)
	assert.Equal(t, "wp_users", scoped.Users)
	assert.Equal(t, "wp_usermeta", scoped.UserMeta)
}

func TestReader_FetchPosts(t *testing.T) {
	r, mock := newMockReader(t, "wp_", 1)
	date := time.Date(2021, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM wp_posts WHERE post_type = ? AND ID > ? AND post_status NOT IN ('auto-draft','trash') ORDER BY ID ASC LIMIT ?")).
		WithArgs("news-cpt", 10, 1).
		WillReturnRows(sqlmock.NewRows([]string{"ID", "post_title", "post_type", "post_status", "post_date"}).
			AddRow(11, "Second", "news-cpt", "publish", date))

	rows, err := r.FetchPosts(context.Background(), "news-cpt", 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(11), rows[0].ID)
	assert.Equal(t, "Second", rows[0].PostTitle)
	assert.True(t, rows[0].PostDate.Equal(date))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_GetPostWithMeta(t *testing.T) {
	r, mock := newMockReader(t, "wp_", 2)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM wp_2_posts WHERE ID = ? LIMIT 1")).
		WithArgs(55).
		WillReturnRows(sqlmock.NewRows([]string{"ID", "post_type", "guid"}).AddRow(55, "attachment", "https://old.example.com/wp-content/uploads/2021/05/photo.jpg"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM wp_2_postmeta WHERE post_id = ?")).
		WithArgs(55).
		WillReturnRows(sqlmock.NewRows([]string{"meta_id", "object_id", "meta_key", "meta_value"}).
			AddRow(1, 55, "_wp_attached_file", "2021/05/photo.jpg"))

	post, err := r.GetPostWithMeta(context.Background(), 55)
	require.NoError(t, err)
	require.NotNil(t, post)
	file, ok := post.MetaValue("_wp_attached_file")
	assert.True(t, ok)
	assert.Equal(t, "2021/05/photo.jpg", file)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_GetPostWithMetaMissing(t *testing.T) {
	r, mock := newMockReader(t, "wp_", 1)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM wp_posts WHERE ID = ? LIMIT 1")).
		WithArgs(9).
		WillReturnRows(sqlmock.NewRows([]string{"ID"}))

	post, err := r.GetPostWithMeta(context.Background(), 9)
	require.NoError(t, err)
	assert.Nil(t, post)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_FindAttachmentIDByFile(t *testing.T) {
	r, mock := newMockReader(t, "wp_", 1)
	query := regexp.QuoteMeta("SELECT post_id FROM wp_postmeta WHERE meta_key = '_wp_attached_file' AND meta_value = ? LIMIT 1")
	mock.ExpectQuery(query).WithArgs("2021/05/photo.jpg").
		WillReturnRows(sqlmock.NewRows([]string{"post_id"}).AddRow(55))
	mock.ExpectQuery(query).WithArgs("missing.jpg").
		WillReturnRows(sqlmock.NewRows([]string{"post_id"}))

	id, ok, err := r.FindAttachmentIDByFile(context.Background(), "2021/05/photo.jpg")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(55), id)

	_, ok, err = r.FindAttachmentIDByFile(context.Background(), "missing.jpg")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_FetchTermsForPost(t *testing.T) {
	r, mock := newMockReader(t, "wp_", 1)

	rows, err := r.FetchTermsForPost(context.Background(), 10, nil)
	require.NoError(t, err)
	assert.Empty(t, rows, "no taxonomies means no query")

	mock.ExpectQuery(`FROM wp_term_relationships tr\s+INNER JOIN wp_term_taxonomy tt .*INNER JOIN wp_terms t .*WHERE tr.object_id = \? AND tt.taxonomy IN \(\?,\?\)`).
		WithArgs(10, "category", "post_tag").
		WillReturnRows(sqlmock.NewRows([]string{"term_id", "name", "slug", "term_taxonomy_id", "taxonomy"}).
			AddRow(3, "News", "news", 4, "category"))

	rows, err = r.FetchTermsForPost(context.Background(), 10, []string{"category", "post_tag"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "news", rows[0].Slug)
	assert.Equal(t, "category", rows[0].Taxonomy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_GetUserWithMeta(t *testing.T) {
	r, mock := newMockReader(t, "wp_", 4)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM wp_users WHERE ID = ? LIMIT 1")).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"ID", "user_login", "user_email"}).AddRow(7, "editor", "editor@example.com"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM wp_usermeta WHERE user_id = ?")).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"meta_id", "object_id", "meta_key", "meta_value"}).
			AddRow(1, 7, "wp_capabilities", `a:1:{s:6:"editor";b:1;}`))

	user, err := r.GetUserWithMeta(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "editor", user.User.UserLogin)
	caps, ok := user.MetaValue("wp_capabilities")
	assert.True(t, ok)
	assert.Contains(t, caps, "editor")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_FetchPluginOptionsEscapesWildcards(t *testing.T) {
	r, mock := newMockReader(t, "wp_", 1)
	mock.ExpectQuery(regexp.QuoteMeta("FROM wp_options WHERE option_name LIKE ?")).
		WithArgs(`powerpress\_%`).
		WillReturnRows(sqlmock.NewRows([]string{"option_id", "option_name", "option_value"}).
			AddRow(1, "powerpress_general", "a:0:{}"))

	rows, err := r.FetchPluginOptions(context.Background(), "powerpress_")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "powerpress_general", rows[0].OptionName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_TestConnection(t *testing.T) {
	r, mock := newMockReader(t, "wp_", 1)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM wp_posts")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(42))

	info, err := r.TestConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &model.ConnectionInfo{PostsTable: "wp_posts", PostCount: 42}, info)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_TestConnectionIgnoresScope(t *testing.T) {
	r, mock := newMockReader(t, "wp_", 3)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM wp_posts")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(7))

	info, err := r.TestConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wp_posts", info.PostsTable)
	assert.Equal(t, "wp_3_posts", r.Tables().Posts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_ConnectionErrors(t *testing.T) {
	t.Run("connector failure", func(t *testing.T) {
		r := NewReader(func(context.Context) (*gorm.DB, error) {
			return nil, errors.New("dial tcp 127.0.0.1:3306: connect: connection refused")
		}, "wp_", 1)
		_, err := r.TestConnection(context.Background())
		require.Error(t, err)
		assert.True(t, exception.IsConnectionError(err))
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("access denied", func(t *testing.T) {
		r, mock := newMockReader(t, "wp_", 1)
		mock.ExpectQuery("SELECT \\* FROM wp_posts").
			WillReturnError(&gomysql.MySQLError{Number: 1045, Message: "Access denied for user 'wp'"})
		_, err := r.FetchPosts(context.Background(), "post", 0, 5)
		require.Error(t, err)
		assert.True(t, exception.IsConnectionError(err))
		assert.Contains(t, err.Error(), "Access denied")
	})

	t.Run("row scoped failure", func(t *testing.T) {
		r, mock := newMockReader(t, "wp_", 1)
		mock.ExpectQuery("FROM wp_postmeta").WillReturnError(errors.New("malformed packet"))
		_, err := r.FetchMeta(context.Background(), 3)
		require.Error(t, err)
		assert.False(t, exception.IsConnectionError(err))
	})
}
