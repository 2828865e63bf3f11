// Package source is the read-only query layer over the legacy WordPress
// database.
package source

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/wpmigrate/internal/domain/model"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

const moduleName = "source"

// Repository is the read-only view of the source site used by the engine.
type Repository interface {
	FetchPosts(ctx context.Context, postType string, afterID uint64, limit int) ([]model.PostRow, error)
	FetchMeta(ctx context.Context, postID uint64) ([]model.MetaRow, error)
	// GetPostWithMeta returns nil when the post does not exist.
	GetPostWithMeta(ctx context.Context, id uint64) (*model.PostWithMeta, error)
	FindAttachmentIDByFile(ctx context.Context, attachedFile string) (uint64, bool, error)
	FetchTermsForPost(ctx context.Context, postID uint64, taxonomies []string) ([]model.TermRow, error)
	// GetUserWithMeta returns nil when the user does not exist.
	GetUserWithMeta(ctx context.Context, userID uint64) (*model.UserWithMeta, error)
	FetchPluginOptions(ctx context.Context, namePrefix string) ([]model.OptionRow, error)
	TestConnection(ctx context.Context) (*model.ConnectionInfo, error)
}

// Connector returns an open connection to the source database.
type Connector func(ctx context.Context) (*gorm.DB, error)

// Reader implements Repository with raw SQL through gorm.
type Reader struct {
	connect Connector
	prefix  string
	tables  Tables
}

// NewReader creates a Reader for the tables of prefix and scopeID.
func NewReader(connect Connector, prefix string, scopeID int) *Reader {
	if prefix == "" {
		prefix = "wp_"
	}
	return &Reader{connect: connect, prefix: prefix, tables: TableNames(prefix, scopeID)}
}

// Tables returns the table names the reader queries.
func (r *Reader) Tables() Tables {
	return r.tables
}

func (r *Reader) db(ctx context.Context) (*gorm.DB, error) {
	db, err := r.connect(ctx)
	if err != nil {
		if exception.IsConnectionError(err) {
			return nil, err
		}
		return nil, exception.NewConnectionError(moduleName, err)
	}
	return db.WithContext(ctx), nil
}

// FetchPosts returns up to limit posts of postType with ID above afterID in
// ascending ID order. Auto drafts and trashed posts are never returned.
func (r *Reader) FetchPosts(ctx context.Context, postType string, afterID uint64, limit int) ([]model.PostRow, error) {
	if limit < 1 {
		limit = 1
	}
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE post_type = ? AND ID > ? AND post_status NOT IN ('auto-draft','trash') ORDER BY ID ASC LIMIT ?", r.tables.Posts)
	var rows []model.PostRow
	if err := db.Raw(query, postType, afterID, limit).Scan(&rows).Error; err != nil {
		return nil, classify("fetch posts", err)
	}
	logger.Debugf("Fetched %d %s rows after ID %d.", len(rows), postType, afterID)
	return rows, nil
}

// FetchMeta returns all meta rows of postID in storage order.
func (r *Reader) FetchMeta(ctx context.Context, postID uint64) ([]model.MetaRow, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT meta_id, post_id AS object_id, meta_key, meta_value FROM %s WHERE post_id = ? ORDER BY meta_id ASC", r.tables.PostMeta)
	var rows []model.MetaRow
	if err := db.Raw(query, postID).Scan(&rows).Error; err != nil {
		return nil, classify("fetch post meta", err)
	}
	return rows, nil
}

// GetPostWithMeta implements Repository.
func (r *Reader) GetPostWithMeta(ctx context.Context, id uint64) (*model.PostWithMeta, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE ID = ? LIMIT 1", r.tables.Posts)
	var rows []model.PostRow
	if err := db.Raw(query, id).Scan(&rows).Error; err != nil {
		return nil, classify("get post", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	meta, err := r.FetchMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.PostWithMeta{Post: rows[0], Meta: meta}, nil
}

// FindAttachmentIDByFile looks up the attachment whose _wp_attached_file
// equals attachedFile.
func (r *Reader) FindAttachmentIDByFile(ctx context.Context, attachedFile string) (uint64, bool, error) {
	db, err := r.db(ctx)
	if err != nil {
		return 0, false, err
	}
	query := fmt.Sprintf("SELECT post_id FROM %s WHERE meta_key = '_wp_attached_file' AND meta_value = ? LIMIT 1", r.tables.PostMeta)
	var ids []uint64
	if err := db.Raw(query, attachedFile).Scan(&ids).Error; err != nil {
		return 0, false, classify("find attachment", err)
	}
	if len(ids) == 0 || ids[0] == 0 {
		return 0, false, nil
	}
	return ids[0], true, nil
}

// FetchTermsForPost returns the terms of postID within taxonomies.
func (r *Reader) FetchTermsForPost(ctx context.Context, postID uint64, taxonomies []string) ([]model.TermRow, error) {
	if len(taxonomies) == 0 {
		return nil, nil
	}
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT t.term_id, t.name, t.slug, tt.term_taxonomy_id, tt.taxonomy, tt.description, tt.parent
FROM %s tr
INNER JOIN %s tt ON tr.term_taxonomy_id = tt.term_taxonomy_id
INNER JOIN %s t ON t.term_id = tt.term_id
WHERE tr.object_id = ? AND tt.taxonomy IN ?
ORDER BY tr.term_order ASC, t.term_id ASC`, r.tables.TermRelationships, r.tables.TermTaxonomy, r.tables.Terms)
	var rows []model.TermRow
	if err := db.Raw(query, postID, taxonomies).Scan(&rows).Error; err != nil {
		return nil, classify("fetch terms", err)
	}
	return rows, nil
}

// GetUserWithMeta implements Repository.
func (r *Reader) GetUserWithMeta(ctx context.Context, userID uint64) (*model.UserWithMeta, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	var users []model.UserRow
	query := fmt.Sprintf("SELECT * FROM %s WHERE ID = ? LIMIT 1", r.tables.Users)
	if err := db.Raw(query, userID).Scan(&users).Error; err != nil {
		return nil, classify("get user", err)
	}
	if len(users) == 0 {
		return nil, nil
	}
	var meta []model.MetaRow
	query = fmt.Sprintf("SELECT umeta_id AS meta_id, user_id AS object_id, meta_key, meta_value FROM %s WHERE user_id = ? ORDER BY umeta_id ASC", r.tables.UserMeta)
	if err := db.Raw(query, userID).Scan(&meta).Error; err != nil {
		return nil, classify("get user meta", err)
	}
	return &model.UserWithMeta{User: users[0], Meta: meta}, nil
}

// FetchPluginOptions returns options whose name starts with namePrefix.
// LIKE wildcards in namePrefix are matched literally.
func (r *Reader) FetchPluginOptions(ctx context.Context, namePrefix string) ([]model.OptionRow, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT option_id, option_name, option_value, autoload FROM %s WHERE option_name LIKE ? ORDER BY option_id ASC", r.tables.Options)
	var rows []model.OptionRow
	if err := db.Raw(query, escapeLike(namePrefix)+"%").Scan(&rows).Error; err != nil {
		return nil, classify("fetch options", err)
	}
	return rows, nil
}

// TestConnection counts the rows of the main site's posts table. The scope
// id is ignored so the check works before a subsite is chosen.
func (r *Reader) TestConnection(ctx context.Context) (*model.ConnectionInfo, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	table := r.prefix + "posts"
	var count int64
	if err := db.Raw(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count).Error; err != nil {
		return nil, exception.NewConnectionError(moduleName, err)
	}
	return &model.ConnectionInfo{PostsTable: table, PostCount: count}, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// classify turns driver failures that mean the source is unreachable into
// connection errors; anything else is scoped to the object being read.
func classify(op string, err error) error {
	if isConnectionFailure(err) {
		return exception.NewConnectionError(moduleName, err)
	}
	return exception.NewBatchError(moduleName, fmt.Sprintf("failed to %s", op), err, true, false)
}

func isConnectionFailure(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1044, 1045, 1049, 1146, 2002, 2003, 2006, 2013:
			return true
		}
	}
	return false
}

var _ Repository = (*Reader)(nil)
