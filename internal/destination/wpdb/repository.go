// Package wpdb writes migrated content straight into a WordPress database
// and its uploads directory.
package wpdb

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tigerroll/wpmigrate/internal/destination"
	"github.com/tigerroll/wpmigrate/internal/phpserial"
	"github.com/tigerroll/wpmigrate/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

const moduleName = "destination"

// Role levels written to <prefix>user_level for legacy author lookups.
var userLevels = map[string]int{
	"administrator": 10,
	"editor":        7,
	"author":        2,
	"contributor":   1,
	"subscriber":    0,
}

// Repository implements destination.Repository against WordPress tables.
type Repository struct {
	db         *gorm.DB
	prefix     string
	uploads    *local.Store
	uploadsURL string
	now        func() time.Time
	fieldTypes *cache.Cache
}

// New creates a Repository. uploads is rooted at the wp-content/uploads
// directory whose public URL is uploadsURL.
func New(db *gorm.DB, prefix string, uploads *local.Store, uploadsURL string) *Repository {
	if prefix == "" {
		prefix = "wp_"
	}
	return &Repository{
		db:         db,
		prefix:     prefix,
		uploads:    uploads,
		uploadsURL: strings.TrimRight(uploadsURL, "/") + "/",
		now:        time.Now,
		fieldTypes: cache.New(10*time.Minute, 0),
	}
}

func (r *Repository) table(name string) string { return r.prefix + name }

func (r *Repository) posts(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Table(r.table("posts"))
}

func (r *Repository) postmeta(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Table(r.table("postmeta"))
}

func writeErr(op string, err error) error {
	return exception.NewBatchError(moduleName, op, err, true, false)
}

func toRow(p destination.Post) wpPost {
	return wpPost{
		ID:              p.ID,
		PostAuthor:      p.Author,
		PostDate:        p.Date,
		PostDateGMT:     p.DateGMT,
		PostContent:     p.Content,
		PostTitle:       p.Title,
		PostExcerpt:     p.Excerpt,
		PostStatus:      p.Status,
		CommentStatus:   p.CommentStatus,
		PingStatus:      p.PingStatus,
		PostName:        p.Name,
		PostModified:    p.Modified,
		PostModifiedGMT: p.ModifiedGMT,
		PostParent:      p.Parent,
		GUID:            p.GUID,
		MenuOrder:       p.MenuOrder,
		PostType:        p.Type,
		PostMimeType:    p.MimeType,
	}
}

func fromRow(row wpPost) *destination.Post {
	return &destination.Post{
		ID:            row.ID,
		Author:        row.PostAuthor,
		Date:          row.PostDate,
		DateGMT:       row.PostDateGMT,
		Modified:      row.PostModified,
		ModifiedGMT:   row.PostModifiedGMT,
		Content:       row.PostContent,
		Title:         row.PostTitle,
		Excerpt:       row.PostExcerpt,
		Status:        row.PostStatus,
		CommentStatus: row.CommentStatus,
		PingStatus:    row.PingStatus,
		Name:          row.PostName,
		Parent:        row.PostParent,
		MenuOrder:     row.MenuOrder,
		Type:          row.PostType,
		MimeType:      row.PostMimeType,
		GUID:          row.GUID,
	}
}

// GetPost implements destination.Repository.
func (r *Repository) GetPost(ctx context.Context, id uint64) (*destination.Post, error) {
	var row wpPost
	err := r.posts(ctx).Where("ID = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to read post", err, true, false)
	}
	return fromRow(row), nil
}

// InsertPost implements destination.Repository.
func (r *Repository) InsertPost(ctx context.Context, p destination.Post) (uint64, error) {
	row := toRow(p)
	row.ID = 0
	if err := r.posts(ctx).Create(&row).Error; err != nil {
		return 0, writeErr("failed to insert post", err)
	}
	return row.ID, nil
}

// UpdatePost implements destination.Repository. Every copied column is
// written, including empty values.
func (r *Repository) UpdatePost(ctx context.Context, p destination.Post) error {
	row := toRow(p)
	res := r.posts(ctx).Where("ID = ?", p.ID).Select("*").Omit("ID", "to_ping", "pinged", "post_content_filtered", "post_password", "comment_count").Updates(&row)
	if res.Error != nil {
		return writeErr("failed to update post", res.Error)
	}
	if res.RowsAffected == 0 {
		exists, err := r.GetPost(ctx, p.ID)
		if err != nil {
			return err
		}
		if exists == nil {
			return destination.ErrNotFound
		}
	}
	return nil
}

// DeletePost implements destination.Repository.
func (r *Repository) DeletePost(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Table(r.table("posts")).Where("ID = ?", id).Delete(&wpPost{})
		if res.Error != nil {
			return writeErr("failed to delete post", res.Error)
		}
		if res.RowsAffected == 0 {
			return destination.ErrNotFound
		}
		if err := tx.Table(r.table("postmeta")).Where("post_id = ?", id).Delete(&wpMeta{}).Error; err != nil {
			return writeErr("failed to delete post meta", err)
		}
		var ttIDs []uint64
		if err := tx.Table(r.table("term_relationships")).Where("object_id = ?", id).Pluck("term_taxonomy_id", &ttIDs).Error; err != nil {
			return writeErr("failed to read term relationships", err)
		}
		if err := tx.Table(r.table("term_relationships")).Where("object_id = ?", id).Delete(&wpTermRelationship{}).Error; err != nil {
			return writeErr("failed to delete term relationships", err)
		}
		return r.recount(tx, ttIDs)
	})
}

// GetMeta implements destination.Repository.
func (r *Repository) GetMeta(ctx context.Context, objectID uint64, key string) (string, bool, error) {
	var rows []wpMeta
	if err := r.postmeta(ctx).Where("post_id = ? AND meta_key = ?", objectID, key).Order("meta_id ASC").Limit(1).Find(&rows).Error; err != nil {
		return "", false, exception.NewBatchError(moduleName, "failed to read meta", err, true, false)
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return rows[0].MetaValue, true, nil
}

// SetMeta implements destination.Repository. Existing values for key are
// overwritten.
func (r *Repository) SetMeta(ctx context.Context, objectID uint64, key, value string) error {
	return setMeta(r.postmeta(ctx), "post_id", objectID, key, value, func() any {
		return &wpMeta{PostID: objectID, MetaKey: key, MetaValue: value}
	})
}

func setMeta(q *gorm.DB, idColumn string, objectID uint64, key, value string, newRow func() any) error {
	res := q.Session(&gorm.Session{}).Where(idColumn+" = ? AND meta_key = ?", objectID, key).Update("meta_value", value)
	if res.Error != nil {
		return writeErr("failed to update meta", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// Some drivers report zero affected rows when the value is unchanged.
	var n int64
	if err := q.Session(&gorm.Session{}).Where(idColumn+" = ? AND meta_key = ?", objectID, key).Count(&n).Error; err != nil {
		return writeErr("failed to read meta", err)
	}
	if n > 0 {
		return nil
	}
	if err := q.Session(&gorm.Session{}).Create(newRow()).Error; err != nil {
		return writeErr("failed to insert meta", err)
	}
	return nil
}

// SetFeaturedImage implements destination.Repository.
func (r *Repository) SetFeaturedImage(ctx context.Context, postID, attachmentID uint64) error {
	return r.SetMeta(ctx, postID, "_thumbnail_id", strconv.FormatUint(attachmentID, 10))
}

// FindTermBySlug implements destination.Repository.
func (r *Repository) FindTermBySlug(ctx context.Context, taxonomy, slug string) (*destination.Term, error) {
	var rows []struct {
		TermID      uint64
		Name        string
		Slug        string
		Taxonomy    string
		Description string
		Parent      uint64
	}
	err := r.db.WithContext(ctx).
		Table(r.table("terms")+" AS t").
		Select("t.term_id, t.name, t.slug, tt.taxonomy, tt.description, tt.parent").
		Joins("INNER JOIN "+r.table("term_taxonomy")+" AS tt ON tt.term_id = t.term_id").
		Where("tt.taxonomy = ? AND t.slug = ?", taxonomy, slug).
		Limit(1).Scan(&rows).Error
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to look up term", err, true, false)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	t := rows[0]
	return &destination.Term{ID: t.TermID, Name: t.Name, Slug: t.Slug, Taxonomy: t.Taxonomy, Description: t.Description, Parent: t.Parent}, nil
}

// InsertTerm implements destination.Repository.
func (r *Repository) InsertTerm(ctx context.Context, t destination.Term) (uint64, error) {
	var id uint64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		term := wpTerm{Name: t.Name, Slug: t.Slug}
		if err := tx.Table(r.table("terms")).Create(&term).Error; err != nil {
			return writeErr("failed to insert term", err)
		}
		tt := wpTermTaxonomy{TermID: term.TermID, Taxonomy: t.Taxonomy, Description: t.Description, Parent: t.Parent}
		if err := tx.Table(r.table("term_taxonomy")).Create(&tt).Error; err != nil {
			return writeErr("failed to insert term taxonomy", err)
		}
		id = term.TermID
		return nil
	})
	return id, err
}

// SetPostTerms implements destination.Repository. Existing assignments of
// postID within taxonomy are replaced.
func (r *Repository) SetPostTerms(ctx context.Context, postID uint64, taxonomy string, termIDs []uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []uint64
		err := tx.Table(r.table("term_relationships")+" AS tr").
			Joins("INNER JOIN "+r.table("term_taxonomy")+" AS tt ON tt.term_taxonomy_id = tr.term_taxonomy_id").
			Where("tr.object_id = ? AND tt.taxonomy = ?", postID, taxonomy).
			Pluck("tr.term_taxonomy_id", &existing).Error
		if err != nil {
			return writeErr("failed to read term relationships", err)
		}
		if len(existing) > 0 {
			if err := tx.Table(r.table("term_relationships")).Where("object_id = ? AND term_taxonomy_id IN ?", postID, existing).Delete(&wpTermRelationship{}).Error; err != nil {
				return writeErr("failed to clear term relationships", err)
			}
		}

		var ttIDs []uint64
		if len(termIDs) > 0 {
			if err := tx.Table(r.table("term_taxonomy")).Where("taxonomy = ? AND term_id IN ?", taxonomy, termIDs).Pluck("term_taxonomy_id", &ttIDs).Error; err != nil {
				return writeErr("failed to resolve term taxonomy", err)
			}
		}
		for i, ttID := range ttIDs {
			rel := wpTermRelationship{ObjectID: postID, TermTaxonomyID: ttID, TermOrder: i}
			if err := tx.Table(r.table("term_relationships")).Create(&rel).Error; err != nil {
				return writeErr("failed to assign term", err)
			}
		}
		return r.recount(tx, append(existing, ttIDs...))
	})
}

func (r *Repository) recount(tx *gorm.DB, ttIDs []uint64) error {
	if len(ttIDs) == 0 {
		return nil
	}
	sql := fmt.Sprintf("UPDATE %s SET count = (SELECT COUNT(*) FROM %s tr WHERE tr.term_taxonomy_id = %s.term_taxonomy_id) WHERE term_taxonomy_id IN ?",
		r.table("term_taxonomy"), r.table("term_relationships"), r.table("term_taxonomy"))
	if err := tx.Exec(sql, ttIDs).Error; err != nil {
		return writeErr("failed to update term counts", err)
	}
	return nil
}

// DeleteTerm implements destination.Repository.
func (r *Repository) DeleteTerm(ctx context.Context, termID uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ttIDs []uint64
		if err := tx.Table(r.table("term_taxonomy")).Where("term_id = ?", termID).Pluck("term_taxonomy_id", &ttIDs).Error; err != nil {
			return writeErr("failed to read term taxonomy", err)
		}
		if len(ttIDs) > 0 {
			if err := tx.Table(r.table("term_relationships")).Where("term_taxonomy_id IN ?", ttIDs).Delete(&wpTermRelationship{}).Error; err != nil {
				return writeErr("failed to delete term relationships", err)
			}
			if err := tx.Table(r.table("term_taxonomy")).Where("term_id = ?", termID).Delete(&wpTermTaxonomy{}).Error; err != nil {
				return writeErr("failed to delete term taxonomy", err)
			}
		}
		res := tx.Table(r.table("terms")).Where("term_id = ?", termID).Delete(&wpTerm{})
		if res.Error != nil {
			return writeErr("failed to delete term", res.Error)
		}
		if res.RowsAffected == 0 {
			return destination.ErrNotFound
		}
		return nil
	})
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	return strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// CreateAttachment implements destination.Repository. The file is stored
// under Subdir with a numeric suffix when the name is taken, registered as
// an attachment post and described by _wp_attached_file and
// _wp_attachment_metadata.
func (r *Repository) CreateAttachment(ctx context.Context, f destination.AttachmentFile) (uint64, error) {
	src, err := os.Open(f.LocalPath)
	if err != nil {
		return 0, writeErr("failed to open downloaded file", err)
	}
	defer func() {
		src.Close()
		_ = os.Remove(f.LocalPath)
	}()

	key, err := r.uploads.UniqueKey(ctx, f.Subdir, f.FileName)
	if err != nil {
		return 0, writeErr("failed to choose upload name", err)
	}
	size, err := r.uploads.Put(ctx, key, src)
	if err != nil {
		return 0, writeErr("failed to store upload", err)
	}

	ext := path.Ext(key)
	mimeType := mime.TypeByExtension(ext)
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	meta := map[string]any{"file": key, "filesize": size}
	if strings.HasPrefix(mimeType, "image/") {
		if w, h, ok := r.imageSize(ctx, key); ok {
			meta["width"] = w
			meta["height"] = h
		}
	}
	encodedMeta, err := phpserial.Marshal(meta)
	if err != nil {
		return 0, writeErr("failed to encode attachment metadata", err)
	}

	title := f.Title
	if title == "" {
		title = strings.TrimSuffix(path.Base(key), ext)
	}
	now := r.now()
	row := wpPost{
		PostDate:        now.Local(),
		PostDateGMT:     now.UTC(),
		PostModified:    now.Local(),
		PostModifiedGMT: now.UTC(),
		PostTitle:       title,
		PostStatus:      "inherit",
		CommentStatus:   "open",
		PingStatus:      "closed",
		PostName:        slugify(title),
		GUID:            r.uploadsURL + key,
		PostType:        "attachment",
		PostMimeType:    mimeType,
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(r.table("posts")).Create(&row).Error; err != nil {
			return err
		}
		metaRows := []wpMeta{
			{PostID: row.ID, MetaKey: "_wp_attached_file", MetaValue: key},
			{PostID: row.ID, MetaKey: "_wp_attachment_metadata", MetaValue: encodedMeta},
		}
		return tx.Table(r.table("postmeta")).Create(&metaRows).Error
	})
	if err != nil {
		_ = r.uploads.Delete(ctx, key)
		return 0, writeErr("failed to register attachment", err)
	}
	logger.Debugf("Stored attachment %d as %s (%d bytes).", row.ID, key, size)
	return row.ID, nil
}

func (r *Repository) imageSize(ctx context.Context, key string) (int, int, bool) {
	rc, err := r.uploads.Open(ctx, key)
	if err != nil {
		return 0, 0, false
	}
	defer rc.Close()
	cfg, _, err := image.DecodeConfig(io.LimitReader(rc, 1<<20))
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}

// AttachmentURL implements destination.Repository.
func (r *Repository) AttachmentURL(ctx context.Context, id uint64) (string, error) {
	file, ok, err := r.GetMeta(ctx, id, "_wp_attached_file")
	if err != nil {
		return "", err
	}
	if ok && file != "" {
		return r.uploadsURL + strings.TrimLeft(file, "/"), nil
	}
	p, err := r.GetPost(ctx, id)
	if err != nil {
		return "", err
	}
	if p == nil || p.Type != "attachment" {
		return "", destination.ErrNotFound
	}
	return p.GUID, nil
}

// DeleteAttachment implements destination.Repository. The stored file is
// removed along with the post.
func (r *Repository) DeleteAttachment(ctx context.Context, id uint64) error {
	file, ok, err := r.GetMeta(ctx, id, "_wp_attached_file")
	if err != nil {
		return err
	}
	if err := r.DeletePost(ctx, id); err != nil {
		return err
	}
	if ok && file != "" {
		if err := r.uploads.Delete(ctx, file); err != nil {
			logger.Warnf("Attachment %d removed but file %s could not be deleted: %v", id, file, err)
		}
	}
	return nil
}

func (r *Repository) findUser(ctx context.Context, column string, value any) (*destination.User, error) {
	var rows []wpUser
	if err := r.db.WithContext(ctx).Table(r.table("users")).Where(column+" = ?", value).Limit(1).Find(&rows).Error; err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to read user", err, true, false)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	u := rows[0]
	return &destination.User{
		ID:          u.ID,
		Login:       u.UserLogin,
		Email:       u.UserEmail,
		DisplayName: u.DisplayName,
		Nicename:    u.UserNicename,
		URL:         u.UserURL,
		Registered:  u.UserRegistered,
	}, nil
}

// GetUser implements destination.Repository.
func (r *Repository) GetUser(ctx context.Context, id uint64) (*destination.User, error) {
	return r.findUser(ctx, "ID", id)
}

// GetUserByLogin implements destination.Repository.
func (r *Repository) GetUserByLogin(ctx context.Context, login string) (*destination.User, error) {
	return r.findUser(ctx, "user_login", login)
}

// GetUserByEmail implements destination.Repository.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*destination.User, error) {
	if email == "" {
		return nil, nil
	}
	return r.findUser(ctx, "user_email", email)
}

// InsertUser implements destination.Repository. The password is stored as a
// plain bcrypt hash, which WordPress verifies natively.
func (r *Repository) InsertUser(ctx context.Context, u destination.User) (uint64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return 0, writeErr("failed to hash password", err)
	}
	role := u.Role
	if role == "" {
		role = "author"
	}
	caps, err := phpserial.Marshal(map[string]any{role: true})
	if err != nil {
		return 0, writeErr("failed to encode capabilities", err)
	}
	registered := u.Registered
	if registered.IsZero() {
		registered = r.now().UTC()
	}
	row := wpUser{
		UserLogin:      u.Login,
		UserPass:       string(hash),
		UserNicename:   u.Nicename,
		UserEmail:      u.Email,
		UserURL:        u.URL,
		UserRegistered: registered,
		DisplayName:    u.DisplayName,
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(r.table("users")).Create(&row).Error; err != nil {
			return err
		}
		meta := []wpUserMeta{
			{UserID: row.ID, MetaKey: r.prefix + "capabilities", MetaValue: caps},
			{UserID: row.ID, MetaKey: r.prefix + "user_level", MetaValue: strconv.Itoa(userLevels[role])},
			{UserID: row.ID, MetaKey: "nickname", MetaValue: u.Login},
		}
		return tx.Table(r.table("usermeta")).Create(&meta).Error
	})
	if err != nil {
		return 0, writeErr("failed to insert user", err)
	}
	return row.ID, nil
}

// DeleteUser implements destination.Repository.
func (r *Repository) DeleteUser(ctx context.Context, id, reassignTo uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(r.table("posts")).Where("post_author = ?", id).Update("post_author", reassignTo).Error; err != nil {
			return writeErr("failed to reassign posts", err)
		}
		if err := tx.Table(r.table("usermeta")).Where("user_id = ?", id).Delete(&wpUserMeta{}).Error; err != nil {
			return writeErr("failed to delete user meta", err)
		}
		res := tx.Table(r.table("users")).Where("ID = ?", id).Delete(&wpUser{})
		if res.Error != nil {
			return writeErr("failed to delete user", res.Error)
		}
		if res.RowsAffected == 0 {
			return destination.ErrNotFound
		}
		return nil
	})
}

// GetOption implements destination.Repository.
func (r *Repository) GetOption(ctx context.Context, name string) (string, bool, error) {
	var rows []wpOption
	if err := r.db.WithContext(ctx).Table(r.table("options")).Where("option_name = ?", name).Limit(1).Find(&rows).Error; err != nil {
		return "", false, exception.NewBatchError(moduleName, "failed to read option", err, true, false)
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return rows[0].OptionValue, true, nil
}

// SetOption implements destination.Repository.
func (r *Repository) SetOption(ctx context.Context, name, value string) error {
	_, exists, err := r.GetOption(ctx, name)
	if err != nil {
		return err
	}
	q := r.db.WithContext(ctx).Table(r.table("options"))
	if exists {
		err = q.Where("option_name = ?", name).Update("option_value", value).Error
	} else {
		err = q.Create(&wpOption{OptionName: name, OptionValue: value, Autoload: "yes"}).Error
	}
	if err != nil {
		return writeErr("failed to write option", err)
	}
	return nil
}

// FieldType returns the type of a field-builder field, read from its
// "acf-field" definition post. Lookups are cached per repository.
func (r *Repository) FieldType(ctx context.Context, fieldKey string) (string, bool) {
	if cached, ok := r.fieldTypes.Get(fieldKey); ok {
		t := cached.(string)
		return t, t != ""
	}
	var rows []wpPost
	err := r.posts(ctx).
		Where("post_type = ? AND post_name = ?", "acf-field", fieldKey).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		logger.Warnf("Failed to read field definition %s: %v", fieldKey, err)
		return "", false
	}
	fieldType := ""
	if len(rows) > 0 {
		if def, ok := phpserial.MaybeUnmarshal(rows[0].PostContent); ok {
			if arr, ok := def.(*phpserial.Array); ok {
				t, _ := arr.Get("type")
				fieldType, _ = t.(string)
			}
		}
	}
	r.fieldTypes.SetDefault(fieldKey, fieldType)
	return fieldType, fieldType != ""
}

var _ destination.Repository = (*Repository)(nil)
