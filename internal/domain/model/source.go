package model

import "time"

// PostRow is one row of the source posts table.
type PostRow struct {
	ID            uint64    `gorm:"column:ID"`
	PostAuthor    uint64    `gorm:"column:post_author"`
	PostDate      time.Time `gorm:"column:post_date"`
	PostDateGMT   time.Time `gorm:"column:post_date_gmt"`
	PostContent   string    `gorm:"column:post_content"`
	PostTitle     string    `gorm:"column:post_title"`
	PostExcerpt   string    `gorm:"column:post_excerpt"`
	PostStatus    string    `gorm:"column:post_status"`
	CommentStatus string    `gorm:"column:comment_status"`
	PingStatus    string    `gorm:"column:ping_status"`
	PostName      string    `gorm:"column:post_name"`
	PostModified  time.Time `gorm:"column:post_modified"`
	PostModGMT    time.Time `gorm:"column:post_modified_gmt"`
	PostParent    uint64    `gorm:"column:post_parent"`
	GUID          string    `gorm:"column:guid"`
	MenuOrder     int       `gorm:"column:menu_order"`
	PostType      string    `gorm:"column:post_type"`
	PostMimeType  string    `gorm:"column:post_mime_type"`
}

// MetaRow is one post or user meta row.
type MetaRow struct {
	MetaID    uint64 `gorm:"column:meta_id"`
	ObjectID  uint64 `gorm:"column:object_id"`
	MetaKey   string `gorm:"column:meta_key"`
	MetaValue string `gorm:"column:meta_value"`
}

// PostWithMeta is a post and all of its meta rows in source order.
type PostWithMeta struct {
	Post PostRow
	Meta []MetaRow
}

// MetaValue returns the first value stored under key.
func (p PostWithMeta) MetaValue(key string) (string, bool) {
	for _, m := range p.Meta {
		if m.MetaKey == key {
			return m.MetaValue, true
		}
	}
	return "", false
}

// TermRow is a term assigned to a post, joined with its taxonomy.
type TermRow struct {
	TermID         uint64 `gorm:"column:term_id"`
	Name           string `gorm:"column:name"`
	Slug           string `gorm:"column:slug"`
	TermTaxonomyID uint64 `gorm:"column:term_taxonomy_id"`
	Taxonomy       string `gorm:"column:taxonomy"`
	Description    string `gorm:"column:description"`
	Parent         uint64 `gorm:"column:parent"`
}

// UserRow is one row of the source users table.
type UserRow struct {
	ID             uint64    `gorm:"column:ID"`
	UserLogin      string    `gorm:"column:user_login"`
	UserNicename   string    `gorm:"column:user_nicename"`
	UserEmail      string    `gorm:"column:user_email"`
	UserURL        string    `gorm:"column:user_url"`
	UserRegistered time.Time `gorm:"column:user_registered"`
	DisplayName    string    `gorm:"column:display_name"`
}

// UserWithMeta is a source user and its meta rows.
type UserWithMeta struct {
	User UserRow
	Meta []MetaRow
}

// MetaValue returns the first value stored under key.
func (u UserWithMeta) MetaValue(key string) (string, bool) {
	for _, m := range u.Meta {
		if m.MetaKey == key {
			return m.MetaValue, true
		}
	}
	return "", false
}

// OptionRow is one row of the source options table.
type OptionRow struct {
	OptionID    uint64 `gorm:"column:option_id"`
	OptionName  string `gorm:"column:option_name"`
	OptionValue string `gorm:"column:option_value"`
	Autoload    string `gorm:"column:autoload"`
}

// ConnectionInfo describes a successful source connectivity check.
type ConnectionInfo struct {
	PostsTable string
	PostCount  int64
}
