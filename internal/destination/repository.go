// Package destination describes the content store the migration writes to.
package destination

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a destination object does not exist.
var ErrNotFound = errors.New("destination object not found")

// Post is a post-like destination object (posts, pages, custom types and
// attachments share one table).
type Post struct {
	ID            uint64
	Author        uint64
	Date          time.Time
	DateGMT       time.Time
	Modified      time.Time
	ModifiedGMT   time.Time
	Content       string
	Title         string
	Excerpt       string
	Status        string
	CommentStatus string
	PingStatus    string
	Name          string
	Parent        uint64
	MenuOrder     int
	Type          string
	MimeType      string
	GUID          string
}

// Term is a taxonomy term.
type Term struct {
	ID          uint64
	Name        string
	Slug        string
	Taxonomy    string
	Description string
	Parent      uint64
}

// User is a destination account.
type User struct {
	ID          uint64
	Login       string
	Email       string
	DisplayName string
	Nicename    string
	URL         string
	Registered  time.Time
	Role        string
	// Password is the plain text password; implementations store a hash.
	Password string
}

// AttachmentFile describes a downloaded file to be added to the media library.
type AttachmentFile struct {
	// LocalPath is the downloaded temporary file. It is consumed by the call.
	LocalPath string
	// FileName is the desired base name inside the uploads directory.
	FileName string
	// Subdir is the year/month directory ("2021/05"); empty for the root.
	Subdir string
	Title  string
}

// Repository is the set of destination operations the engine consumes.
type Repository interface {
	GetPost(ctx context.Context, id uint64) (*Post, error)
	InsertPost(ctx context.Context, p Post) (uint64, error)
	UpdatePost(ctx context.Context, p Post) error
	// DeletePost removes a post and its meta and term relationships.
	DeletePost(ctx context.Context, id uint64) error

	GetMeta(ctx context.Context, objectID uint64, key string) (string, bool, error)
	SetMeta(ctx context.Context, objectID uint64, key, value string) error
	SetFeaturedImage(ctx context.Context, postID, attachmentID uint64) error

	FindTermBySlug(ctx context.Context, taxonomy, slug string) (*Term, error)
	InsertTerm(ctx context.Context, t Term) (uint64, error)
	SetPostTerms(ctx context.Context, postID uint64, taxonomy string, termIDs []uint64) error
	DeleteTerm(ctx context.Context, termID uint64) error

	CreateAttachment(ctx context.Context, f AttachmentFile) (uint64, error)
	AttachmentURL(ctx context.Context, id uint64) (string, error)
	DeleteAttachment(ctx context.Context, id uint64) error

	GetUser(ctx context.Context, id uint64) (*User, error)
	GetUserByLogin(ctx context.Context, login string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	InsertUser(ctx context.Context, u User) (uint64, error)
	// DeleteUser removes a user and reassigns their posts to reassignTo.
	DeleteUser(ctx context.Context, id, reassignTo uint64) error

	GetOption(ctx context.Context, name string) (string, bool, error)
	SetOption(ctx context.Context, name, value string) error
}
