package wpdb

import "time"

type wpPost struct {
	ID                  uint64    `gorm:"column:ID;primaryKey;autoIncrement"`
	PostAuthor          uint64    `gorm:"column:post_author;index"`
	PostDate            time.Time `gorm:"column:post_date"`
	PostDateGMT         time.Time `gorm:"column:post_date_gmt"`
	PostContent         string    `gorm:"column:post_content"`
	PostTitle           string    `gorm:"column:post_title"`
	PostExcerpt         string    `gorm:"column:post_excerpt"`
	PostStatus          string    `gorm:"column:post_status;size:20"`
	CommentStatus       string    `gorm:"column:comment_status;size:20"`
	PingStatus          string    `gorm:"column:ping_status;size:20"`
	PostPassword        string    `gorm:"column:post_password;size:255"`
	PostName            string    `gorm:"column:post_name;size:200;index"`
	ToPing              string    `gorm:"column:to_ping"`
	Pinged              string    `gorm:"column:pinged"`
	PostModified        time.Time `gorm:"column:post_modified"`
	PostModifiedGMT     time.Time `gorm:"column:post_modified_gmt"`
	PostContentFiltered string    `gorm:"column:post_content_filtered"`
	PostParent          uint64    `gorm:"column:post_parent"`
	GUID                string    `gorm:"column:guid;size:255"`
	MenuOrder           int       `gorm:"column:menu_order"`
	PostType            string    `gorm:"column:post_type;size:20;index"`
	PostMimeType        string    `gorm:"column:post_mime_type;size:100"`
	CommentCount        int64     `gorm:"column:comment_count"`
}

type wpMeta struct {
	MetaID    uint64 `gorm:"column:meta_id;primaryKey;autoIncrement"`
	PostID    uint64 `gorm:"column:post_id;index"`
	MetaKey   string `gorm:"column:meta_key;size:255;index"`
	MetaValue string `gorm:"column:meta_value"`
}

type wpTerm struct {
	TermID    uint64 `gorm:"column:term_id;primaryKey;autoIncrement"`
	Name      string `gorm:"column:name;size:200"`
	Slug      string `gorm:"column:slug;size:200;index"`
	TermGroup int64  `gorm:"column:term_group"`
}

type wpTermTaxonomy struct {
	TermTaxonomyID uint64 `gorm:"column:term_taxonomy_id;primaryKey;autoIncrement"`
	TermID         uint64 `gorm:"column:term_id;index"`
	Taxonomy       string `gorm:"column:taxonomy;size:32"`
	Description    string `gorm:"column:description"`
	Parent         uint64 `gorm:"column:parent"`
	Count          int64  `gorm:"column:count"`
}

type wpTermRelationship struct {
	ObjectID       uint64 `gorm:"column:object_id;primaryKey;autoIncrement:false"`
	TermTaxonomyID uint64 `gorm:"column:term_taxonomy_id;primaryKey;autoIncrement:false"`
	TermOrder      int    `gorm:"column:term_order"`
}

type wpUser struct {
	ID                uint64    `gorm:"column:ID;primaryKey;autoIncrement"`
	UserLogin         string    `gorm:"column:user_login;size:60;index"`
	UserPass          string    `gorm:"column:user_pass;size:255"`
	UserNicename      string    `gorm:"column:user_nicename;size:50"`
	UserEmail         string    `gorm:"column:user_email;size:100;index"`
	UserURL           string    `gorm:"column:user_url;size:100"`
	UserRegistered    time.Time `gorm:"column:user_registered"`
	UserActivationKey string    `gorm:"column:user_activation_key;size:255"`
	UserStatus        int       `gorm:"column:user_status"`
	DisplayName       string    `gorm:"column:display_name;size:250"`
}

type wpUserMeta struct {
	UmetaID   uint64 `gorm:"column:umeta_id;primaryKey;autoIncrement"`
	UserID    uint64 `gorm:"column:user_id;index"`
	MetaKey   string `gorm:"column:meta_key;size:255"`
	MetaValue string `gorm:"column:meta_value"`
}

type wpOption struct {
	OptionID    uint64 `gorm:"column:option_id;primaryKey;autoIncrement"`
	OptionName  string `gorm:"column:option_name;size:191;uniqueIndex"`
	OptionValue string `gorm:"column:option_value"`
	Autoload    string `gorm:"column:autoload;size:20"`
}
