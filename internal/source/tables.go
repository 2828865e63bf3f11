package source

import "strconv"

// Tables holds the fully qualified source table names for one scope.
type Tables struct {
	Posts             string
	PostMeta          string
	Terms             string
	TermTaxonomy      string
	TermRelationships string
	Options           string
	Users             string
	UserMeta          string
}

// TableNames computes table names for prefix and scopeID. Scope 1 (or less)
// uses the bare prefix, scope N uses prefix+N+"_". Terms, term taxonomy,
// users and usermeta are network wide and always use the bare prefix.
func TableNames(prefix string, scopeID int) Tables {
	if prefix == "" {
		prefix = "wp_"
	}
	base := prefix
	if scopeID > 1 {
		base = prefix + strconv.Itoa(scopeID) + "_"
	}
	return Tables{
		Posts:             base + "posts",
		PostMeta:          base + "postmeta",
		Terms:             prefix + "terms",
		TermTaxonomy:      prefix + "term_taxonomy",
		TermRelationships: base + "term_relationships",
		Options:           base + "options",
		Users:             prefix + "users",
		UserMeta:          prefix + "usermeta",
	}
}
