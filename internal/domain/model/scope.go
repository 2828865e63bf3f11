package model

import "strings"

// StructuralPostType is never migrated, whatever the scope says.
const StructuralPostType = "page"

// ScopeEntry configures the import of one post type.
type ScopeEntry struct {
	PostType   string   `yaml:"post_type" json:"post_type"`
	Taxonomies []string `yaml:"taxonomies" json:"taxonomies"`
	Enabled    bool     `yaml:"enabled" json:"enabled"`
}

// ImportScope is the ordered list of post types considered for migration.
type ImportScope []ScopeEntry

// ActivePostTypes returns enabled post types in scope order, excluding "page".
func (s ImportScope) ActivePostTypes() []string {
	types := make([]string, 0, len(s))
	for _, e := range s {
		if e.Enabled && e.PostType != "" && e.PostType != StructuralPostType {
			types = append(types, e.PostType)
		}
	}
	return types
}

// TaxonomiesFor returns the taxonomies configured for postType.
func (s ImportScope) TaxonomiesFor(postType string) []string {
	for _, e := range s {
		if e.PostType == postType {
			return e.Taxonomies
		}
	}
	return nil
}

// Sanitize normalises the scope: "posts" becomes "post", "page" is dropped,
// comma separated taxonomy entries are split and trimmed, and duplicate post
// types collapse to their first occurrence.
func (s ImportScope) Sanitize() ImportScope {
	out := make(ImportScope, 0, len(s))
	seen := make(map[string]bool, len(s))
	for _, e := range s {
		pt := strings.ToLower(strings.TrimSpace(e.PostType))
		if pt == "posts" {
			pt = "post"
		}
		if pt == "" || pt == StructuralPostType || seen[pt] {
			continue
		}
		seen[pt] = true

		taxonomies := make([]string, 0, len(e.Taxonomies))
		taxSeen := make(map[string]bool)
		for _, raw := range e.Taxonomies {
			for _, tax := range strings.Split(raw, ",") {
				tax = strings.TrimSpace(tax)
				if tax != "" && !taxSeen[tax] {
					taxSeen[tax] = true
					taxonomies = append(taxonomies, tax)
				}
			}
		}
		out = append(out, ScopeEntry{PostType: pt, Taxonomies: taxonomies, Enabled: e.Enabled})
	}
	return out
}
