package importer

import (
	"context"

	"github.com/tigerroll/wpmigrate/internal/destination"
	"github.com/tigerroll/wpmigrate/internal/domain/model"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

// assignTerms attaches the post's terms of every configured taxonomy.
// Terms are reused by slug when they already exist; only created terms are
// mapped.
func (r *Runner) assignTerms(ctx context.Context, b *batch, destID uint64, row model.PostRow) error {
	taxonomies := b.settings.ImportScope.TaxonomiesFor(row.PostType)
	if len(taxonomies) == 0 {
		return nil
	}
	terms, err := b.src.FetchTermsForPost(ctx, row.ID, taxonomies)
	if err != nil {
		if exception.IsConnectionError(err) {
			return err
		}
		b.stats.Errors++
		r.deps.Sink.Error("Failed to read source terms", logger.Fields{"source_id": row.ID, "error": err.Error()})
		return nil
	}

	byTaxonomy := map[string][]uint64{}
	for _, t := range terms {
		id, ok := r.resolveTerm(ctx, b, t)
		if ok {
			byTaxonomy[t.Taxonomy] = append(byTaxonomy[t.Taxonomy], id)
		}
	}
	for _, taxonomy := range taxonomies {
		ids, ok := byTaxonomy[taxonomy]
		if !ok {
			continue
		}
		if err := r.deps.Destination.SetPostTerms(ctx, destID, taxonomy, ids); err != nil {
			b.stats.Errors++
			r.deps.Sink.Error("Failed to assign terms", logger.Fields{"dest_id": destID, "taxonomy": taxonomy, "error": err.Error()})
		}
	}
	return nil
}

func (r *Runner) resolveTerm(ctx context.Context, b *batch, t model.TermRow) (uint64, bool) {
	fields := logger.Fields{"taxonomy": t.Taxonomy, "slug": t.Slug, "source_term_id": t.TermID}

	if id, ok, err := r.deps.Mapping.Get(ctx, b.scope(), model.ObjectTerm, t.TermID); err == nil && ok {
		return id, true
	}
	existing, err := r.deps.Destination.FindTermBySlug(ctx, t.Taxonomy, t.Slug)
	if err != nil {
		b.stats.Errors++
		fields["error"] = err.Error()
		r.deps.Sink.Error("Failed to look up term", fields)
		return 0, false
	}
	if existing != nil {
		return existing.ID, true
	}

	var parent uint64
	if t.Parent != 0 {
		if id, ok, err := r.deps.Mapping.Get(ctx, b.scope(), model.ObjectTerm, t.Parent); err == nil && ok {
			parent = id
		}
	}
	id, err := r.deps.Destination.InsertTerm(ctx, destination.Term{
		Name:        t.Name,
		Slug:        t.Slug,
		Taxonomy:    t.Taxonomy,
		Description: t.Description,
		Parent:      parent,
	})
	if err != nil {
		b.stats.Errors++
		fields["error"] = exception.NewRowUpsertError(moduleName, "term", t.TermID, err).Error()
		r.deps.Sink.Error("Failed to create term", fields)
		return 0, false
	}
	if err := r.deps.Mapping.Upsert(ctx, b.scope(), model.ObjectTerm, t.TermID, id); err != nil {
		b.stats.Errors++
		fields["error"] = err.Error()
		r.deps.Sink.Error("Failed to map term", fields)
	}
	fields["dest_id"] = id
	r.deps.Sink.Info("Created term", fields)
	return id, true
}
