package importer

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	"github.com/tigerroll/wpmigrate/internal/destination"
	"github.com/tigerroll/wpmigrate/internal/domain/model"
	"github.com/tigerroll/wpmigrate/internal/phpserial"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

// DefaultRole is given to created users without a readable source role.
const DefaultRole = "author"

// resolveAuthor returns the destination user for a source author. Lookup
// order is mapping, login, email, then creation. Unresolvable authors fall
// back to the default author. Only connection failures are returned.
func (r *Runner) resolveAuthor(ctx context.Context, b *batch, sourceID uint64) (uint64, error) {
	if sourceID == 0 {
		return r.deps.DefaultAuthorID, nil
	}
	if id, ok := b.authors[sourceID]; ok {
		return id, nil
	}
	id, err := r.lookupAuthor(ctx, b, sourceID)
	if err != nil {
		if exception.IsConnectionError(err) {
			return 0, err
		}
		b.stats.Errors++
		r.deps.Sink.Error("Failed to resolve author", logger.Fields{"source_user_id": sourceID, "error": err.Error()})
		id = 0
	}
	if id == 0 {
		id = r.deps.DefaultAuthorID
	}
	b.authors[sourceID] = id
	return id, nil
}

func (r *Runner) lookupAuthor(ctx context.Context, b *batch, sourceID uint64) (uint64, error) {
	if id, ok, err := r.deps.Mapping.Get(ctx, b.scope(), model.ObjectUser, sourceID); err != nil || ok {
		return id, err
	}

	src, err := b.src.GetUserWithMeta(ctx, sourceID)
	if err != nil || src == nil {
		if src == nil && err == nil {
			r.deps.Sink.Warn("Source author not found", logger.Fields{"source_user_id": sourceID})
		}
		return 0, err
	}
	u := src.User

	if u.UserLogin != "" {
		found, err := r.deps.Destination.GetUserByLogin(ctx, u.UserLogin)
		if err != nil {
			return 0, err
		}
		if found != nil {
			return found.ID, nil
		}
	}
	if u.UserEmail != "" {
		found, err := r.deps.Destination.GetUserByEmail(ctx, u.UserEmail)
		if err != nil {
			return 0, err
		}
		if found != nil {
			return found.ID, nil
		}
	}

	fields := logger.Fields{"source_user_id": sourceID, "login": u.UserLogin}
	if b.dryRun() {
		r.deps.Sink.Info("[DRY RUN] Would create user", fields)
		return 0, nil
	}

	role := sourceRole(*src, capabilitiesKey(b.settings))
	id, err := r.deps.Destination.InsertUser(ctx, destination.User{
		Login:       u.UserLogin,
		Email:       u.UserEmail,
		DisplayName: u.DisplayName,
		Nicename:    u.UserNicename,
		URL:         u.UserURL,
		Registered:  u.UserRegistered,
		Role:        role,
		Password:    uuid.NewString(),
	})
	if err != nil {
		return 0, exception.NewRowUpsertError(moduleName, "user", sourceID, err)
	}
	if err := r.deps.Mapping.Upsert(ctx, b.scope(), model.ObjectUser, sourceID, id); err != nil {
		return id, err
	}
	fields["dest_id"] = id
	fields["role"] = role
	r.deps.Sink.Info("Created user", fields)
	return id, nil
}

// capabilitiesKey is the usermeta key holding roles for the source scope.
func capabilitiesKey(s model.Settings) string {
	prefix := s.SourceTablePrefix
	if s.SourceScopeID > 1 {
		prefix += strconv.Itoa(s.SourceScopeID) + "_"
	}
	return prefix + "capabilities"
}

// sourceRole returns the first granted role in the serialized
// capabilities array, or DefaultRole.
func sourceRole(u model.UserWithMeta, key string) string {
	raw, ok := u.MetaValue(key)
	if !ok {
		return DefaultRole
	}
	decoded, err := phpserial.Unmarshal(raw)
	if err != nil {
		return DefaultRole
	}
	caps, ok := decoded.(*phpserial.Array)
	if !ok {
		return DefaultRole
	}
	for _, role := range caps.Keys() {
		granted, _ := caps.Get(role)
		if g, ok := granted.(bool); ok && g {
			return role
		}
	}
	return DefaultRole
}
