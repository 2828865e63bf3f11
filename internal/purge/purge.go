// Package purge removes everything the migration created, walking the
// mapping table oldest first.
package purge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/wpmigrate/internal/destination"
	"github.com/tigerroll/wpmigrate/internal/domain/model"
	"github.com/tigerroll/wpmigrate/internal/mapping"
	"github.com/tigerroll/wpmigrate/internal/state"
	"github.com/tigerroll/wpmigrate/pkg/batch/core/metrics"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

const moduleName = "purge"

// DefaultBatchSize is used when the caller passes a non-positive size.
const DefaultBatchSize = 50

// lockTTL bounds how long a crashed purge can block batches.
const lockTTL = 10 * time.Minute

// Deps are the collaborators of a Purger.
type Deps struct {
	Mapping     mapping.Store
	Destination destination.Repository
	State       *state.RunStateManager
	Lock        state.BatchLock
	Sink        *logger.Sink
	Recorder    metrics.MetricRecorder
	Tracer      metrics.Tracer
	// ActingUserID is never deleted and receives content of deleted users.
	ActingUserID uint64
}

// Purger deletes migrated destination objects.
type Purger struct {
	deps Deps
}

// NewPurger creates a Purger.
func NewPurger(deps Deps) *Purger {
	if deps.Recorder == nil {
		deps.Recorder = metrics.NewNoOpMetricRecorder()
	}
	if deps.Tracer == nil {
		deps.Tracer = metrics.NewNoOpTracer()
	}
	return &Purger{deps: deps}
}

// Purge deletes up to batchSize mapped objects, or keeps going until the
// mapping table is empty when full is set. Once no mappings remain the run
// state is reset and the log truncated.
func (p *Purger) Purge(ctx context.Context, batchSize int, full bool) model.PurgeResult {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	lease, err := p.deps.Lock.TryAcquire(ctx, lockTTL)
	if err != nil {
		if errors.Is(err, exception.ErrLockContention) {
			return model.PurgeResult{Message: "A batch is running; try the purge again later."}
		}
		return model.PurgeResult{Message: fmt.Sprintf("Failed to acquire batch lock: %v", err)}
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warnf("purge: failed to release batch lock: %v", err)
		}
	}()

	ctx, end := p.deps.Tracer.StartSpan(ctx, metrics.SpanPurge, map[string]interface{}{"batch_size": batchSize, "full": full})
	defer end()

	st, err := p.deps.State.Get(ctx)
	if err != nil {
		return model.PurgeResult{Message: fmt.Sprintf("Failed to read run state: %v", err)}
	}

	// Pages are listed above a cursor so rows that keep failing do not
	// hide the rest of the table. A pass is complete once the listing runs
	// off the end; a complete pass from the start that deleted nothing ends
	// a full purge.
	res := model.PurgeResult{Success: true}
	var errs *multierror.Error
	after := st.PurgeCursor
	fromStart := after == 0
	passDeleted := 0
	for ctx.Err() == nil {
		page, err := p.purgeBatch(ctx, after, batchSize)
		res.Deleted += page.deleted
		res.Failed += page.failed
		errs = multierror.Append(errs, err)
		if page.seen > 0 {
			after = page.lastID
			passDeleted += page.deleted
			if !full {
				break
			}
			continue
		}
		if err != nil || after == 0 {
			break
		}
		if fromStart && passDeleted == 0 {
			after = 0
			break
		}
		after, fromStart, passDeleted = 0, true, 0
	}

	remaining, err := p.deps.Mapping.Count(ctx)
	if err != nil {
		res.Success = false
		res.Message = fmt.Sprintf("Failed to count mappings: %v", err)
		return res
	}
	res.Remaining = remaining

	if err := errs.ErrorOrNil(); err != nil {
		p.deps.Tracer.RecordError(ctx, moduleName, err)
		p.deps.Sink.Error("Purge finished with errors", logger.Fields{"failed": res.Failed, "error": err.Error()})
	}

	if remaining > 0 {
		cursor := after
		if _, err := p.deps.State.Update(ctx, func(st *model.RunState) { st.PurgeCursor = cursor }); err != nil {
			logger.Warnf("purge: failed to save cursor: %v", err)
		}
		res.Message = fmt.Sprintf("Purged %d objects; %d mappings remaining.", res.Deleted, remaining)
		if res.Failed > 0 {
			res.Message = fmt.Sprintf("Purged %d objects; %d failed; %d mappings remaining.", res.Deleted, res.Failed, remaining)
		}
		p.deps.Sink.Info("Purge batch complete", logger.Fields{"deleted": res.Deleted, "failed": res.Failed, "remaining": remaining})
		return res
	}

	if _, err := p.deps.State.Reset(ctx); err != nil {
		res.Success = false
		res.Message = fmt.Sprintf("Purged %d objects but failed to reset run state: %v", res.Deleted, err)
		return res
	}
	if err := p.deps.Sink.Truncate(); err != nil {
		logger.Warnf("purge: failed to truncate log: %v", err)
	}
	res.Done = true
	res.Message = fmt.Sprintf("Purge complete: %d objects deleted. Run state reset.", res.Deleted)
	p.deps.Sink.Info(res.Message, logger.Fields{"deleted": res.Deleted})
	return res
}

type pageResult struct {
	seen, deleted, failed int
	lastID                uint64
}

// purgeBatch handles one page of mappings with ids above after. Mappings
// of objects that could not be deleted are kept.
func (p *Purger) purgeBatch(ctx context.Context, after uint64, limit int) (pageResult, error) {
	var page pageResult
	entries, err := p.deps.Mapping.ListAfter(ctx, after, limit)
	if err != nil {
		return page, err
	}
	var errs *multierror.Error
	perType := map[model.ObjectType]int{}
	for _, e := range entries {
		page.seen++
		page.lastID = e.ID
		fields := logger.Fields{"object_type": string(e.ObjectType), "source_id": e.SourceID, "dest_id": e.DestID}
		if err := p.deleteObject(ctx, e); err != nil {
			page.failed++
			errs = multierror.Append(errs, fmt.Errorf("%s %d: %w", e.ObjectType, e.DestID, err))
			fields["error"] = err.Error()
			p.deps.Sink.Error("Failed to delete object", fields)
			continue
		}
		if err := p.deps.Mapping.Delete(ctx, e.ID); err != nil {
			page.failed++
			errs = multierror.Append(errs, err)
			continue
		}
		page.deleted++
		perType[e.ObjectType]++
		p.deps.Sink.Debug("Deleted object", fields)
	}
	for objectType, n := range perType {
		p.deps.Recorder.RecordPurge(ctx, string(objectType), n)
	}
	return page, errs.ErrorOrNil()
}

// deleteObject removes the destination object of e. Objects that are
// already gone count as deleted.
func (p *Purger) deleteObject(ctx context.Context, e model.MappingEntry) error {
	var err error
	switch e.ObjectType {
	case model.ObjectAttachment, model.ObjectAttachmentURL:
		err = p.deps.Destination.DeleteAttachment(ctx, e.DestID)
	case model.ObjectTerm:
		err = p.deps.Destination.DeleteTerm(ctx, e.DestID)
	case model.ObjectUser:
		if e.DestID == p.deps.ActingUserID {
			p.deps.Sink.Warn("Kept acting user; mapping cleared", logger.Fields{"dest_id": e.DestID})
			return nil
		}
		err = p.deps.Destination.DeleteUser(ctx, e.DestID, p.deps.ActingUserID)
	case model.ObjectPost:
		err = p.deps.Destination.DeletePost(ctx, e.DestID)
	}
	if errors.Is(err, destination.ErrNotFound) {
		return nil
	}
	return err
}
