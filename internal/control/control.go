// Package control is the entry point used by the CLI and the scheduler to
// drive a migration.
package control

import (
	"context"
	"fmt"
	"strings"

	"github.com/tigerroll/wpmigrate/internal/domain/model"
	"github.com/tigerroll/wpmigrate/internal/importer"
	"github.com/tigerroll/wpmigrate/internal/mapping"
	"github.com/tigerroll/wpmigrate/internal/purge"
	"github.com/tigerroll/wpmigrate/internal/source"
	"github.com/tigerroll/wpmigrate/internal/state"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

// DefaultLogLines is the tail length used when the caller passes zero.
const DefaultLogLines = 100

// Deps are the collaborators of a Controller.
type Deps struct {
	Settings importer.SettingsProvider
	State    *state.RunStateManager
	Runner   *importer.Runner
	Purger   *purge.Purger
	Sources  source.Factory
	Mapping  mapping.Store
	Sink     *logger.Sink
}

// Controller exposes the migration operations. Results always carry a
// success flag and a message; no operation panics past this boundary.
type Controller struct {
	deps Deps
}

// New creates a Controller.
func New(deps Deps) *Controller {
	return &Controller{deps: deps}
}

// Status summarizes the migration for display.
type Status struct {
	State        model.RunState
	Settings     model.Settings
	MappingCount int64
}

// Start marks the migration running for postTypes. An empty list starts
// every enabled type of the import scope.
func (c *Controller) Start(ctx context.Context, postTypes []string) model.ActionResult {
	settings, err := c.deps.Settings.Get(ctx)
	if err != nil {
		return model.ActionResult{Message: fmt.Sprintf("Failed to load settings: %v", err)}
	}
	enabled := settings.ImportScope.ActivePostTypes()
	if len(postTypes) == 0 {
		postTypes = enabled
	}
	if len(postTypes) == 0 {
		return model.ActionResult{Message: "No post types are enabled in the import scope."}
	}
	allowed := make(map[string]bool, len(enabled))
	for _, t := range enabled {
		allowed[t] = true
	}
	for _, t := range postTypes {
		if !allowed[t] {
			return model.ActionResult{Message: fmt.Sprintf("Post type %q is not enabled in the import scope.", t)}
		}
	}

	if _, err := c.deps.State.MarkStart(ctx, postTypes); err != nil {
		return model.ActionResult{Message: fmt.Sprintf("Failed to start import: %v", err)}
	}
	c.deps.Sink.Info("Import started", logger.Fields{"post_types": strings.Join(postTypes, ",")})
	return model.ActionResult{Success: true, Message: "Import started"}
}

// Stop asks a running batch to halt before its next row and stops
// scheduled batches.
func (c *Controller) Stop(ctx context.Context) model.ActionResult {
	if _, err := c.deps.State.Update(ctx, func(st *model.RunState) {
		st.StopRequested = true
		st.Running = false
	}); err != nil {
		return model.ActionResult{Message: fmt.Sprintf("Failed to request stop: %v", err)}
	}
	c.deps.Sink.Info("Stop requested", nil)
	return model.ActionResult{Success: true, Message: "Stop requested"}
}

// RunOneBatch runs a batch now, regardless of the running flag.
func (c *Controller) RunOneBatch(ctx context.Context) (res model.BatchResult) {
	defer func() {
		if r := recover(); r != nil {
			c.deps.Sink.Error("Batch panicked", logger.Fields{"panic": fmt.Sprint(r)})
			res = model.BatchResult{Outcome: model.OutcomeFailed, Message: fmt.Sprintf("Batch failed: %v", r)}
		}
	}()
	return c.deps.Runner.RunBatch(ctx)
}

// ImportPost imports a single source post by id.
func (c *Controller) ImportPost(ctx context.Context, sourceID uint64) (res model.BatchResult) {
	defer func() {
		if r := recover(); r != nil {
			res = model.BatchResult{Outcome: model.OutcomeFailed, Message: fmt.Sprintf("Import failed: %v", r)}
		}
	}()
	return c.deps.Runner.ImportSinglePost(ctx, sourceID)
}

// TestSourceConnection checks that the source database is reachable with
// the current settings.
func (c *Controller) TestSourceConnection(ctx context.Context) model.ConnectionResult {
	settings, err := c.deps.Settings.Get(ctx)
	if err != nil {
		return model.ConnectionResult{Message: fmt.Sprintf("Failed to load settings: %v", err)}
	}
	src, err := c.deps.Sources(ctx, settings)
	if err != nil {
		return c.connectionFailed(err)
	}
	info, err := src.TestConnection(ctx)
	if err != nil {
		return c.connectionFailed(err)
	}
	msg := fmt.Sprintf("Connection OK. %s count: %d", info.PostsTable, info.PostCount)
	c.deps.Sink.Info(msg, nil)
	return model.ConnectionResult{Success: true, Message: msg, Info: info}
}

func (c *Controller) connectionFailed(err error) model.ConnectionResult {
	c.deps.Sink.Error("Source connection failed", logger.Fields{"error": err.Error()})
	return model.ConnectionResult{Message: "Connection failed: " + err.Error()}
}

// PurgeImported deletes migrated objects; see purge.Purger.
func (c *Controller) PurgeImported(ctx context.Context, batchSize int, full bool) (res model.PurgeResult) {
	defer func() {
		if r := recover(); r != nil {
			c.deps.Sink.Error("Purge panicked", logger.Fields{"panic": fmt.Sprint(r)})
			res = model.PurgeResult{Message: fmt.Sprintf("Purge failed: %v", r)}
		}
	}()
	return c.deps.Purger.Purge(ctx, batchSize, full)
}

// FetchLogTail returns the last n log lines.
func (c *Controller) FetchLogTail(n int) (string, error) {
	if n == 0 {
		n = DefaultLogLines
	}
	return c.deps.Sink.Tail(n)
}

// Status returns the run state, effective settings and mapping count.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	st, err := c.deps.State.Get(ctx)
	if err != nil {
		return Status{}, err
	}
	settings, err := c.deps.Settings.Get(ctx)
	if err != nil {
		return Status{}, err
	}
	count, err := c.deps.Mapping.Count(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{State: st, Settings: settings, MappingCount: count}, nil
}
