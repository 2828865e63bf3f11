// Package media makes sure every source attachment exists exactly once in
// the destination media library.
package media

import (
	"context"
	"fmt"
	"hash/crc32"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tigerroll/wpmigrate/internal/destination"
	"github.com/tigerroll/wpmigrate/internal/domain/model"
	"github.com/tigerroll/wpmigrate/internal/mapping"
	"github.com/tigerroll/wpmigrate/internal/source"
	"github.com/tigerroll/wpmigrate/pkg/batch/core/metrics"
	"github.com/tigerroll/wpmigrate/pkg/batch/engine/step/retry"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

// UploadsMarker separates the site URL from the attached file path.
const UploadsMarker = "/wp-content/uploads/"

// Meta keys written on imported attachments.
const (
	MetaSourceAttachmentID = "_wpmigrate_source_attachment_id"
	MetaSourceAttachedFile = "_wpmigrate_source_attached_file"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 2 * time.Second
)

var subdirPattern = regexp.MustCompile(`(\d{4}/\d{2})`)

// Outcome describes an attachment resolution. ID is zero when no
// destination attachment is available.
type Outcome struct {
	ID uint64
	// Created is true when this call downloaded and created the attachment.
	Created bool
	// DryRun is true when the import was only logged.
	DryRun bool
}

// OK reports whether a destination id is available.
func (o Outcome) OK() bool { return o.ID != 0 }

// Options configure an Importer for one batch.
type Options struct {
	ScopeID       int
	SourceSiteURL string
	DryRun        bool
	MaxAttempts   int
	Backoff       time.Duration
	TempDir       string
	// RatePerSecond limits download starts; zero disables the limit.
	RatePerSecond float64
}

// Deps are the collaborators of an Importer.
type Deps struct {
	Mapping     mapping.Store
	Source      source.Repository
	Destination destination.Repository
	Sink        *logger.Sink
	Client      *http.Client
	Recorder    metrics.MetricRecorder
	Tracer      metrics.Tracer
	// Sleep replaces the backoff wait; used by tests.
	Sleep retry.Sleeper
}

// Importer resolves source attachments to destination attachments.
type Importer struct {
	deps    Deps
	opts    Options
	limiter *rate.Limiter
}

// NewImporter creates an Importer.
func NewImporter(deps Deps, opts Options) *Importer {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.ScopeID < 1 {
		opts.ScopeID = 1
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.NewNoOpMetricRecorder()
	}
	if deps.Tracer == nil {
		deps.Tracer = metrics.NewNoOpTracer()
	}
	if deps.Client == nil {
		deps.Client = http.DefaultClient
	}
	imp := &Importer{deps: deps, opts: opts}
	if opts.RatePerSecond > 0 {
		imp.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return imp
}

// DryRun reports whether the importer only logs.
func (m *Importer) DryRun() bool { return m.opts.DryRun }

// UploadsBase returns the public uploads root of the source site.
func (m *Importer) UploadsBase() string {
	return strings.TrimRight(m.opts.SourceSiteURL, "/") + UploadsMarker
}

// ImportByID returns the destination attachment for a source attachment
// id, importing it when it is not mapped yet. A mapped id is returned
// without any network or destination access.
func (m *Importer) ImportByID(ctx context.Context, sourceID uint64) (Outcome, error) {
	if id, ok, err := m.deps.Mapping.Get(ctx, m.opts.ScopeID, model.ObjectAttachment, sourceID); err != nil {
		return Outcome{}, err
	} else if ok {
		m.deps.Sink.Info("Attachment already mapped", logger.Fields{"source_id": sourceID, "dest_id": id})
		m.deps.Recorder.RecordAttachment(ctx, metrics.ResultReused)
		return Outcome{ID: id}, nil
	}

	attachment, err := m.deps.Source.GetPostWithMeta(ctx, sourceID)
	if err != nil {
		m.fail(ctx, "Failed to read attachment from source DB", logger.Fields{"attachment_id": sourceID, "error": err.Error()})
		return Outcome{}, err
	}
	if attachment == nil {
		m.fail(ctx, "Attachment not found in source DB", logger.Fields{"attachment_id": sourceID})
		return Outcome{}, exception.NewAttachmentUnresolvableError(sourceID)
	}
	return m.ImportRecord(ctx, sourceID, attachment.Post, attachment.Meta)
}

// ImportRecord imports an attachment from its source row and meta.
// sourceID zero marks a URL-only import, mapped by the CRC32 of the file
// path under attachment_url.
func (m *Importer) ImportRecord(ctx context.Context, sourceID uint64, post model.PostRow, meta []model.MetaRow) (Outcome, error) {
	ctx, end := m.deps.Tracer.StartSpan(ctx, metrics.SpanMedia, map[string]interface{}{"source_id": sourceID})
	defer end()

	if sourceID > 0 {
		if id, ok, err := m.deps.Mapping.Get(ctx, m.opts.ScopeID, model.ObjectAttachment, sourceID); err != nil {
			return Outcome{}, err
		} else if ok {
			m.deps.Recorder.RecordAttachment(ctx, metrics.ResultReused)
			return Outcome{ID: id}, nil
		}
	}

	attachedFile := AttachedFile(post, meta)
	if attachedFile == "" {
		m.fail(ctx, "Could not determine attached file path for attachment", logger.Fields{"source_id": sourceID, "guid": post.GUID})
		return Outcome{}, exception.NewAttachmentUnresolvableError(sourceID)
	}

	urlKey := PathHash(attachedFile)
	if sourceID == 0 {
		if id, ok, err := m.deps.Mapping.Get(ctx, m.opts.ScopeID, model.ObjectAttachmentURL, urlKey); err != nil {
			return Outcome{}, err
		} else if ok {
			m.deps.Recorder.RecordAttachment(ctx, metrics.ResultReused)
			return Outcome{ID: id}, nil
		}
	}

	sourceURL := m.UploadsBase() + strings.TrimLeft(attachedFile, "/")
	subdir := Subdir(attachedFile)

	if m.opts.DryRun {
		m.deps.Sink.Info("[DRY RUN] Would import attachment", logger.Fields{
			"source_id":  sourceID,
			"source_url": sourceURL,
			"subdir":     subdir,
			"post_title": post.PostTitle,
		})
		m.deps.Recorder.RecordAttachment(ctx, metrics.ResultDryRun)
		return Outcome{DryRun: true}, nil
	}

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return Outcome{}, err
		}
	}

	m.deps.Sink.Info("Downloading attachment", logger.Fields{"source_id": sourceID, "source_url": sourceURL, "subdir": subdir})
	tmp, err := DownloadWithRetry(ctx, m.deps.Client, sourceURL, m.opts.MaxAttempts, m.opts.Backoff, DownloadOptions{
		TempDir: m.opts.TempDir,
		Sleep:   m.deps.Sleep,
		OnAttempt: func(attempt int, n int64, err error) {
			if err != nil {
				m.deps.Recorder.RecordDownloadAttempt(ctx, metrics.ResultError, 0)
				m.deps.Sink.Warn("Download attempt failed", logger.Fields{"source_url": sourceURL, "attempt": attempt, "error": err.Error()})
				return
			}
			m.deps.Recorder.RecordDownloadAttempt(ctx, metrics.ResultOK, n)
		},
	})
	if err != nil {
		m.deps.Tracer.RecordError(ctx, "media", err)
		m.fail(ctx, "Failed to download attachment", logger.Fields{"source_id": sourceID, "source_url": sourceURL, "error": err.Error()})
		return Outcome{}, err
	}

	destID, err := m.deps.Destination.CreateAttachment(ctx, destination.AttachmentFile{
		LocalPath: tmp,
		FileName:  path.Base(attachedFile),
		Subdir:    subdir,
		Title:     post.PostTitle,
	})
	if err != nil {
		m.fail(ctx, "Failed to sideload attachment", logger.Fields{"source_id": sourceID, "source_url": sourceURL, "error": err.Error()})
		return Outcome{}, exception.NewRowUpsertError("media", string(model.ObjectAttachment), sourceID, err)
	}

	if sourceID > 0 {
		if err := m.deps.Mapping.Upsert(ctx, m.opts.ScopeID, model.ObjectAttachment, sourceID, destID); err != nil {
			return Outcome{}, err
		}
		if err := m.deps.Destination.SetMeta(ctx, destID, MetaSourceAttachmentID, fmt.Sprint(sourceID)); err != nil {
			logger.Warnf("Failed to tag attachment %d with its source id: %v", destID, err)
		}
	} else {
		if err := m.deps.Mapping.Upsert(ctx, m.opts.ScopeID, model.ObjectAttachmentURL, urlKey, destID); err != nil {
			return Outcome{}, err
		}
	}
	if err := m.deps.Destination.SetMeta(ctx, destID, MetaSourceAttachedFile, attachedFile); err != nil {
		logger.Warnf("Failed to tag attachment %d with its source file: %v", destID, err)
	}

	m.deps.Sink.Info("Imported attachment", logger.Fields{
		"source_id":  sourceID,
		"dest_id":    destID,
		"source_url": sourceURL,
		"subdir":     subdir,
		"post_title": post.PostTitle,
	})
	m.deps.Recorder.RecordAttachment(ctx, metrics.ResultImported)
	return Outcome{ID: destID, Created: true}, nil
}

// ImportFromURL resolves an uploads URL of the source site. The file is
// looked up by its attached path first; unknown files are imported as
// URL-only attachments.
func (m *Importer) ImportFromURL(ctx context.Context, rawURL string) (Outcome, error) {
	attachedFile := FileFromURL(rawURL)
	if attachedFile == "" {
		return Outcome{}, exception.NewAttachmentUnresolvableError(0)
	}
	return m.ImportFile(ctx, attachedFile)
}

// ImportFile resolves an attached file path relative to the uploads root.
func (m *Importer) ImportFile(ctx context.Context, attachedFile string) (Outcome, error) {
	attachedFile = strings.TrimLeft(attachedFile, "/")
	sourceID, ok, err := m.deps.Source.FindAttachmentIDByFile(ctx, attachedFile)
	if err != nil {
		m.fail(ctx, "Failed to look up attachment by file", logger.Fields{"path": attachedFile, "error": err.Error()})
		return Outcome{}, err
	}
	if ok {
		return m.ImportByID(ctx, sourceID)
	}
	fakePost := model.PostRow{PostTitle: path.Base(attachedFile), GUID: m.UploadsBase() + attachedFile}
	meta := []model.MetaRow{{MetaKey: "_wp_attached_file", MetaValue: attachedFile}}
	return m.ImportRecord(ctx, 0, fakePost, meta)
}

// AttachmentURL returns the public URL of a destination attachment.
func (m *Importer) AttachmentURL(ctx context.Context, destID uint64) (string, error) {
	return m.deps.Destination.AttachmentURL(ctx, destID)
}

func (m *Importer) fail(ctx context.Context, msg string, fields logger.Fields) {
	m.deps.Sink.Error(msg, fields)
	m.deps.Recorder.RecordAttachment(ctx, metrics.ResultFailed)
}

// AttachedFile returns the uploads-relative path of an attachment: the
// _wp_attached_file meta, else the part of the guid after the uploads marker.
func AttachedFile(post model.PostRow, meta []model.MetaRow) string {
	var file string
	for _, row := range meta {
		if row.MetaKey == "_wp_attached_file" {
			file = row.MetaValue
		}
	}
	if file == "" {
		file = FileFromURL(post.GUID)
	}
	return file
}

// FileFromURL returns the path after the uploads marker without query or
// fragment, or "" when u is not an uploads URL.
func FileFromURL(u string) string {
	i := strings.Index(u, UploadsMarker)
	if i < 0 {
		return ""
	}
	file := u[i+len(UploadsMarker):]
	if j := strings.IndexAny(file, "?#"); j >= 0 {
		file = file[:j]
	}
	return strings.TrimLeft(file, "/")
}

// Subdir extracts the "YYYY/MM" segment of an attached file path.
func Subdir(attachedFile string) string {
	if m := subdirPattern.FindStringSubmatch(attachedFile); m != nil {
		return m[1]
	}
	return ""
}

// PathHash is the mapping key of a URL-only attachment. Distinct paths may
// collide; such attachments share one destination id.
func PathHash(attachedFile string) uint64 {
	return uint64(crc32.ChecksumIEEE([]byte(attachedFile)))
}
