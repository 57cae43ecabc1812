// Package restyle drives a restyle job: it walks a page's segments in display
// order, desktop pass first and then the optional mobile pass, and sends each
// one through boundary planning, compositing, the restyling service and the
// inverse composite before persisting the result.
//
// Segments run strictly one after another. The first segment of a pass sets
// the style reference that every later segment of that pass is sent with, so
// nothing within a job may run in parallel. Independent jobs share no state.
package restyle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/page-restyle/internal/boundary"
	"github.com/fpang/page-restyle/internal/compositor"
	"github.com/fpang/page-restyle/internal/metrics"
	"github.com/fpang/page-restyle/internal/store"
)

// DefaultCallTimeout bounds a single restyling service call. A call that runs
// past it is treated like a call that returned no image.
const DefaultCallTimeout = 90 * time.Second

// Store is the subset of store.PageStore a job needs.
type Store interface {
	GetPage(ctx context.Context, pageID string) (*store.Page, error)
	NextImageID(ctx context.Context) (int64, error)
	CreateImageAndRelink(ctx context.Context, rec *store.ImageRecord) error
	PutRestyleJob(ctx context.Context, job *store.RestyleJob) error
}

// Fetcher downloads image bytes by URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Uploader stores image bytes under key and returns their public URL.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Notifier is told about every job that reaches completion.
type Notifier interface {
	RestyleCompleted(ctx context.Context, job *store.RestyleJob) error
}

// Config wires an Orchestrator. Notifier is optional; CallTimeout defaults to
// DefaultCallTimeout.
type Config struct {
	Store       Store
	Fetcher     Fetcher
	Uploader    Uploader
	Notifier    Notifier
	CallTimeout time.Duration
}

// Orchestrator runs restyle jobs. It holds no per-job state and may run any
// number of jobs concurrently.
type Orchestrator struct {
	store       Store
	fetcher     Fetcher
	uploader    Uploader
	notifier    Notifier
	callTimeout time.Duration
	now         func() time.Time
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Orchestrator{
		store:       cfg.Store,
		fetcher:     cfg.Fetcher,
		uploader:    cfg.Uploader,
		notifier:    cfg.Notifier,
		callTimeout: timeout,
		now:         time.Now,
	}
}

// Job is one restyle run requested by a page owner.
type Job struct {
	ID       string
	PageID   string
	OwnerID  string
	Request  Request
	Restyler Restyler
}

// NewJobID returns a fresh restyle job id.
func NewJobID() string {
	return "rst-" + uuid.NewString()
}

// Run executes job and reports its progress to sink. Fatal problems found
// before the first segment (missing page, foreign page, no enabled edit
// option, nothing to restyle) emit a single error event and are returned.
// Otherwise every eligible segment is attempted, exactly one complete event
// is emitted, and the finished job record is returned with a nil error.
//
// Cancelling ctx stops the job between segments; the remaining segments are
// recorded as skipped and the complete event is still emitted.
func (o *Orchestrator) Run(ctx context.Context, job Job, sink Sink) (*store.RestyleJob, error) {
	if sink == nil {
		sink = discard
	}
	if job.ID == "" {
		job.ID = NewJobID()
	}
	start := o.now()

	logger := log.With().Str("jobId", job.ID).Str("pageId", job.PageID).Logger()
	logger.Info().
		Bool("includeMobile", job.Request.IncludeMobile).
		Strs("editOptions", job.Request.EditOptions.Enabled()).
		Int("boundaryOverrides", len(job.Request.SectionBoundaries)).
		Msg("Starting restyle job")

	passes, err := o.prepare(ctx, job)
	if err != nil {
		logger.Error().Err(err).Msg("Restyle job aborted")
		sink.Emit(ErrorEvent{Error: err.Error()})
		o.saveJob(ctx, &store.RestyleJob{
			ID:            job.ID,
			PageID:        job.PageID,
			OwnerID:       job.OwnerID,
			Status:        store.JobStatusError,
			IncludeMobile: job.Request.IncludeMobile,
			Error:         err.Error(),
			CreatedAt:     start.Unix(),
			CompletedAt:   o.now().Unix(),
		})
		return nil, err
	}

	total := 0
	for _, p := range passes {
		total += len(p.segments)
	}

	record := &store.RestyleJob{
		ID:            job.ID,
		PageID:        job.PageID,
		OwnerID:       job.OwnerID,
		Status:        store.JobStatusRunning,
		IncludeMobile: job.Request.IncludeMobile,
		TotalCount:    total,
		CreatedAt:     start.Unix(),
	}
	o.saveJob(ctx, record)

	sink.Emit(ProgressEvent{
		Step:    StepStart,
		Message: fmt.Sprintf("Restyling %d segments", total),
		Current: 0,
		Total:   total,
	})

	js := &jobState{
		job:    job,
		bounds: boundary.NewIndex(job.Request.SectionBoundaries),
		fetch:  o.fetcher,
		cache:  make(map[string]compositor.Image),
		failed: make(map[string]error),
	}

	var (
		outcomes  []Outcome
		reference *compositor.Image
		done      int
	)
	for _, p := range passes {
		if p.viewport == store.ViewportMobile {
			p.chain = NewStyleChain(reference)
		} else {
			p.chain = NewStyleChain(nil)
		}

		for i := range p.segments {
			var out Outcome
			segStart := o.now()
			if err := ctx.Err(); err != nil {
				out = skipped(p.segments[i], i, ReasonCancelled)
			} else {
				out = o.processSegment(ctx, js, p, i)
			}
			out.Duration = o.now().Sub(segStart)

			if out.Status == StatusUpdated && p.chain.SetIfFirst(i, out.Result) {
				logger.Debug().Str("viewport", string(p.viewport)).Msg("Style reference established")
			}

			outcomes = append(outcomes, out)
			done++
			emitSegmentMetrics(job.ID, out)
			sink.Emit(ProgressEvent{
				Step:    stepFor(p.viewport),
				Message: progressMessage(out, len(p.segments)),
				Current: done,
				Total:   total,
			})
		}

		if p.viewport == store.ViewportDesktop && p.chain.Established() {
			reference = p.chain.Reference()
		}
	}

	record.Status = store.JobStatusComplete
	record.CompletedAt = o.now().Unix()
	sections := make([]SectionResult, len(outcomes))
	for i, out := range outcomes {
		if out.Status == StatusUpdated {
			record.UpdatedCount++
		}
		sections[i] = out.SectionResult()
		record.Outcomes = append(record.Outcomes, store.JobOutcome{
			SectionID: sections[i].SectionID,
			Viewport:  sections[i].Viewport,
			Status:    string(sections[i].Status),
			Reason:    sections[i].Reason,
			ImageID:   sections[i].ImageID,
			ImageURL:  sections[i].ImageURL,
		})
	}

	// The job record and notification outlive a cancelled job context.
	persistCtx := context.WithoutCancel(ctx)
	o.saveJob(persistCtx, record)
	if o.notifier != nil {
		if err := o.notifier.RestyleCompleted(persistCtx, record); err != nil {
			logger.Warn().Err(err).Msg("Failed to publish restyle completion")
		}
	}

	elapsed := o.now().Sub(start)
	metrics.New(metrics.Namespace).
		Metric("JobUpdatedSegments", float64(record.UpdatedCount), metrics.UnitCount).
		Metric("JobTotalSegments", float64(record.TotalCount), metrics.UnitCount).
		Metric("JobLatencyMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Property("jobId", job.ID).
		Property("pageId", job.PageID).
		Flush()

	logger.Info().
		Int("updated", record.UpdatedCount).
		Int("total", record.TotalCount).
		Dur("duration", elapsed).
		Msg("Restyle job complete")

	sink.Emit(CompleteEvent{
		UpdatedCount: record.UpdatedCount,
		TotalCount:   record.TotalCount,
		Sections:     sections,
	})
	return record, nil
}

// prepare loads the page and builds the passes. It is the only place a job
// can fail as a whole.
func (o *Orchestrator) prepare(ctx context.Context, job Job) ([]*pass, error) {
	if !job.Request.EditOptions.Any() {
		return nil, ErrNoEditOptions
	}
	if job.Restyler == nil {
		return nil, errors.New("no restyler configured for job")
	}

	page, err := o.store.GetPage(ctx, job.PageID)
	if err != nil {
		return nil, fmt.Errorf("load page %s: %w", job.PageID, err)
	}
	if page == nil {
		return nil, ErrPageNotFound
	}
	if page.OwnerID != job.OwnerID {
		return nil, ErrNotOwner
	}

	desktop := &pass{viewport: store.ViewportDesktop, segments: eligible(page.Sections, store.ViewportDesktop)}
	if len(desktop.segments) == 0 {
		return nil, ErrNoEligibleSections
	}
	passes := []*pass{desktop}
	if job.Request.IncludeMobile {
		passes = append(passes, &pass{viewport: store.ViewportMobile, segments: eligible(page.Sections, store.ViewportMobile)})
	}
	return passes, nil
}

// eligible returns the sections with a usable capture for vp, in display order.
func eligible(sections []store.Section, vp store.Viewport) []segment {
	var segs []segment
	for _, sec := range sections {
		if ref := sec.Image(vp); ref != nil {
			segs = append(segs, segment{section: sec, image: *ref, viewport: vp})
		}
	}
	return segs
}

func (o *Orchestrator) saveJob(ctx context.Context, job *store.RestyleJob) {
	if err := o.store.PutRestyleJob(ctx, job); err != nil {
		log.Warn().Err(err).Str("jobId", job.ID).Str("status", job.Status).Msg("Failed to persist restyle job record")
	}
}

// stepFor names the progress step of a viewport's pass.
func stepFor(vp store.Viewport) string {
	if vp == store.ViewportMobile {
		return StepMobile
	}
	return StepDesktop
}

func progressMessage(out Outcome, passTotal int) string {
	if out.Status == StatusUpdated {
		return fmt.Sprintf("Restyled %s section %d of %d", out.Viewport, out.Index+1, passTotal)
	}
	return fmt.Sprintf("Kept %s section %d of %d unchanged (%s)", out.Viewport, out.Index+1, passTotal, out.Reason)
}

func emitSegmentMetrics(jobID string, out Outcome) {
	m := metrics.New(metrics.Namespace).
		Dimension("Viewport", string(out.Viewport)).
		Metric("SegmentLatencyMs", float64(out.Duration.Milliseconds()), metrics.UnitMilliseconds).
		Property("jobId", jobID).
		Property("sectionId", out.SectionID)
	if out.Status == StatusUpdated {
		m.Count("SegmentUpdated")
	} else {
		m.Dimension("Reason", out.Reason).Count("SegmentSkipped")
	}
	m.Flush()
}
