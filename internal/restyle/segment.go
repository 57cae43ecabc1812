package restyle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/page-restyle/internal/auth"
	"github.com/fpang/page-restyle/internal/boundary"
	"github.com/fpang/page-restyle/internal/compositor"
	"github.com/fpang/page-restyle/internal/store"
)

// Status is the tagged result of one segment.
type Status string

const (
	StatusUpdated Status = "updated"
	StatusSkipped Status = "skipped"
)

// Outcome is what happened to one segment. Updated outcomes carry the
// persisted image record and the final pixels; skipped outcomes carry a
// reason and leave the section's previous image in place.
type Outcome struct {
	SectionID string
	Viewport  store.Viewport
	Index     int
	Status    Status
	Reason    string
	Record    *store.ImageRecord
	Result    *compositor.Image
	Plan      boundary.Plan
	Duration  time.Duration
}

func updated(seg segment, index int, rec *store.ImageRecord, img *compositor.Image) Outcome {
	return Outcome{SectionID: seg.section.ID, Viewport: seg.viewport, Index: index, Status: StatusUpdated, Record: rec, Result: img}
}

func skipped(seg segment, index int, reason string) Outcome {
	return Outcome{SectionID: seg.section.ID, Viewport: seg.viewport, Index: index, Status: StatusSkipped, Reason: reason}
}

// SectionResult converts the outcome to its CompleteEvent summary.
func (o Outcome) SectionResult() SectionResult {
	r := SectionResult{SectionID: o.SectionID, Viewport: o.Viewport, Status: o.Status, Reason: o.Reason}
	if o.Record != nil {
		r.ImageID = o.Record.ID
		r.ImageURL = o.Record.URL
	}
	return r
}

// segment is one section's capture for one viewport, as it was when the job
// started. Neighbor strips always come from these original captures.
type segment struct {
	section  store.Section
	image    store.ImageRef
	viewport store.Viewport
}

// Call is everything the restyler needs for one segment.
type Call struct {
	Segment   compositor.Image
	Options   EditOptions
	Design    *DesignDefinition
	Viewport  store.Viewport
	Index     int
	Total     int
	Reference *compositor.Image
}

// Restyler regenerates one segment. A nil image with a nil error means the
// service produced nothing usable and the segment keeps its original.
type Restyler interface {
	Restyle(ctx context.Context, call Call) (*compositor.Image, error)
}

// pass is the mutable state of one sequential sweep over a viewport.
type pass struct {
	viewport store.Viewport
	segments []segment
	chain    *StyleChain
}

// processSegment runs plan, forward composite, restyle, inverse composite,
// resize and persist for one segment. Every failure becomes a skip.
func (o *Orchestrator) processSegment(ctx context.Context, js *jobState, p *pass, i int) Outcome {
	seg := p.segments[i]
	logger := log.With().
		Str("jobId", js.job.ID).
		Str("sectionId", seg.section.ID).
		Str("viewport", string(seg.viewport)).
		Int("index", i).
		Logger()

	own, err := js.image(ctx, seg.image.URL)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to fetch segment image, keeping original")
		return skipped(seg, i, ReasonFetchFailed)
	}

	override := js.bounds.For(seg.section.ID)
	in := boundary.Input{OwnHeight: own.Height, Override: override}
	if override.OffsetTop > 0 && i > 0 {
		in.PrevHeight = js.neighborHeight(ctx, p.segments[i-1], own.Width)
	}
	if override.OffsetBottom > 0 && i+1 < len(p.segments) {
		in.NextHeight = js.neighborHeight(ctx, p.segments[i+1], own.Width)
	}
	plan := boundary.Compute(in)

	var above, below *compositor.Image
	if plan.ExpandTop > 0 {
		above = js.neighbor(ctx, p.segments[i-1])
	}
	if plan.ExpandBottom > 0 {
		below = js.neighbor(ctx, p.segments[i+1])
	}

	sent, geo, err := compositor.Forward(own, plan, above, below)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to composite segment, keeping original")
		return skipped(seg, i, ReasonCompositeFailed)
	}

	call := Call{
		Segment:   sent,
		Options:   js.job.Request.EditOptions,
		Design:    js.job.Request.DesignDefinition,
		Viewport:  seg.viewport,
		Index:     i,
		Total:     len(p.segments),
		Reference: p.chain.Reference(),
	}
	returned, reason := o.callRestyler(ctx, js.job.Restyler, call)
	if reason != "" {
		logger.Warn().Str("reason", reason).Msg("Restyle produced no image, keeping original")
		return skipped(seg, i, reason)
	}

	back, err := compositor.Inverse(*returned, geo)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to crop restyled segment back, keeping original")
		return skipped(seg, i, ReasonInverseFailed)
	}
	final, err := compositor.Fit(back, geo.Width, geo.OriginalHeight)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to resize restyled segment, keeping original")
		return skipped(seg, i, ReasonResizeFailed)
	}

	rec, reason := o.persist(ctx, js, seg, final)
	if reason != "" {
		return skipped(seg, i, reason)
	}

	logger.Info().
		Int64("imageId", rec.ID).
		Int("width", rec.Width).
		Int("height", rec.Height).
		Bool("reference", call.Reference != nil).
		Msg("Segment restyled")

	out := updated(seg, i, rec, &final)
	out.Plan = plan
	return out
}

// callRestyler invokes the restyler under the per-call timeout and reduces
// every failure to a skip reason. A returned image is probed so its reported
// dimensions are trustworthy.
func (o *Orchestrator) callRestyler(ctx context.Context, r Restyler, call Call) (*compositor.Image, string) {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	img, err := r.Restyle(callCtx, call)
	switch {
	case errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return nil, ReasonTimeout
	case errors.Is(err, context.Canceled):
		return nil, ReasonCancelled
	case err != nil:
		log.Warn().Err(err).Int("index", call.Index).Msg("Restyle call failed")
		return nil, auth.SkipReason(err)
	case img == nil || len(img.Data) == 0:
		return nil, ReasonNoImage
	}

	probed, err := compositor.Probe(img.Data)
	if err != nil {
		log.Warn().Err(err).Int("index", call.Index).Msg("Restyle returned unreadable image")
		return nil, ReasonUnreadable
	}
	return &probed, ""
}

// persist uploads the final pixels, then creates the image record and
// relinks the section in one store call. Nothing is retried.
func (o *Orchestrator) persist(ctx context.Context, js *jobState, seg segment, img compositor.Image) (*store.ImageRecord, string) {
	logger := log.With().Str("jobId", js.job.ID).Str("sectionId", seg.section.ID).Str("viewport", string(seg.viewport)).Logger()

	id, err := o.store.NextImageID(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to allocate image id, keeping original")
		return nil, ReasonPersistFailed
	}

	key := fmt.Sprintf("restyled/%s/%s-%s-%d%s", js.job.PageID, seg.section.ID, seg.viewport, id, extensionFor(img.MIMEType))
	url, err := o.uploader.Upload(ctx, key, img.Data, img.MIMEType)
	if err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("Failed to upload restyled image, keeping original")
		return nil, ReasonUploadFailed
	}

	rec := &store.ImageRecord{
		ID:           id,
		URL:          url,
		Width:        img.Width,
		Height:       img.Height,
		MIMEType:     img.MIMEType,
		PageID:       js.job.PageID,
		SectionID:    seg.section.ID,
		SectionOrder: seg.section.Order,
		Viewport:     seg.viewport,
		JobID:        js.job.ID,
		CreatedAt:    o.now().Unix(),
	}
	if err := o.store.CreateImageAndRelink(ctx, rec); err != nil {
		logger.Warn().Err(err).Int64("imageId", id).Msg("Failed to relink section to restyled image, keeping original")
		return nil, ReasonPersistFailed
	}
	return rec, ""
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

// jobState is the per-job context shared by both passes. Original captures
// are fetched at most once per URL.
type jobState struct {
	job    Job
	bounds boundary.Index
	fetch  Fetcher
	cache  map[string]compositor.Image
	failed map[string]error
}

func (js *jobState) image(ctx context.Context, url string) (compositor.Image, error) {
	if img, ok := js.cache[url]; ok {
		return img, nil
	}
	if err, ok := js.failed[url]; ok {
		return compositor.Image{}, err
	}

	data, err := js.fetch.Fetch(ctx, url)
	if err == nil {
		var img compositor.Image
		if img, err = compositor.Probe(data); err == nil {
			js.cache[url] = img
			return img, nil
		}
	}
	err = fmt.Errorf("fetch %s: %w", url, err)
	js.failed[url] = err
	return compositor.Image{}, err
}

// neighbor returns a neighbor's original capture, or nil when it cannot be
// fetched. The caller proceeds without that side.
func (js *jobState) neighbor(ctx context.Context, seg segment) *compositor.Image {
	img, err := js.image(ctx, seg.image.URL)
	if err != nil {
		log.Warn().Err(err).Str("jobId", js.job.ID).Str("neighbor", seg.section.ID).Msg("Neighbor image unavailable, skipping expansion")
		return nil
	}
	return &img
}

// neighborHeight is the neighbor's height once scaled to ownWidth. Recorded
// dimensions are used when present; otherwise the image is fetched. Returns
// 0 when the height cannot be determined.
func (js *jobState) neighborHeight(ctx context.Context, seg segment, ownWidth int) int {
	w, h := seg.image.Width, seg.image.Height
	if w <= 0 || h <= 0 {
		img := js.neighbor(ctx, seg)
		if img == nil {
			return 0
		}
		w, h = img.Width, img.Height
	}
	if w <= 0 || ownWidth <= 0 {
		return 0
	}
	return int(math.Round(float64(h) * float64(ownWidth) / float64(w)))
}
