package restyle

import "errors"

// Job-fatal errors. Each aborts the job before any segment is processed.
var (
	ErrPageNotFound       = errors.New("page not found")
	ErrNotOwner           = errors.New("caller does not own this page")
	ErrNoEligibleSections = errors.New("page has no sections with an image to restyle")
	ErrNoEditOptions      = errors.New("at least one edit option must be enabled")
)

// Skip reasons recorded for segments left unchanged.
const (
	ReasonFetchFailed     = "fetch_failed"
	ReasonUnreadable      = "unreadable_image"
	ReasonCompositeFailed = "composite_failed"
	ReasonTimeout         = "timeout"
	ReasonCancelled       = "cancelled"
	ReasonNoImage         = "no_image"
	ReasonInverseFailed   = "inverse_failed"
	ReasonResizeFailed    = "resize_failed"
	ReasonUploadFailed    = "upload_failed"
	ReasonPersistFailed   = "persist_failed"
)
