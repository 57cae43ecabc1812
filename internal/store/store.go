// Package store provides persistence for the page restyle pipeline: pages
// and their ordered sections, generated image records, restyle job records,
// per-user entitlements and per-user image-generation API keys.
//
// The DynamoDB implementation uses a single-table design. Partition keys
// group records by owner entity (PAGE#, IMAGE#, JOB#, USER#); sort keys
// distinguish record types (META, SECTION#, ENTITLEMENT#, APIKEY).
// MemoryStore implements the same interface for tests and local runs.
package store

import (
	"context"
	"errors"
)

// FeatureRestyle is the entitlement feature name checked before a restyle job.
const FeatureRestyle = "restyle"

var (
	// ErrQuotaExhausted is returned by ConsumeQuota when no units remain.
	ErrQuotaExhausted = errors.New("quota exhausted")

	// ErrSectionNotFound is returned when relinking an image to a section that
	// does not exist.
	ErrSectionNotFound = errors.New("section not found")
)

// PageStore defines the persistence interface used by the restyle service.
// Each method is safe for concurrent use.
//
// All Get methods return (nil, nil) when the requested record does not exist.
// All Put methods perform full-item replacement (upsert semantics).
type PageStore interface {
	// --- Pages and sections ---

	// GetPage returns the page with its sections sorted by display order.
	GetPage(ctx context.Context, pageID string) (*Page, error)

	// PutPage creates or replaces a page and all of its sections.
	PutPage(ctx context.Context, page *Page) error

	// --- Generated images ---

	// NextImageID allocates a new numeric image id.
	NextImageID(ctx context.Context) (int64, error)

	// CreateImageAndRelink stores the image record and points the section's
	// image reference for rec.Viewport at it, as a single write.
	CreateImageAndRelink(ctx context.Context, rec *ImageRecord) error

	// --- Restyle jobs ---

	// PutRestyleJob creates or replaces a restyle job record.
	PutRestyleJob(ctx context.Context, job *RestyleJob) error

	// GetRestyleJob retrieves a restyle job. Returns nil, nil if not found.
	GetRestyleJob(ctx context.Context, jobID string) (*RestyleJob, error)

	// --- Users ---

	// GetEntitlement returns the user's entitlement for a feature.
	GetEntitlement(ctx context.Context, userID, feature string) (*Entitlement, error)

	// PutEntitlement creates or replaces an entitlement.
	PutEntitlement(ctx context.Context, ent *Entitlement) error

	// ConsumeQuota atomically takes one unit from an active entitlement and
	// returns how many remain. Returns ErrQuotaExhausted when none are left.
	ConsumeQuota(ctx context.Context, userID, feature string) (int, error)

	// GetAPIKey returns the user's own image-generation API key, or "".
	GetAPIKey(ctx context.Context, userID string) (string, error)

	// PutAPIKey stores the user's own image-generation API key.
	PutAPIKey(ctx context.Context, userID, apiKey string) error
}

// --- Domain types ---

// Viewport distinguishes the desktop and mobile captures of a section.
type Viewport string

const (
	ViewportDesktop Viewport = "desktop"
	ViewportMobile  Viewport = "mobile"
)

// ImageRef is a section's link to one of its captured images. Width and
// Height may be zero when the dimensions were never recorded.
type ImageRef struct {
	ID       int64  `json:"id" dynamodbav:"id"`
	URL      string `json:"url" dynamodbav:"url"`
	Width    int    `json:"width,omitempty" dynamodbav:"width,omitempty"`
	Height   int    `json:"height,omitempty" dynamodbav:"height,omitempty"`
	MIMEType string `json:"mimeType,omitempty" dynamodbav:"mimeType,omitempty"`
}

// Section is one full-width layout block of a page
// (DynamoDB PK = PAGE#{pageId}, SK = SECTION#{order}#{sectionId}).
type Section struct {
	ID      string    `json:"id" dynamodbav:"id"`
	PageID  string    `json:"pageId" dynamodbav:"-"`
	Order   int       `json:"order" dynamodbav:"order"`
	Name    string    `json:"name,omitempty" dynamodbav:"name,omitempty"`
	Desktop *ImageRef `json:"desktopImage,omitempty" dynamodbav:"desktopImage,omitempty"`
	Mobile  *ImageRef `json:"mobileImage,omitempty" dynamodbav:"mobileImage,omitempty"`
}

// Image returns the section's image for a viewport, or nil when there is no
// usable capture for it.
func (s Section) Image(vp Viewport) *ImageRef {
	var ref *ImageRef
	switch vp {
	case ViewportDesktop:
		ref = s.Desktop
	case ViewportMobile:
		ref = s.Mobile
	}
	if ref == nil || ref.URL == "" {
		return nil
	}
	return ref
}

// Page is a landing page owned by one user (DynamoDB PK = PAGE#{pageId}, SK = META).
type Page struct {
	ID        string    `json:"id" dynamodbav:"-"`
	OwnerID   string    `json:"ownerId" dynamodbav:"ownerId"`
	Title     string    `json:"title,omitempty" dynamodbav:"title,omitempty"`
	CreatedAt int64     `json:"createdAt" dynamodbav:"createdAt"`
	Sections  []Section `json:"sections" dynamodbav:"-"`
}

// ImageRecord is a generated image and the section slot it was linked to
// (DynamoDB PK = IMAGE#{id}, SK = META).
type ImageRecord struct {
	ID           int64    `json:"id" dynamodbav:"-"`
	URL          string   `json:"url" dynamodbav:"url"`
	Width        int      `json:"width" dynamodbav:"width"`
	Height       int      `json:"height" dynamodbav:"height"`
	MIMEType     string   `json:"mimeType" dynamodbav:"mimeType"`
	PageID       string   `json:"pageId" dynamodbav:"pageId"`
	SectionID    string   `json:"sectionId" dynamodbav:"sectionId"`
	SectionOrder int      `json:"sectionOrder" dynamodbav:"sectionOrder"`
	Viewport     Viewport `json:"viewport" dynamodbav:"viewport"`
	JobID        string   `json:"jobId,omitempty" dynamodbav:"jobId,omitempty"`
	CreatedAt    int64    `json:"createdAt" dynamodbav:"createdAt"`
}

// Ref converts the record into the reference stored on its section.
func (r *ImageRecord) Ref() ImageRef {
	return ImageRef{ID: r.ID, URL: r.URL, Width: r.Width, Height: r.Height, MIMEType: r.MIMEType}
}

// Job status values.
const (
	JobStatusRunning  = "running"
	JobStatusComplete = "complete"
	JobStatusError    = "error"
)

// RestyleJob is the durable summary of one restyle run
// (DynamoDB PK = JOB#{jobId}, SK = META).
type RestyleJob struct {
	ID            string       `json:"id" dynamodbav:"-"`
	PageID        string       `json:"pageId" dynamodbav:"pageId"`
	OwnerID       string       `json:"ownerId" dynamodbav:"ownerId"`
	Status        string       `json:"status" dynamodbav:"status"`
	IncludeMobile bool         `json:"includeMobile" dynamodbav:"includeMobile"`
	UpdatedCount  int          `json:"updatedCount" dynamodbav:"updatedCount"`
	TotalCount    int          `json:"totalCount" dynamodbav:"totalCount"`
	Outcomes      []JobOutcome `json:"outcomes,omitempty" dynamodbav:"outcomes,omitempty"`
	Error         string       `json:"error,omitempty" dynamodbav:"error,omitempty"`
	CreatedAt     int64        `json:"createdAt" dynamodbav:"createdAt"`
	CompletedAt   int64        `json:"completedAt,omitempty" dynamodbav:"completedAt,omitempty"`
}

// JobOutcome records what happened to one segment of a job.
type JobOutcome struct {
	SectionID string   `json:"sectionId" dynamodbav:"sectionId"`
	Viewport  Viewport `json:"viewport" dynamodbav:"viewport"`
	Status    string   `json:"status" dynamodbav:"status"`
	Reason    string   `json:"reason,omitempty" dynamodbav:"reason,omitempty"`
	ImageID   int64    `json:"imageId,omitempty" dynamodbav:"imageId,omitempty"`
	ImageURL  string   `json:"imageUrl,omitempty" dynamodbav:"imageUrl,omitempty"`
}

// Entitlement grants a user a metered feature
// (DynamoDB PK = USER#{userId}, SK = ENTITLEMENT#{feature}).
type Entitlement struct {
	UserID    string `json:"userId" dynamodbav:"-"`
	Feature   string `json:"feature" dynamodbav:"-"`
	Active    bool   `json:"active" dynamodbav:"active"`
	Suspended bool   `json:"suspended,omitempty" dynamodbav:"suspended,omitempty"`
	Remaining int    `json:"remaining" dynamodbav:"remaining"`
}
