package restyle

import (
	"encoding/json"

	"github.com/fpang/page-restyle/internal/store"
)

// Event type tags carried in the "type" field of every serialized event.
const (
	EventProgress = "progress"
	EventComplete = "complete"
	EventError    = "error"
)

// Progress steps.
const (
	StepStart   = "start"
	StepDesktop = "desktop"
	StepMobile  = "mobile"
)

// Event is one message on a job's progress stream.
type Event interface {
	EventType() string
}

// Sink receives a job's events in order. Emit is called synchronously from
// the job loop; delivery is best-effort and never blocks job completion.
type Sink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// discard is used when a job runs without a consumer.
var discard = SinkFunc(func(Event) {})

// ProgressEvent reports how far a job has got.
type ProgressEvent struct {
	Step    string `json:"step"`
	Message string `json:"message"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

func (ProgressEvent) EventType() string { return EventProgress }

func (e ProgressEvent) MarshalJSON() ([]byte, error) {
	type alias ProgressEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventProgress, alias(e)})
}

// SectionResult is the per-segment summary carried by CompleteEvent.
type SectionResult struct {
	SectionID string         `json:"sectionId"`
	Viewport  store.Viewport `json:"viewport"`
	Status    Status         `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	ImageID   int64          `json:"imageId,omitempty"`
	ImageURL  string         `json:"imageUrl,omitempty"`
}

// CompleteEvent closes a job that ran its passes.
type CompleteEvent struct {
	UpdatedCount int             `json:"updatedCount"`
	TotalCount   int             `json:"totalCount"`
	Sections     []SectionResult `json:"sections"`
}

func (CompleteEvent) EventType() string { return EventComplete }

func (e CompleteEvent) MarshalJSON() ([]byte, error) {
	type alias CompleteEvent
	if e.Sections == nil {
		e.Sections = []SectionResult{}
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventComplete, alias(e)})
}

// ErrorEvent closes a job that was aborted before any segment ran.
type ErrorEvent struct {
	Error string `json:"error"`
}

func (ErrorEvent) EventType() string { return EventError }

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	type alias ErrorEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventError, alias(e)})
}
