// Package notify publishes restyle job lifecycle events to EventBridge so
// downstream consumers (cache invalidation, analytics, email) can react to
// finished jobs without polling.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/page-restyle/internal/store"
)

const (
	// Source is the EventBridge source of every event published here.
	Source = "page-restyle"
	// DetailTypeCompleted is the detail-type of a finished job event.
	DetailTypeCompleted = "RestyleCompleted"
)

// EventsAPI is the subset of the EventBridge client used by the notifier.
type EventsAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Completed is the detail payload of a RestyleCompleted event.
type Completed struct {
	JobID         string `json:"jobId"`
	PageID        string `json:"pageId"`
	OwnerID       string `json:"ownerId"`
	Status        string `json:"status"`
	IncludeMobile bool   `json:"includeMobile"`
	UpdatedCount  int    `json:"updatedCount"`
	TotalCount    int    `json:"totalCount"`
	Error         string `json:"error,omitempty"`
	CompletedAt   int64  `json:"completedAt"`
}

// CompletedFromJob builds the event detail for a finished job.
func CompletedFromJob(job *store.RestyleJob) Completed {
	return Completed{
		JobID:         job.ID,
		PageID:        job.PageID,
		OwnerID:       job.OwnerID,
		Status:        job.Status,
		IncludeMobile: job.IncludeMobile,
		UpdatedCount:  job.UpdatedCount,
		TotalCount:    job.TotalCount,
		Error:         job.Error,
		CompletedAt:   job.CompletedAt,
	}
}

// EventBridgeNotifier publishes job events to one event bus.
type EventBridgeNotifier struct {
	client  EventsAPI
	busName string
}

// NewEventBridgeNotifier creates a notifier for busName.
func NewEventBridgeNotifier(client EventsAPI, busName string) *EventBridgeNotifier {
	return &EventBridgeNotifier{client: client, busName: busName}
}

// RestyleCompleted publishes a RestyleCompleted event for job.
func (n *EventBridgeNotifier) RestyleCompleted(ctx context.Context, job *store.RestyleJob) error {
	detail, err := json.Marshal(CompletedFromJob(job))
	if err != nil {
		return fmt.Errorf("marshal %s: %w", DetailTypeCompleted, err)
	}

	input := &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{
			{
				EventBusName: aws.String(n.busName),
				Source:       aws.String(Source),
				DetailType:   aws.String(DetailTypeCompleted),
				Detail:       aws.String(string(detail)),
			},
		},
	}

	result, err := n.client.PutEvents(ctx, input)
	if err != nil {
		log.Error().Err(err).Str("jobId", job.ID).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil || entry.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(entry.ErrorCode)).
					Str("errorMessage", aws.ToString(entry.ErrorMessage)).
					Str("jobId", job.ID).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
	}

	log.Debug().Str("jobId", job.ID).Str("bus", n.busName).Msg("RestyleCompleted emitted to EventBridge")
	return nil
}
