// Package usage records which users saw which features. Recording happens
// off the evaluation path through a bounded, lossy Dispatcher.
package usage

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Event is one recorded use of a feature by a user.
type Event struct {
	ID             string            `json:"id"`
	FeatureName    string            `json:"feature_name"`
	UserID         string            `json:"user_id"`
	Environment    string            `json:"environment"`
	Timestamp      time.Time         `json:"timestamp"`
	AdditionalData map[string]string `json:"additional_data,omitempty"`
}

func NewEvent(featureName, userID, environment string, additionalData map[string]string, now time.Time) Event {
	return Event{
		ID:             uuid.NewString(),
		FeatureName:    featureName,
		UserID:         userID,
		Environment:    environment,
		Timestamp:      now.UTC(),
		AdditionalData: maps.Clone(additionalData),
	}
}

// Recorder persists usage events.
type Recorder interface {
	RecordUsage(ctx context.Context, event Event) error
}

// Fanout records every event with each of its recorders.
type Fanout []Recorder

func (f Fanout) RecordUsage(ctx context.Context, event Event) error {
	var errs []error
	for _, recorder := range f {
		if err := recorder.RecordUsage(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
