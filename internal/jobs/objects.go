// Package jobs defines the serializable wire shapes crossing the queue
// boundary and the durable job-name registry that makes background jobs
// addressable by name.
package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/arealink/arealink/internal/placeholder"
)

// TriggerObject is the normalized form of a firing action: every inbound
// stimulus (webhook, delayed timer, poll tick) is reduced to one of these
// before it reaches the dispatcher.
type TriggerObject struct {
	ActionID     string                    `json:"actionId"`
	Placeholders []placeholder.Placeholder `json:"placeholders"`
}

// WorkableObject is the fully-resolved payload handed to a reaction's
// execution handler. It crosses the reaction-work queue and therefore must
// stay serializable: no open handles, no live object references.
type WorkableObject struct {
	ActionID        string         `json:"actionId"`
	ActionType      string         `json:"actionType"`
	ReactionID      string         `json:"reactionId"`
	ReactionType    string         `json:"reactionType"`
	ReactionOptions map[string]any `json:"reactionOptions,omitempty"`

	AreaID     string `json:"areaId"`
	AreaName   string `json:"areaName"`
	OwnerID    string `json:"ownerId"`
	OwnerEmail string `json:"ownerEmail"`

	Placeholders []placeholder.Placeholder `json:"placeholders"`

	// ReactionPreparedData is reaction-specific context fetched just in
	// time by the adapter's PrepareData (credentials, tokens).
	ReactionPreparedData map[string]any `json:"reactionPreparedData,omitempty"`
}

// ApplyPlaceholders substitutes the workable object's placeholders into a
// template string.
func (w *WorkableObject) ApplyPlaceholders(template string) string {
	return placeholder.Apply(template, w.Placeholders)
}

// DelayedJobObject describes a one-shot job scheduled to run after a delay.
// Exactly one of TriggerIn (milliseconds) or TriggerAt (unix milliseconds)
// should be set; TriggerIn wins when both are.
type DelayedJobObject struct {
	Service   string         `json:"service"`
	Name      string         `json:"name"`
	JobData   map[string]any `json:"jobData,omitempty"`
	TriggerIn int64          `json:"triggerIn,omitempty"`
	TriggerAt int64          `json:"triggerAt,omitempty"`
}

// PullingJobObject describes a recurring polling job.
type PullingJobObject struct {
	Service      string         `json:"service"`
	Name         string         `json:"name"`
	JobData      map[string]any `json:"jobData,omitempty"`
	TriggerEvery int64          `json:"triggerEvery"` // milliseconds
}

// delayedEnvelope pairs a delayed payload with its queue job id so the
// consumer can find the registry row.
type delayedEnvelope struct {
	JobID string           `json:"jobId"`
	Job   DelayedJobObject `json:"job"`
}

// EncodeWorkable serializes a WorkableObject for the reaction queue.
func EncodeWorkable(w *WorkableObject) ([]byte, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workable object: %w", err)
	}
	return data, nil
}

// DecodeWorkable deserializes a reaction queue payload.
func DecodeWorkable(data []byte) (*WorkableObject, error) {
	var w WorkableObject
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode workable object: %w", err)
	}
	return &w, nil
}

// EncodeDelayed serializes a delayed job envelope.
func EncodeDelayed(jobID string, job DelayedJobObject) ([]byte, error) {
	data, err := json.Marshal(delayedEnvelope{JobID: jobID, Job: job})
	if err != nil {
		return nil, fmt.Errorf("failed to encode delayed job: %w", err)
	}
	return data, nil
}

// DecodeDelayed deserializes a delayed queue payload.
func DecodeDelayed(data []byte) (string, DelayedJobObject, error) {
	var env delayedEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", DelayedJobObject{}, fmt.Errorf("failed to decode delayed job: %w", err)
	}
	return env.JobID, env.Job, nil
}

// EncodePulling serializes a pulling job payload.
func EncodePulling(job PullingJobObject) ([]byte, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pulling job: %w", err)
	}
	return data, nil
}

// DecodePulling deserializes a pulling queue payload.
func DecodePulling(data []byte) (PullingJobObject, error) {
	var job PullingJobObject
	if err := json.Unmarshal(data, &job); err != nil {
		return PullingJobObject{}, fmt.Errorf("failed to decode pulling job: %w", err)
	}
	return job, nil
}
