package model

import "time"

// RecordState is the lifecycle state of an EventRecord.
type RecordState string

const (
	RecordPending    RecordState = "pending"
	RecordActive     RecordState = "active"
	RecordSuperseded RecordState = "superseded_active"
	RecordDeleted    RecordState = "deleted"
)

// EventRecord is the persisted document owned by the pipeline. It is inserted
// with a nil Event the moment a message passes the dedup gate.
type EventRecord struct {
	ID               string         `json:"_id"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        *time.Time     `json:"updatedAt,omitempty"`
	RawMessage       RawMessage     `json:"rawMessage"`
	Media            *MediaRef      `json:"media,omitempty"`
	Event            *Event         `json:"event"`
	PreviousVersions []EventVersion `json:"previousVersions"`
	IsActive         bool           `json:"isActive"`
	MessageSignature string         `json:"messageSignature,omitempty"`
}

// State derives the lifecycle state from the record's content.
func (r *EventRecord) State() RecordState {
	switch {
	case r == nil || !r.IsActive:
		return RecordDeleted
	case r.Event == nil:
		return RecordPending
	case len(r.PreviousVersions) > 0:
		return RecordSuperseded
	default:
		return RecordActive
	}
}

// EventVersion is a superseded snapshot pushed onto PreviousVersions.
type EventVersion struct {
	Event      *Event     `json:"event"`
	RawMessage RawMessage `json:"rawMessage"`
	Media      *MediaRef  `json:"media,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// CandidateEvent is the read-only projection used by the candidate matcher.
type CandidateEvent struct {
	ID   string `json:"_id"`
	Text string `json:"text"`
}

// ComparisonStatus is the three-way verdict of the comparison stage.
type ComparisonStatus string

const (
	StatusNewEvent      ComparisonStatus = "new_event"
	StatusExistingEvent ComparisonStatus = "existing_event"
	StatusUpdatedEvent  ComparisonStatus = "updated_event"
)

// ReasonCode tags an outbound confirmation.
type ReasonCode string

const (
	ReasonEventCreated     ReasonCode = "event_created"
	ReasonEventUpdated     ReasonCode = "event_updated"
	ReasonDuplicate        ReasonCode = "duplicate"
	ReasonNotAnEvent       ReasonCode = "not_an_event"
	ReasonValidationFailed ReasonCode = "validation_failed"
	ReasonProcessingFailed ReasonCode = "processing_failed"
)

// Confirmation is the outbound notice describing what happened to a message.
type Confirmation struct {
	Preview string            `json:"preview"`
	Reason  ReasonCode        `json:"reason"`
	Detail  string            `json:"detail,omitempty"`
	Context map[string]string `json:"context,omitempty"`
}
