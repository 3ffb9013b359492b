package queue

import (
	"time"

	"github.com/google/uuid"
)

// Envelope is the header every queue message carries regardless of
// stage, mirroring spec §4.2 "Message envelope inputs": tenant,
// integration, job, step name, and the control flags of §4.4.
type Envelope struct {
	TenantID      uuid.UUID `json:"tenant_id"`
	IntegrationID uuid.UUID `json:"integration_id"`
	JobID         uuid.UUID `json:"job_id"`
	StepName      string    `json:"step_name"`

	Flags ControlFlags `json:"flags"`
}

// ExtractionMessage seeds or continues one extraction step. A nil
// Checkpoint means "start fresh"; a populated one resumes from a
// previous rate-limit or pause boundary.
type ExtractionMessage struct {
	Envelope

	// ExtractionKind names which provider-specific extraction routine to
	// run (e.g. "repositories", "pull_requests", "nested_commits").
	ExtractionKind string `json:"extraction_kind"`

	// Cursor carries the kind-specific resume cursor (page token,
	// GraphQL end-cursor, etc).
	Cursor string `json:"cursor,omitempty"`

	// ParentExternalID ties a nested-edge continuation back to its
	// parent pull request or repository.
	ParentExternalID string `json:"parent_external_id,omitempty"`

	// OldLastSyncDate and ExtractionEndDate are frozen at run start
	// (entity.Checkpoint's doc comment) and carried unchanged across
	// every fan-out message of the run, so every provider call in the
	// run applies the same incremental-filtering boundary (spec §4.2).
	OldLastSyncDate *time.Time `json:"old_last_sync_date,omitempty"`
	ExtractionEndDate time.Time `json:"extraction_end_date"`

	Relay RelayBit `json:"relay"`
}

// TransformMessage hands one raw-extraction payload (or a completion
// marker, when RawRecordID is nil) to the transform stage.
type TransformMessage struct {
	Envelope

	// RawRecordID is nil for a completion message (spec GLOSSARY).
	RawRecordID *uuid.UUID `json:"raw_record_id,omitempty"`

	Kind string `json:"kind,omitempty"`
}

// EmbedMessage requests an embedding for one normalized row (or signals
// job completion, when SourceID is nil).
type EmbedMessage struct {
	Envelope

	SourceKind string     `json:"source_kind,omitempty"`
	SourceID   *uuid.UUID `json:"source_id,omitempty"`
}

// IsCompletionMessage reports whether m carries no row and exists purely
// to propagate terminal flags.
func (m TransformMessage) IsCompletionMessage() bool { return m.RawRecordID == nil }

// IsCompletionMessage reports whether m carries no row and exists purely
// to propagate terminal flags.
func (m EmbedMessage) IsCompletionMessage() bool { return m.SourceID == nil }
