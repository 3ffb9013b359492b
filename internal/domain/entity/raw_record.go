package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sogos/etlcore/internal/domain/valueobject"
)

// RawExtractionRecord is a single unprocessed payload captured by the
// extract stage, queued for the transform stage to normalize (spec §3,
// §4.2/§4.3 boundary).
type RawExtractionRecord struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	JobID    uuid.UUID

	// Kind identifies which normalized row(s) this payload transforms
	// into (e.g. "issue", "pull_request", "commit").
	Kind string

	// ExternalID is the provider's identifier for the primary entity in
	// Payload, used by the transform stage to dedupe/upsert.
	ExternalID string

	// Payload is the raw provider JSON, inline up to a size ceiling; for
	// larger payloads BlobRef names an object in overflow blob storage
	// and Payload is nil (spec §3 [DOMAIN STACK]).
	Payload json.RawMessage
	BlobRef string

	Status valueobject.RawRecordStatus

	// StepName ties this record back to the job's step/stage bookkeeping
	// so that terminal-flag propagation can report per-step progress.
	StepName string

	ErrorMessage *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasInlinePayload reports whether Payload should be used directly, as
// opposed to fetching BlobRef from overflow storage.
func (r RawExtractionRecord) HasInlinePayload() bool {
	return r.BlobRef == ""
}
