package entity

import (
	"time"

	"github.com/google/uuid"
)

// VectorReference records that a normalized row has been embedded and
// stored with the vector gateway (spec §4.5, §3). The embed stage
// re-embeds the row and overwrites its reference on every embed message;
// it does not consult an existing reference first.
type VectorReference struct {
	ID       uuid.UUID
	TenantID uuid.UUID

	// SourceKind and SourceID identify the normalized row this vector
	// represents (e.g. "work_item", "pull_request").
	SourceKind string
	SourceID   uuid.UUID

	VectorModel string

	// ExternalVectorID is the id the vector gateway assigned the stored
	// embedding, used to delete/replace it on re-embedding.
	ExternalVectorID string

	// ContentHash is the hash of the canonical text last embedded;
	// IsStale compares it with a freshly computed hash.
	ContentHash string

	EmbeddedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsStale reports whether the row's current content hash has diverged
// from what was last embedded.
func (v VectorReference) IsStale(currentHash string) bool {
	return v.ContentHash != currentHash
}
