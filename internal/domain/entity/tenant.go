package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/sogos/etlcore/internal/domain/valueobject"
)

// Tenant is the top-level multi-tenancy boundary (spec §3).
type Tenant struct {
	ID          uuid.UUID
	DisplayName string
	Tier        valueobject.TenantTier
	Active      bool

	// OrchestratorIntervalMinutes is how often Tick() should consider
	// starting a new job for this tenant (spec §4.1 Tick()).
	OrchestratorIntervalMinutes int
	LastOrchestratorRunAt       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Integration is a tenant's configured external provider binding.
type Integration struct {
	ID       uuid.UUID
	TenantID uuid.UUID

	ProviderKind valueobject.IntegrationProviderKind

	// EncryptedCredentials is an opaque, encrypted blob (nonce ||
	// ciphertext || auth tag), decrypted on demand through the keyring
	// component (internal/infrastructure/crypto).
	EncryptedCredentials []byte

	BaseURL string

	// Settings is provider-specific free-form configuration: lists of
	// projects, organization name, repository filter patterns, etc.
	Settings IntegrationSettings

	Active bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IntegrationSettings is the provider-specific settings bag, stored as
// JSONB. Both issue-tracker and repo-host settings are folded into one
// struct with omitted-when-empty fields rather than a sum type, matching
// the teacher's preference for flat JSON-backed structs over
// polymorphic persistence (see entity.LessonComponent.ContentJSON, which
// takes the opposite approach only because its content truly is
// heterogeneous; ours is not).
type IntegrationSettings struct {
	ProjectKeys              []string `json:"project_keys,omitempty"`
	OrganizationName         string   `json:"organization_name,omitempty"`
	RepositoryFilterPatterns []string `json:"repository_filter_patterns,omitempty"`

	// VectorModel names the embedding model the vector-gateway
	// integration should request (e.g. "text-embedding-004").
	VectorModel string `json:"vector_model,omitempty"`

	// PrimaryVectorURL / FallbackVectorURL are per-tenant vectorizer
	// endpoints (spec §4.5).
	PrimaryVectorURL  string `json:"primary_vector_url,omitempty"`
	FallbackVectorURL string `json:"fallback_vector_url,omitempty"`
}
