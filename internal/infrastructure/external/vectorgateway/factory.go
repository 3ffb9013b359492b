package vectorgateway

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sogos/etlcore/internal/domain/entity"
	"github.com/sogos/etlcore/internal/domain/repository"
	"github.com/sogos/etlcore/internal/domain/service"
	"github.com/sogos/etlcore/internal/domain/valueobject"
)

// credentialDecryptor is the narrow slice of crypto.Encryptor the
// factory needs, kept as an interface so this package does not import
// infrastructure/crypto directly.
type credentialDecryptor interface {
	Decrypt(blob []byte) (string, error)
}

// Factory creates per-tenant VectorGateway instances, resolving each
// tenant's vector-gateway Integration row for credentials and endpoints
// (spec §4.5), following the teacher's gemini.ProviderFactory shape.
type Factory struct {
	integrations repository.IntegrationRepository
	decryptor    credentialDecryptor
	logger       service.Logger
}

func NewFactory(integrations repository.IntegrationRepository, decryptor credentialDecryptor, logger service.Logger) *Factory {
	return &Factory{integrations: integrations, decryptor: decryptor, logger: logger}
}

var _ service.VectorGatewayFactory = (*Factory)(nil)

func (f *Factory) PrimaryGateway(ctx context.Context, tenantID string) (service.VectorGateway, error) {
	integration, err := f.vectorGatewayIntegration(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	apiKey, err := f.decryptor.Decrypt(integration.EncryptedCredentials)
	if err != nil {
		return nil, fmt.Errorf("decrypt vector gateway credentials: %w", err)
	}

	endpoint := integration.Settings.PrimaryVectorURL
	if endpoint == "" {
		endpoint = integration.BaseURL
	}

	return NewClient(ctx, apiKey, endpoint)
}

func (f *Factory) FallbackGateway(ctx context.Context, tenantID string) (service.VectorGateway, error) {
	integration, err := f.vectorGatewayIntegration(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if integration.Settings.FallbackVectorURL == "" {
		return nil, fmt.Errorf("tenant %s has no fallback vector gateway configured", tenantID)
	}

	apiKey, err := f.decryptor.Decrypt(integration.EncryptedCredentials)
	if err != nil {
		return nil, fmt.Errorf("decrypt vector gateway credentials: %w", err)
	}

	return NewClient(ctx, apiKey, integration.Settings.FallbackVectorURL)
}

func (f *Factory) vectorGatewayIntegration(ctx context.Context, tenantID string) (*entity.Integration, error) {
	id, err := uuid.Parse(tenantID)
	if err != nil {
		return nil, fmt.Errorf("parse tenant id %q: %w", tenantID, err)
	}

	integrations, err := f.integrations.ListByTenant(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list tenant integrations: %w", err)
	}
	for i := range integrations {
		if integrations[i].ProviderKind == valueobject.ProviderKindVectorGateway {
			return &integrations[i], nil
		}
	}
	return nil, fmt.Errorf("tenant %s has no vector gateway integration configured", tenantID)
}
