package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	// Infrastructure
	"github.com/sogos/etlcore/internal/infrastructure/blobstore"
	"github.com/sogos/etlcore/internal/infrastructure/config"
	"github.com/sogos/etlcore/internal/infrastructure/crypto"
	"github.com/sogos/etlcore/internal/infrastructure/external/issuetracker"
	"github.com/sogos/etlcore/internal/infrastructure/external/repohost"
	"github.com/sogos/etlcore/internal/infrastructure/external/vectorgateway"
	"github.com/sogos/etlcore/internal/infrastructure/logging"
	"github.com/sogos/etlcore/internal/infrastructure/persistence/postgres"
	"github.com/sogos/etlcore/internal/infrastructure/pubsub"
	infraqueue "github.com/sogos/etlcore/internal/infrastructure/queue"
	"github.com/sogos/etlcore/internal/infrastructure/worker"

	// Domain
	domainrepository "github.com/sogos/etlcore/internal/domain/repository"
	domainservice "github.com/sogos/etlcore/internal/domain/service"
	"github.com/sogos/etlcore/internal/domain/valueobject"

	// Application services
	"github.com/sogos/etlcore/internal/application/service"
)

func main() {
	logger := logging.Must(logging.Config{Level: os.Getenv("LOG_LEVEL")})
	logger.Info("starting etlcore")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	db, err := postgres.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	// Repositories
	tenantRepo := postgres.NewTenantRepository(db)
	integrationRepo := postgres.NewIntegrationRepository(db)
	jobRepo := postgres.NewJobRepository(db)
	rawRecordRepo := postgres.NewRawRecordRepository(db)
	projectRepo := postgres.NewProjectRepository(db)
	workItemRepo := postgres.NewWorkItemRepository(db)
	workItemChangeRepo := postgres.NewWorkItemChangeRepository(db)
	repositoryRepo := postgres.NewRepositoryRepository(db)
	pullRequestRepo := postgres.NewPullRequestRepository(db)
	commitRepo := postgres.NewCommitRepository(db)
	reviewRepo := postgres.NewReviewRepository(db)
	reviewCommentRepo := postgres.NewReviewCommentRepository(db)
	reviewThreadRepo := postgres.NewReviewThreadRepository(db)
	workItemPRLinkRepo := postgres.NewWorkItemPullRequestLinkRepository(db)
	vectorReferenceRepo := postgres.NewVectorReferenceRepository(db)

	// Credential keyring (optional; provider clients requiring decrypted
	// secrets are skipped with a warning when unset, same as the
	// teacher's encryptor-optional start-up path)
	var encryptor *crypto.Encryptor
	if cfg.EncryptionKey != "" {
		encryptor, err = crypto.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			logger.Error("failed to initialize encryptor", "error", err)
			os.Exit(1)
		}
		logger.Info("credential encryption configured")
	} else {
		logger.Warn("ENCRYPTION_KEY not configured, integrations will not load")
	}

	// Blob overflow storage for oversized raw-extraction payloads
	var blobs blobstore.BlobStore
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		s3Blobs, err := blobstore.NewS3BlobStore(context.Background(), blobstore.Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			BasePath:        cfg.S3BasePath,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
		})
		if err != nil {
			logger.Error("failed to initialize blob storage", "error", err)
			os.Exit(1)
		}
		blobs = s3Blobs
		logger.Info("using S3/MinIO blob storage", "endpoint", cfg.S3Endpoint, "bucket", cfg.S3Bucket)
	} else {
		logger.Error("S3 credentials not configured, blob overflow storage unavailable")
		os.Exit(1)
	}

	// Redis-backed broker (asynq) and progress pub/sub share one address,
	// distinct key spaces
	redisAddr := strings.TrimPrefix(strings.TrimPrefix(cfg.RedisURL, "redis://"), "rediss://")
	brokerClient := infraqueue.NewClient(asynq.RedisClientOpt{Addr: redisAddr}, cfg.DefaultMaxRetryAttempts)
	defer brokerClient.Close()
	logger.Info("asynq broker client initialized", "redisAddr", redisAddr)

	var progressPub pubsub.Publisher
	if cfg.EnableProgressPubSub {
		redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
		progressPub = pubsub.NewProgressPubSub(redisClient, logger)
		logger.Info("progress pub/sub enabled")
	} else {
		progressPub = pubsub.NewNoOpPubSub()
		logger.Warn("progress pub/sub disabled")
	}
	_ = progressPub

	clock := domainservice.SystemClock{}

	// Application services
	orchestrator := service.NewOrchestratorService(jobRepo, tenantRepo, integrationRepo, brokerClient, logger, clock)
	extract := service.NewExtractService(
		jobRepo, rawRecordRepo, integrationRepo, brokerClient, blobs,
		cfg.RawPayloadInlineLimitBytes, cfg.DefaultMaxRetryAttempts, logger, clock,
	)
	transform := service.NewTransformService(
		rawRecordRepo, projectRepo, workItemRepo, workItemChangeRepo,
		repositoryRepo, pullRequestRepo, commitRepo, reviewRepo, reviewCommentRepo, reviewThreadRepo, workItemPRLinkRepo,
		brokerClient, blobs, logger,
	)

	var vectorFactory domainservice.VectorGatewayFactory
	if encryptor != nil {
		vectorFactory = vectorgateway.NewFactory(integrationRepo, encryptor, logger)
	} else {
		vectorFactory = noVectorGatewayFactory{}
	}
	embed := service.NewEmbedService(
		vectorReferenceRepo, vectorFactory, orchestrator, jobRepo, logger, "text-embedding-004",
		projectRepo, workItemRepo, workItemChangeRepo, repositoryRepo, pullRequestRepo,
		commitRepo, reviewRepo, reviewCommentRepo, reviewThreadRepo,
	)

	// Resolve every active tenant's repo-host and issue-tracker
	// integrations into concrete provider clients, registered by
	// integration id so one ExtractService instance serves every tenant
	// (spec §6 "External Interfaces").
	if encryptor != nil {
		if err := registerProviderClients(context.Background(), tenantRepo, integrationRepo, encryptor, extract, logger); err != nil {
			logger.Error("failed to register provider clients", "error", err)
		}
	} else {
		logger.Warn("provider clients not registered (encryption key required)")
	}

	workerServer, err := worker.NewServer(
		context.Background(), redisAddr, tenantRepo,
		orchestrator, extract, transform, embed,
		10, logger,
	)
	if err != nil {
		logger.Error("failed to build worker server", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := workerServer.Run(); err != nil {
			logger.Error("asynq worker server error", "error", err)
		}
	}()
	logger.Info("asynq worker server started")

	// A minimal HTTP surface for liveness/readiness probes; the pipeline
	// itself is driven entirely by the orchestrator tick and the worker
	// queues, not by inbound HTTP requests.
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	workerServer.Shutdown()
	logger.Info("asynq worker server stopped")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// issuerCredentials is the decrypted secret shape for an issue-tracker
// integration: email plus API token, both required for Jira-shaped Basic
// Auth. Stored as the encryptor's plaintext payload, JSON-encoded before
// encryption at integration-creation time.
type issuerCredentials struct {
	Email    string `json:"email"`
	APIToken string `json:"api_token"`
}

// registerProviderClients walks every active tenant's integrations and
// builds a concrete repo-host or issue-tracker client for each, so the
// shared ExtractService can dispatch extraction messages regardless of
// which tenant or provider they belong to. Repo-host graphQL endpoints
// are derived from the integration's REST base URL following the
// provider's own convention (api.example.com -> api.example.com/graphql)
// since IntegrationSettings carries no separate field for it.
func registerProviderClients(
	ctx context.Context,
	tenants domainrepository.TenantRepository,
	integrations domainrepository.IntegrationRepository,
	encryptor *crypto.Encryptor,
	extract *service.ExtractService,
	logger domainservice.Logger,
) error {
	active, err := tenants.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active tenants: %w", err)
	}

	for _, t := range active {
		tenantIntegrations, err := integrations.ListByTenant(ctx, t.ID)
		if err != nil {
			logger.Error("failed to list tenant integrations", "tenant_id", t.ID, "error", err)
			continue
		}

		for _, integration := range tenantIntegrations {
			if !integration.Active {
				continue
			}

			switch integration.ProviderKind {
			case valueobject.ProviderKindRepos:
				token, err := encryptor.Decrypt(integration.EncryptedCredentials)
				if err != nil {
					logger.Error("failed to decrypt repo host credentials", "integration_id", integration.ID, "error", err)
					continue
				}
				client := repohost.NewClient(integration.BaseURL, integration.BaseURL+"/graphql", token)
				extract.RegisterRepoHost(integration.ID, client)
				logger.Info("registered repo host client", "tenant_id", t.ID, "integration_id", integration.ID)

			case valueobject.ProviderKindIssues:
				secret, err := encryptor.Decrypt(integration.EncryptedCredentials)
				if err != nil {
					logger.Error("failed to decrypt issue tracker credentials", "integration_id", integration.ID, "error", err)
					continue
				}
				var creds issuerCredentials
				if err := json.Unmarshal([]byte(secret), &creds); err != nil {
					logger.Error("failed to parse issue tracker credentials", "integration_id", integration.ID, "error", err)
					continue
				}
				client := issuetracker.NewClient(http.DefaultClient, integration.BaseURL, creds.Email, creds.APIToken)
				extract.RegisterIssueTracker(integration.ID, client)
				logger.Info("registered issue tracker client", "tenant_id", t.ID, "integration_id", integration.ID)
			}
		}
	}

	return nil
}

type noVectorGatewayFactory struct{}

func (noVectorGatewayFactory) PrimaryGateway(ctx context.Context, tenantID string) (domainservice.VectorGateway, error) {
	return nil, fmt.Errorf("vector gateway unavailable: encryption key not configured")
}

func (noVectorGatewayFactory) FallbackGateway(ctx context.Context, tenantID string) (domainservice.VectorGateway, error) {
	return nil, fmt.Errorf("vector gateway unavailable: encryption key not configured")
}
