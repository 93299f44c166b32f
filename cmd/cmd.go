package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xhad/medicus/internal/types"
	"github.com/xhad/medicus/pkg/blob"
	cfgPkg "github.com/xhad/medicus/pkg/config"
	"github.com/xhad/medicus/pkg/extractor"
	"github.com/xhad/medicus/pkg/fallback"
	"github.com/xhad/medicus/pkg/ingest"
	"github.com/xhad/medicus/pkg/llm"
	"github.com/xhad/medicus/pkg/query"
	"github.com/xhad/medicus/pkg/retrieval"
	"github.com/xhad/medicus/pkg/store"
)

// components is everything both the CLI and the server run on.
type components struct {
	store      types.Store
	blobs      types.BlobStore
	uploadsDir string
	extractor  types.Extractor
	health     func(ctx context.Context) error
	query      *query.Service
}

func build(ctx context.Context, config *cfgPkg.Config, logger *slog.Logger, onFile func(string, error)) (*components, *ingest.Coordinator, error) {
	c := &components{}

	if config.Database.URL != "" {
		pg, err := store.NewPostgresWithConfig(ctx, store.PostgresConfig{
			ConnString: config.Database.URL,
			VectorDim:  config.Database.VectorDim,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize document store: %w", err)
		}
		c.store = pg
	} else {
		logger.Info("No database configured, documents are kept in memory")
		c.store = store.NewMemoryStore()
	}

	switch config.Storage.Type {
	case "minio":
		m, err := blob.NewMinioStore(blob.MinioConfig{
			Endpoint:  config.Storage.Minio.Endpoint,
			AccessKey: config.Storage.Minio.AccessKey,
			SecretKey: config.Storage.Minio.SecretKey,
			Bucket:    config.Storage.Minio.Bucket,
			Prefix:    config.Storage.Minio.Prefix,
			UseSSL:    config.Storage.Minio.UseSSL,
		})
		if err != nil {
			c.store.Close()
			return nil, nil, fmt.Errorf("failed to initialize blob store: %w", err)
		}
		c.blobs = m
	default:
		c.blobs = blob.NewLocalStore(config.Storage.Root, config.Server.UploadsPath)
		c.uploadsDir = config.Storage.Root
	}

	switch config.Extractor.Mode {
	case "local":
		embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
			Model:   config.LLM.EmbedModel,
			BaseURL: config.LLM.BaseURL,
		})
		if err != nil {
			c.store.Close()
			return nil, nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		c.extractor = extractor.NewLocal(embedder)
	default:
		client, err := extractor.NewClient(extractor.ClientConfig{
			BaseURL:   config.Extractor.URL,
			Timeout:   config.Extractor.Timeout,
			RateLimit: config.Extractor.RateLimit,
		})
		if err != nil {
			c.store.Close()
			return nil, nil, fmt.Errorf("failed to initialize extraction client: %w", err)
		}
		c.extractor = client
		c.health = client.Health
	}

	coordinator, err := ingest.NewWithConfig(ingest.Dependencies{
		Extractor: c.extractor,
		Documents: c.store,
		Listings:  c.store,
		Blobs:     c.blobs,
	}, ingest.Config{
		Workers:                 config.Ingest.Workers,
		AllowedExtensions:       config.Ingest.AllowedExtensions,
		RecordFailedExtractions: config.Ingest.RecordFailedExtractions,
		OnFile:                  onFile,
		Logger:                  logger,
	})
	if err != nil {
		c.store.Close()
		return nil, nil, err
	}

	table, err := fallback.NewTable(config.Fallback.Responses)
	if err != nil {
		c.store.Close()
		return nil, nil, fmt.Errorf("invalid fallback responses: %w", err)
	}

	c.query, err = query.NewService(query.ServiceConfig{
		Documents: c.store,
		Listings:  c.store,
		Engine:    retrieval.NewWithConfig(retrieval.EngineConfig{MaxSentences: config.Retrieval.MaxSentences}),
		Fallback:  table,
		Logger:    logger,
	})
	if err != nil {
		c.store.Close()
		return nil, nil, err
	}

	return c, coordinator, nil
}
