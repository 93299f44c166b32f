package types

import (
	"context"

	"github.com/xhad/medicus/internal/models"
)

// Core interfaces

type Extractor interface {
	Extract(ctx context.Context, file models.FilePayload) (models.Extraction, error)
}

type DocumentStore interface {
	Put(ctx context.Context, rec models.DocumentRecord) (models.DocumentRecord, error)
	ListByListing(ctx context.Context, listingID models.ListingID) ([]models.DocumentRecord, error)
	GetByID(ctx context.Context, documentID string) (models.DocumentRecord, bool, error)
}

type ListingStore interface {
	CreateListing(ctx context.Context, name string) (models.Listing, error)
	GetListing(ctx context.Context, id models.ListingID) (models.Listing, bool, error)
}

// Store is what a deployment backend provides.
type Store interface {
	DocumentStore
	ListingStore
	Close()
}

type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}
