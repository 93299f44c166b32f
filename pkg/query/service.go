// Package query answers questions about a listing from its ingested documents,
// falling back to canned answers when the documents have nothing relevant.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xhad/medicus/internal/models"
	"github.com/xhad/medicus/internal/types"
	"github.com/xhad/medicus/pkg/fallback"
	"github.com/xhad/medicus/pkg/retrieval"
)

var ErrInvalidRequest = errors.New("invalid query request")

type Source string

const (
	SourceDocuments Source = "documents"
	SourceFallback  Source = "fallback"
)

type Answer struct {
	Text      string            `json:"answer"`
	Source    Source            `json:"source"`
	Category  fallback.Category `json:"-"`
	Sentences []string          `json:"sentences,omitempty"`
}

type Service struct {
	documents types.DocumentStore
	listings  types.ListingStore
	engine    *retrieval.Engine
	fallback  *fallback.Table
	logger    *slog.Logger
}

type ServiceConfig struct {
	Documents types.DocumentStore
	// Listings is optional and only used to attribute answers by listing name.
	Listings types.ListingStore
	Engine   *retrieval.Engine
	Fallback *fallback.Table
	Logger   *slog.Logger
}

func NewService(config ServiceConfig) (*Service, error) {
	if config.Documents == nil {
		return nil, errors.New("query: document store is required")
	}
	if config.Engine == nil {
		config.Engine = retrieval.New()
	}
	if config.Fallback == nil {
		table, err := fallback.NewTable(nil)
		if err != nil {
			return nil, err
		}
		config.Fallback = table
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Service{
		documents: config.Documents,
		listings:  config.Listings,
		engine:    config.Engine,
		fallback:  config.Fallback,
		logger:    config.Logger,
	}, nil
}

// Ask answers question from the documents of listingID.
func (s *Service) Ask(ctx context.Context, listingID models.ListingID, question string) (Answer, error) {
	if strings.TrimSpace(string(listingID)) == "" {
		return Answer{}, fmt.Errorf("%w: listing id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(question) == "" {
		return Answer{}, fmt.Errorf("%w: question is required", ErrInvalidRequest)
	}

	records, err := s.documents.ListByListing(ctx, listingID)
	if err != nil {
		return Answer{}, fmt.Errorf("failed to load documents: %w", err)
	}

	texts := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.ExtractedText != nil {
			texts = append(texts, *rec.ExtractedText)
		}
	}

	if result, ok := s.engine.Answer(s.attribution(ctx, listingID), texts, question); ok {
		return Answer{
			Text:      result.Answer,
			Source:    SourceDocuments,
			Category:  fallback.Classify(question),
			Sentences: result.Sentences,
		}, nil
	}

	category, text := s.fallback.Answer(question)
	s.logger.Debug("No document context, using fallback",
		"listing_id", listingID, "documents", len(records), "category", category.String())

	return Answer{Text: text, Source: SourceFallback, Category: category}, nil
}

func (s *Service) attribution(ctx context.Context, listingID models.ListingID) string {
	if s.listings == nil {
		return string(listingID)
	}
	listing, found, err := s.listings.GetListing(ctx, listingID)
	if err != nil {
		s.logger.Warn("Failed to look up listing name", "listing_id", listingID, "error", err)
		return string(listingID)
	}
	if !found || strings.TrimSpace(listing.Name) == "" {
		return string(listingID)
	}
	return listing.Name
}
