package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/medicus/internal/models"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type PostgresConfig struct {
	ConnString string
	VectorDim  int // 0 leaves the embedding column dimensionless
	OnCorrupt  func(*CorruptRecordError)
}

// PostgresStore persists listings and documents in Postgres with pgvector.
// Listing ids are BIGSERIAL values rendered in decimal.
type PostgresStore struct {
	config PostgresConfig
	pool   *pgxpool.Pool
}

func NewPostgresWithConfig(ctx context.Context, config PostgresConfig) (*PostgresStore, error) {
	if config.OnCorrupt == nil {
		config.OnCorrupt = logCorrupt
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	ps := &PostgresStore{
		config: config,
		pool:   pool,
	}

	if err := ps.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return ps, nil
}

func (ps *PostgresStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	if _, err := ps.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createListings := `
		CREATE TABLE IF NOT EXISTS listings (
			listing_id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
	if _, err := ps.pool.Exec(ctx, createListings); err != nil {
		return fmt.Errorf("failed to create listings table: %w", err)
	}

	vectorType := "vector"
	if ps.config.VectorDim > 0 {
		vectorType = fmt.Sprintf("vector(%d)", ps.config.VectorDim)
	}

	createDocuments := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS documents (
			seq BIGSERIAL,
			document_id TEXT PRIMARY KEY,
			listing_id BIGINT NOT NULL REFERENCES listings (listing_id),
			original_filename TEXT NOT NULL,
			storage_url TEXT NOT NULL,
			upload_timestamp TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
			extracted_text TEXT,
			embedding %s,
			page_count INTEGER NOT NULL DEFAULT 0
		)`, vectorType)
	if _, err := ps.pool.Exec(ctx, createDocuments); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}

	createIndex := `
		CREATE INDEX IF NOT EXISTS documents_listing_idx
		ON documents (listing_id, upload_timestamp DESC, seq DESC)`
	if _, err := ps.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

func (ps *PostgresStore) CreateListing(ctx context.Context, name string) (models.Listing, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Listing{}, fmt.Errorf("listing name is required")
	}

	var (
		id        int64
		createdAt time.Time
	)
	err := ps.pool.QueryRow(ctx,
		`INSERT INTO listings (name) VALUES ($1) RETURNING listing_id, created_at`, name,
	).Scan(&id, &createdAt)
	if err != nil {
		return models.Listing{}, fmt.Errorf("failed to create listing: %w", err)
	}

	return models.Listing{ID: formatListingID(id), Name: name, CreatedAt: createdAt}, nil
}

func (ps *PostgresStore) GetListing(ctx context.Context, id models.ListingID) (models.Listing, bool, error) {
	key, ok := parseListingID(id)
	if !ok {
		return models.Listing{}, false, nil
	}

	listing := models.Listing{ID: id}
	err := ps.pool.QueryRow(ctx,
		`SELECT name, created_at FROM listings WHERE listing_id = $1`, key,
	).Scan(&listing.Name, &listing.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Listing{}, false, nil
	}
	if err != nil {
		return models.Listing{}, false, fmt.Errorf("failed to get listing: %w", err)
	}
	return listing, true, nil
}

func (ps *PostgresStore) Put(ctx context.Context, rec models.DocumentRecord) (models.DocumentRecord, error) {
	if rec.DocumentID == "" {
		return models.DocumentRecord{}, fmt.Errorf("%w: document id is required", ErrInvalidRecord)
	}
	key, ok := parseListingID(rec.ListingID)
	if !ok {
		return models.DocumentRecord{}, fmt.Errorf("%w: %s", ErrUnknownListing, rec.ListingID)
	}

	var embedding any
	if rec.Embedding != nil {
		embedding = pgvector.NewVector(rec.Embedding)
	}

	rec = rec.Clone()
	rec.OriginalFilename = sanitizeUTF8(rec.OriginalFilename)
	rec.ExtractedText = sanitizeText(rec.ExtractedText)

	err := ps.pool.QueryRow(ctx, `
		INSERT INTO documents (document_id, listing_id, original_filename, storage_url, extracted_text, embedding, page_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING upload_timestamp`,
		rec.DocumentID,
		key,
		rec.OriginalFilename,
		rec.StorageURL,
		rec.ExtractedText,
		embedding,
		rec.PageCount,
	).Scan(&rec.UploadedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return models.DocumentRecord{}, fmt.Errorf("%w: %s", ErrDuplicateID, rec.DocumentID)
			case pgForeignKeyViolation:
				return models.DocumentRecord{}, fmt.Errorf("%w: %s", ErrUnknownListing, rec.ListingID)
			}
		}
		return models.DocumentRecord{}, fmt.Errorf("failed to insert document: %w", err)
	}

	return rec, nil
}

const selectDocument = `
	SELECT document_id, listing_id, original_filename, storage_url, upload_timestamp,
		extracted_text, embedding::text, page_count
	FROM documents`

func (ps *PostgresStore) ListByListing(ctx context.Context, listingID models.ListingID) ([]models.DocumentRecord, error) {
	key, ok := parseListingID(listingID)
	if !ok {
		return []models.DocumentRecord{}, nil
	}

	rows, err := ps.pool.Query(ctx,
		selectDocument+` WHERE listing_id = $1 ORDER BY upload_timestamp DESC, seq DESC`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	records := []models.DocumentRecord{}
	for rows.Next() {
		rec, err := ps.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}

	return records, nil
}

func (ps *PostgresStore) GetByID(ctx context.Context, documentID string) (models.DocumentRecord, bool, error) {
	rec, err := ps.scan(ps.pool.QueryRow(ctx, selectDocument+` WHERE document_id = $1`, documentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DocumentRecord{}, false, nil
	}
	if err != nil {
		return models.DocumentRecord{}, false, fmt.Errorf("failed to get document: %w", err)
	}
	return rec, true, nil
}

func (ps *PostgresStore) Close() {
	if ps.pool != nil {
		ps.pool.Close()
	}
}

func (ps *PostgresStore) scan(row pgx.Row) (models.DocumentRecord, error) {
	var (
		rec       models.DocumentRecord
		listingID int64
		embedding *string
	)
	err := row.Scan(
		&rec.DocumentID,
		&listingID,
		&rec.OriginalFilename,
		&rec.StorageURL,
		&rec.UploadedAt,
		&rec.ExtractedText,
		&embedding,
		&rec.PageCount,
	)
	if err != nil {
		return models.DocumentRecord{}, err
	}
	rec.ListingID = formatListingID(listingID)

	if embedding != nil {
		vector, err := ParseVector(*embedding)
		if err != nil {
			ps.config.OnCorrupt(&CorruptRecordError{DocumentID: rec.DocumentID, Err: err})
		} else {
			rec.Embedding = vector
		}
	}
	return rec, nil
}

func parseListingID(id models.ListingID) (int64, bool) {
	key, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil || key <= 0 {
		return 0, false
	}
	return key, true
}

func formatListingID(id int64) models.ListingID {
	return models.ListingID(strconv.FormatInt(id, 10))
}

func sanitizeText(s *string) *string {
	if s == nil {
		return nil
	}
	clean := sanitizeUTF8(strings.ReplaceAll(*s, "\x00", ""))
	return &clean
}

// Postgres rejects invalid UTF-8 and NUL bytes in TEXT columns.
func sanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "")
}
