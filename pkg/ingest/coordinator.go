// Package ingest turns a batch of uploaded files into persisted document records.
//
// Files are processed concurrently. A failure on one file never aborts the
// batch; it is reported in the Result next to the files that succeeded.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"

	"github.com/xhad/medicus/internal/models"
	"github.com/xhad/medicus/internal/types"
	"github.com/xhad/medicus/pkg/blob"
)

// ErrInvalidRequest is returned before any work starts when the batch can't be
// processed at all.
var ErrInvalidRequest = errors.New("invalid ingestion request")

type FailureKind int

const (
	FailureExtraction FailureKind = iota + 1
	FailurePersistence
)

func (k FailureKind) String() string {
	switch k {
	case FailureExtraction:
		return "extraction"
	case FailurePersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// FileFailure describes one file that did not produce a document. Record is set
// only when failed extractions are recorded. StorageURL is set when the binary was
// uploaded but no record references it.
type FileFailure struct {
	Filename   string
	Kind       FailureKind
	Err        error
	Record     *models.DocumentRecord
	StorageURL string
}

func (f FileFailure) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", f.Kind, f.Filename, f.Err)
}

func (f FileFailure) Unwrap() error {
	return f.Err
}

// Result of one batch. Documents follow the input order of the files.
type Result struct {
	Processed int
	Documents []models.DocumentRecord
	Failures  []FileFailure
}

type Config struct {
	Workers                 int
	AllowedExtensions       []string
	RecordFailedExtractions bool
	// OnFile is called once per eligible file when it finishes, from the worker
	// goroutine. err is nil on success.
	OnFile func(filename string, err error)
	NewID  func() string
	Logger *slog.Logger
}

type Dependencies struct {
	Extractor types.Extractor
	Documents types.DocumentStore
	Blobs     types.BlobStore
	// Listings is optional. When set, batches for unknown listings are rejected up front.
	Listings types.ListingStore
}

type Coordinator struct {
	config Config
	deps   Dependencies
	logger *slog.Logger
}

var disableConfigDir sync.Once

func NewWithConfig(deps Dependencies, config Config) (*Coordinator, error) {
	if deps.Extractor == nil {
		return nil, errors.New("ingest: extractor is required")
	}
	if deps.Documents == nil {
		return nil, errors.New("ingest: document store is required")
	}
	if deps.Blobs == nil {
		return nil, errors.New("ingest: blob store is required")
	}

	if config.Workers <= 0 {
		config.Workers = 4
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".pdf"}
	}
	if config.NewID == nil {
		config.NewID = uuid.NewString
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// pdfcpu writes a config dir under the user's home unless told not to
	disableConfigDir.Do(api.DisableConfigDir)

	return &Coordinator{config: config, deps: deps, logger: logger}, nil
}

// Ingest extracts, stores and records every eligible file in the batch.
func (c *Coordinator) Ingest(ctx context.Context, listingID models.ListingID, files []models.FilePayload) (*Result, error) {
	if strings.TrimSpace(string(listingID)) == "" {
		return nil, fmt.Errorf("%w: listing id is required", ErrInvalidRequest)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files provided", ErrInvalidRequest)
	}

	eligible := c.Eligible(files)
	if len(eligible) == 0 {
		return nil, fmt.Errorf("%w: no files with extension %s", ErrInvalidRequest, strings.Join(c.config.AllowedExtensions, ", "))
	}

	if c.deps.Listings != nil {
		_, found, err := c.deps.Listings.GetListing(ctx, listingID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up listing: %w", err)
		}
		if !found {
			return nil, fmt.Errorf("%w: unknown listing %s", ErrInvalidRequest, listingID)
		}
	}

	logCtx := c.logger.With("listing_id", listingID)
	logCtx.Info("Starting ingestion", "files", len(eligible), "skipped", len(files)-len(eligible))

	outcomes := make([]outcome, len(eligible))
	g := new(errgroup.Group)
	g.SetLimit(c.config.Workers)

	for i, f := range eligible {
		g.Go(func() error {
			outcomes[i] = c.processFile(ctx, logCtx, listingID, f)
			if c.config.OnFile != nil {
				var err error
				if outcomes[i].failure != nil {
					err = outcomes[i].failure
				}
				c.config.OnFile(f.Filename, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := &Result{Documents: []models.DocumentRecord{}}
	for _, o := range outcomes {
		if o.failure != nil {
			result.Failures = append(result.Failures, *o.failure)
			continue
		}
		result.Documents = append(result.Documents, o.record)
	}
	result.Processed = len(result.Documents)

	logCtx.Info("Ingestion finished", "processed", result.Processed, "failed", len(result.Failures))
	return result, nil
}

// outcome is a worker's slot: either a record or a failure.
type outcome struct {
	record  models.DocumentRecord
	failure *FileFailure
}

func (c *Coordinator) processFile(ctx context.Context, logCtx *slog.Logger, listingID models.ListingID, f models.FilePayload) outcome {
	logCtx = logCtx.With("filename", f.Filename)

	ext, err := c.deps.Extractor.Extract(ctx, f)
	if err != nil {
		logCtx.Warn("Extraction failed", "error", err)
		failure := &FileFailure{Filename: f.Filename, Kind: FailureExtraction, Err: err}
		if c.config.RecordFailedExtractions {
			rec, _, perr := c.persist(ctx, listingID, f, models.Extraction{})
			if perr != nil {
				logCtx.Warn("Failed to record failed extraction", "error", perr)
			} else {
				failure.Record = &rec
			}
		}
		return outcome{failure: failure}
	}

	rec, url, err := c.persist(ctx, listingID, f, ext)
	if err != nil {
		logCtx.Warn("Persistence failed", "error", err, "orphaned_blob", url)
		return outcome{failure: &FileFailure{Filename: f.Filename, Kind: FailurePersistence, Err: err, StorageURL: url}}
	}

	logCtx.Debug("Document stored", "document_id", rec.DocumentID, "pages", rec.PageCount)
	return outcome{record: rec}
}

// persist uploads the binary and saves its record. On failure the returned URL is
// the uploaded binary left without a record, or "" if nothing was uploaded.
func (c *Coordinator) persist(ctx context.Context, listingID models.ListingID, f models.FilePayload, ext models.Extraction) (models.DocumentRecord, string, error) {
	id := c.config.NewID()

	url, err := c.deps.Blobs.Put(ctx, blob.Key(listingID, id, f.Filename), f.Data, "application/pdf")
	if err != nil {
		return models.DocumentRecord{}, "", fmt.Errorf("failed to store file: %w", err)
	}

	rec := models.DocumentRecord{
		DocumentID:       id,
		ListingID:        listingID,
		OriginalFilename: f.Filename,
		StorageURL:       url,
		ExtractedText:    ext.Text,
		Embedding:        ext.Embedding,
		PageCount:        pageCount(f.Data),
	}

	stored, err := c.deps.Documents.Put(ctx, rec)
	if err != nil {
		return models.DocumentRecord{}, url, fmt.Errorf("failed to save document: %w", err)
	}
	return stored, "", nil
}

// Eligible returns the files a batch would process, in order. The rest are skipped.
func (c *Coordinator) Eligible(files []models.FilePayload) []models.FilePayload {
	var eligible []models.FilePayload
	for _, f := range files {
		if c.allowed(f.Filename) {
			eligible = append(eligible, f)
			continue
		}
		c.logger.Debug("Skipping file with unsupported extension", "filename", f.Filename)
	}
	return eligible
}

func (c *Coordinator) allowed(filename string) bool {
	for _, ext := range c.config.AllowedExtensions {
		if strings.HasSuffix(filename, ext) {
			return true
		}
	}
	return false
}

// pageCount returns 0 when the file can't be parsed as a PDF.
func pageCount(data []byte) (n int) {
	defer func() {
		if recover() != nil {
			n = 0
		}
	}()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0
	}
	return n
}
