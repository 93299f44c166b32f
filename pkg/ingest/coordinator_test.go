package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xhad/medicus/internal/models"
	"github.com/xhad/medicus/pkg/blob"
	"github.com/xhad/medicus/pkg/extractor"
	"github.com/xhad/medicus/pkg/store"
)

type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) Extract(ctx context.Context, file models.FilePayload) (models.Extraction, error) {
	args := m.Called(ctx, file)
	return args.Get(0).(models.Extraction), args.Error(1)
}

func named(filename string) interface{} {
	return mock.MatchedBy(func(f models.FilePayload) bool { return f.Filename == filename })
}

func textOf(s string) *string { return &s }

type failingBlobs struct {
	fail string
}

func (b *failingBlobs) Put(_ context.Context, key string, _ []byte, _ string) (string, error) {
	if b.fail != "" && strings.HasSuffix(key, b.fail) {
		return "", errors.New("disk full")
	}
	return "/uploads/" + key, nil
}

type fixture struct {
	extractor *MockExtractor
	store     *store.MemoryStore
	listing   models.Listing
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	listing, err := s.CreateListing(context.Background(), "Cardiac Monitor X")
	require.NoError(t, err)
	return &fixture{extractor: new(MockExtractor), store: s, listing: listing}
}

func (f *fixture) coordinator(t *testing.T, config Config) *Coordinator {
	t.Helper()
	c, err := NewWithConfig(Dependencies{
		Extractor: f.extractor,
		Documents: f.store,
		Listings:  f.store,
		Blobs:     blob.NewLocalStore(t.TempDir(), "/uploads/"),
	}, config)
	require.NoError(t, err)
	return c
}

func pdf(name string) models.FilePayload {
	return models.FilePayload{Filename: name, Data: []byte("%PDF-1.4 " + name)}
}

func TestIngestTimeoutOnOneFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.extractor.On("Extract", mock.Anything, named("a.pdf")).
		Return(models.Extraction{Text: textOf("Alpha study."), Embedding: []float32{0.1, 0.2}}, nil)
	f.extractor.On("Extract", mock.Anything, named("b.pdf")).
		Return(models.Extraction{}, &extractor.Error{Kind: extractor.KindTransport, Filename: "b.pdf", Err: context.DeadlineExceeded})
	f.extractor.On("Extract", mock.Anything, named("c.pdf")).
		Return(models.Extraction{Text: textOf("Gamma study.")}, nil)

	result, err := f.coordinator(t, Config{}).Ingest(ctx, f.listing.ID, []models.FilePayload{pdf("a.pdf"), pdf("b.pdf"), pdf("c.pdf")})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Processed)
	require.Len(t, result.Documents, 2)
	assert.Equal(t, "a.pdf", result.Documents[0].OriginalFilename)
	assert.Equal(t, "c.pdf", result.Documents[1].OriginalFilename)

	require.Len(t, result.Failures, 1)
	failure := result.Failures[0]
	assert.Equal(t, "b.pdf", failure.Filename)
	assert.Equal(t, FailureExtraction, failure.Kind)
	assert.ErrorIs(t, failure, context.DeadlineExceeded)
	assert.Nil(t, failure.Record)

	docs, err := f.store.ListByListing(ctx, f.listing.ID)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	f.extractor.AssertExpectations(t)
}

func TestIngestStoresRecordFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.extractor.On("Extract", mock.Anything, named("trial.pdf")).
		Return(models.Extraction{Text: textOf("Reduced LDL-C by 54%."), Embedding: []float32{1, 2, 3}}, nil)
	f.extractor.On("Extract", mock.Anything, named("blank.pdf")).
		Return(models.Extraction{}, nil)

	c := f.coordinator(t, Config{Workers: 1, NewID: sequentialIDs()})
	result, err := c.Ingest(ctx, f.listing.ID, []models.FilePayload{pdf("trial.pdf"), pdf("blank.pdf")})
	require.NoError(t, err)
	require.Equal(t, 2, result.Processed)

	trial := result.Documents[0]
	assert.Equal(t, "doc-1", trial.DocumentID)
	assert.Equal(t, f.listing.ID, trial.ListingID)
	assert.Equal(t, "/uploads/"+string(f.listing.ID)+"/doc-1/trial.pdf", trial.StorageURL)
	assert.Equal(t, "Reduced LDL-C by 54%.", trial.Text())
	assert.Equal(t, []float32{1, 2, 3}, trial.Embedding)
	assert.False(t, trial.UploadedAt.IsZero())
	// Not a parseable PDF
	assert.Zero(t, trial.PageCount)

	// Absent text and embedding are still a successful document
	blank := result.Documents[1]
	assert.Nil(t, blank.ExtractedText)
	assert.Nil(t, blank.Embedding)

	got, found, err := f.store.GetByID(ctx, "doc-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, trial, got)
}

func TestIngestSkipsUnsupportedFiles(t *testing.T) {
	f := newFixture(t)

	f.extractor.On("Extract", mock.Anything, named("study.pdf")).
		Return(models.Extraction{Text: textOf("Study text.")}, nil)

	result, err := f.coordinator(t, Config{}).Ingest(context.Background(), f.listing.ID, []models.FilePayload{
		{Filename: "notes.txt", Data: []byte("hello")},
		pdf("study.pdf"),
		{Filename: "SCAN.PDF", Data: []byte("%PDF")},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Empty(t, result.Failures)
	f.extractor.AssertNumberOfCalls(t, "Extract", 1)
}

func TestEligibleMatchesProcessedFiles(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var reported []string
	c := f.coordinator(t, Config{OnFile: func(filename string, _ error) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, filename)
	}})
	f.extractor.On("Extract", mock.Anything, mock.Anything).Return(models.Extraction{}, nil)

	files := []models.FilePayload{pdf("a.pdf"), {Filename: "notes.txt"}, pdf("b.pdf"), {Filename: "c.PDF"}}
	eligible := c.Eligible(files)
	require.Len(t, eligible, 2)
	assert.Equal(t, "a.pdf", eligible[0].Filename)
	assert.Equal(t, "b.pdf", eligible[1].Filename)

	_, err := c.Ingest(context.Background(), f.listing.ID, files)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.pdf", "b.pdf"}, reported)
}

func TestIngestInvalidRequests(t *testing.T) {
	tests := []struct {
		name    string
		listing models.ListingID
		files   []models.FilePayload
	}{
		{"blank listing", "  ", []models.FilePayload{pdf("a.pdf")}},
		{"no files", "", nil},
		{"no files for listing", "known", nil},
		{"no eligible files", "known", []models.FilePayload{{Filename: "a.docx"}}},
		{"unknown listing", "missing", []models.FilePayload{pdf("a.pdf")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			listing := tt.listing
			if listing == "known" {
				listing = f.listing.ID
			}

			result, err := f.coordinator(t, Config{}).Ingest(context.Background(), listing, tt.files)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Nil(t, result)

			f.extractor.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
			docs, err := f.store.ListByListing(context.Background(), f.listing.ID)
			require.NoError(t, err)
			assert.Empty(t, docs)
		})
	}
}

func TestIngestPersistenceFailure(t *testing.T) {
	f := newFixture(t)

	f.extractor.On("Extract", mock.Anything, mock.Anything).
		Return(models.Extraction{Text: textOf("Some text.")}, nil)

	c, err := NewWithConfig(Dependencies{
		Extractor: f.extractor,
		Documents: f.store,
		Blobs:     &failingBlobs{fail: "/broken.pdf"},
	}, Config{})
	require.NoError(t, err)

	result, err := c.Ingest(context.Background(), f.listing.ID, []models.FilePayload{pdf("ok.pdf"), pdf("broken.pdf")})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, FailurePersistence, result.Failures[0].Kind)
	assert.ErrorContains(t, result.Failures[0], "disk full")
	assert.Empty(t, result.Failures[0].StorageURL)
}

func TestIngestReportsOrphanedBlob(t *testing.T) {
	f := newFixture(t)

	f.extractor.On("Extract", mock.Anything, mock.Anything).
		Return(models.Extraction{Text: textOf("Some text.")}, nil)

	c := f.coordinator(t, Config{Workers: 1, NewID: func() string { return "same-id" }})
	result, err := c.Ingest(context.Background(), f.listing.ID, []models.FilePayload{pdf("first.pdf"), pdf("second.pdf")})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, "/uploads/"+string(f.listing.ID)+"/same-id/first.pdf", result.Documents[0].StorageURL)
	require.Len(t, result.Failures, 1)

	failure := result.Failures[0]
	assert.Equal(t, "second.pdf", failure.Filename)
	assert.Equal(t, FailurePersistence, failure.Kind)
	assert.ErrorIs(t, failure, store.ErrDuplicateID)
	assert.Equal(t, "/uploads/"+string(f.listing.ID)+"/same-id/second.pdf", failure.StorageURL)
}

func TestIngestRecordsFailedExtractions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.extractor.On("Extract", mock.Anything, named("bad.pdf")).
		Return(models.Extraction{}, &extractor.Error{Kind: extractor.KindStatus, StatusCode: 500, Message: "boom"})

	result, err := f.coordinator(t, Config{RecordFailedExtractions: true}).Ingest(ctx, f.listing.ID, []models.FilePayload{pdf("bad.pdf")})
	require.NoError(t, err)

	assert.Zero(t, result.Processed)
	assert.Empty(t, result.Documents)
	require.Len(t, result.Failures, 1)

	placeholder := result.Failures[0].Record
	require.NotNil(t, placeholder)
	assert.Nil(t, placeholder.ExtractedText)
	assert.Nil(t, placeholder.Embedding)

	docs, err := f.store.ListByListing(ctx, f.listing.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, placeholder.DocumentID, docs[0].DocumentID)
}

func TestIngestReportsEachFile(t *testing.T) {
	f := newFixture(t)

	f.extractor.On("Extract", mock.Anything, named("bad.pdf")).Return(models.Extraction{}, errors.New("refused"))
	f.extractor.On("Extract", mock.Anything, mock.Anything).Return(models.Extraction{}, nil)

	var mu sync.Mutex
	seen := map[string]error{}
	c := f.coordinator(t, Config{Workers: 2, OnFile: func(filename string, err error) {
		mu.Lock()
		defer mu.Unlock()
		seen[filename] = err
	}})

	files := []models.FilePayload{pdf("bad.pdf")}
	for i := 0; i < 5; i++ {
		files = append(files, pdf(fmt.Sprintf("doc%d.pdf", i)))
	}

	result, err := c.Ingest(context.Background(), f.listing.ID, files)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Processed)

	assert.Len(t, seen, 6)
	assert.Error(t, seen["bad.pdf"])
	assert.NoError(t, seen["doc3.pdf"])
}

func TestNewWithConfigRequiresDependencies(t *testing.T) {
	_, err := NewWithConfig(Dependencies{}, Config{})
	assert.Error(t, err)

	_, err = NewWithConfig(Dependencies{Extractor: new(MockExtractor), Documents: store.NewMemoryStore()}, Config{})
	assert.ErrorContains(t, err, "blob store")
}

func TestPageCountOfGarbage(t *testing.T) {
	assert.Zero(t, pageCount([]byte("definitely not a pdf")))
	assert.Zero(t, pageCount(nil))
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("doc-%d", n)
	}
}
