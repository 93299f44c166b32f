package store_test

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/medicus/internal/models"
	"github.com/xhad/medicus/internal/types"
	"github.com/xhad/medicus/pkg/store"
)

func ptr(s string) *string { return &s }

func newRecord(listingID models.ListingID, filename string) models.DocumentRecord {
	return models.DocumentRecord{
		DocumentID:       uuid.NewString(),
		ListingID:        listingID,
		OriginalFilename: filename,
		StorageURL:       fmt.Sprintf("/uploads/%s/%s", listingID, filename),
		ExtractedText:    ptr("Text of " + filename),
	}
}

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, s types.Store) {
	ctx := context.Background()

	t.Run("unknown listing is an empty result", func(t *testing.T) {
		records, err := s.ListByListing(ctx, "999999999")
		require.NoError(t, err)
		assert.NotNil(t, records)
		assert.Empty(t, records)

		_, found, err := s.GetListing(ctx, "no-such-listing")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("unknown document id is not found", func(t *testing.T) {
		_, found, err := s.GetByID(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("embedding round-trips losslessly", func(t *testing.T) {
		listing, err := s.CreateListing(ctx, "Repatha")
		require.NoError(t, err)

		rec := newRecord(listing.ID, "fourier.pdf")
		rec.Embedding = []float32{0.1, -0.2, 1e-7, 3.4028235e38, -1.1754944e-38, 0, 42}
		rec.PageCount = 12

		stored, err := s.Put(ctx, rec)
		require.NoError(t, err)
		assert.False(t, stored.UploadedAt.IsZero())

		got, found, err := s.GetByID(ctx, rec.DocumentID)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, rec.Embedding, got.Embedding)
		assert.Equal(t, "Text of fourier.pdf", got.Text())
		assert.Equal(t, listing.ID, got.ListingID)
		assert.Equal(t, 12, got.PageCount)

		listed, err := s.ListByListing(ctx, listing.ID)
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, rec.Embedding, listed[0].Embedding)
		for i := range rec.Embedding {
			assert.Equal(t, math.Float32bits(rec.Embedding[i]), math.Float32bits(listed[0].Embedding[i]))
		}
	})

	t.Run("absent fields stay absent", func(t *testing.T) {
		listing, err := s.CreateListing(ctx, "Device X")
		require.NoError(t, err)

		rec := newRecord(listing.ID, "scan.pdf")
		rec.ExtractedText = nil

		_, err = s.Put(ctx, rec)
		require.NoError(t, err)

		got, found, err := s.GetByID(ctx, rec.DocumentID)
		require.NoError(t, err)
		require.True(t, found)
		assert.Nil(t, got.ExtractedText)
		assert.Nil(t, got.Embedding)
	})

	t.Run("newest document first", func(t *testing.T) {
		listing, err := s.CreateListing(ctx, "CardioTech Pro")
		require.NoError(t, err)

		first, err := s.Put(ctx, newRecord(listing.ID, "t1.pdf"))
		require.NoError(t, err)
		second, err := s.Put(ctx, newRecord(listing.ID, "t2.pdf"))
		require.NoError(t, err)
		assert.False(t, second.UploadedAt.Before(first.UploadedAt))

		listed, err := s.ListByListing(ctx, listing.ID)
		require.NoError(t, err)
		require.Len(t, listed, 2)
		assert.Equal(t, "t2.pdf", listed[0].OriginalFilename)
		assert.Equal(t, "t1.pdf", listed[1].OriginalFilename)

		again, err := s.ListByListing(ctx, listing.ID)
		require.NoError(t, err)
		assert.Equal(t, listed, again)
	})

	t.Run("duplicate document id is rejected", func(t *testing.T) {
		listing, err := s.CreateListing(ctx, "Leqvio")
		require.NoError(t, err)

		rec := newRecord(listing.ID, "orion.pdf")
		_, err = s.Put(ctx, rec)
		require.NoError(t, err)

		_, err = s.Put(ctx, rec)
		assert.ErrorIs(t, err, store.ErrDuplicateID)

		listed, err := s.ListByListing(ctx, listing.ID)
		require.NoError(t, err)
		assert.Len(t, listed, 1)
	})

	t.Run("record must reference an existing listing", func(t *testing.T) {
		_, err := s.Put(ctx, newRecord("424242424", "orphan.pdf"))
		assert.ErrorIs(t, err, store.ErrUnknownListing)
	})

	t.Run("concurrent puts are all visible", func(t *testing.T) {
		listing, err := s.CreateListing(ctx, "Concurrent")
		require.NoError(t, err)

		const n = 16
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec := newRecord(listing.ID, fmt.Sprintf("file-%d.pdf", i))
				rec.Embedding = []float32{float32(i), 1}
				_, err := s.Put(ctx, rec)
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		listed, err := s.ListByListing(ctx, listing.ID)
		require.NoError(t, err)
		require.Len(t, listed, n)
		for i := 1; i < len(listed); i++ {
			assert.False(t, listed[i].UploadedAt.After(listed[i-1].UploadedAt))
		}
		for _, rec := range listed {
			require.Len(t, rec.Embedding, 2)
			assert.Equal(t, fmt.Sprintf("file-%d.pdf", int(rec.Embedding[0])), rec.OriginalFilename)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, store.NewMemoryStore())
}

func TestPostgresStore(t *testing.T) {
	connString := os.Getenv("MEDICUS_TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("MEDICUS_TEST_DATABASE_URL not set")
	}

	s, err := store.NewPostgresWithConfig(context.Background(), store.PostgresConfig{ConnString: connString})
	require.NoError(t, err)
	defer s.Close()

	runStoreContract(t, s)

	// Listing ids are integers in this deployment
	records, err := s.ListByListing(context.Background(), "not-a-number")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestVectorFormat(t *testing.T) {
	v := []float32{1, 0.5, -2.25}
	assert.Equal(t, "[1,0.5,-2.25]", store.FormatVector(v))

	parsed, err := store.ParseVector(" [1,0.5,-2.25] ")
	require.NoError(t, err)
	assert.Equal(t, v, parsed)

	for _, bad := range []string{"", "[", "1,2,3", "[1,two,3]", "[]"} {
		_, err := store.ParseVector(bad)
		assert.Error(t, err, bad)
	}
}
