package models

import "time"

// ListingID identifies a registered product. The in-memory deployment issues opaque
// strings, the Postgres deployment issues integers rendered in decimal.
type ListingID string

type Listing struct {
	ID        ListingID `json:"listing_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentRecord is one successfully ingested file. A nil ExtractedText or Embedding
// means the value is absent, not empty.
type DocumentRecord struct {
	DocumentID       string    `json:"document_id"`
	ListingID        ListingID `json:"listing_id"`
	OriginalFilename string    `json:"original_filename"`
	StorageURL       string    `json:"storage_url"`
	UploadedAt       time.Time `json:"upload_timestamp"`
	ExtractedText    *string   `json:"extracted_text,omitempty"`
	Embedding        []float32 `json:"embedding,omitempty"`
	PageCount        int       `json:"page_count,omitempty"`
}

// Text returns the extracted text, or "" when it is absent.
func (d DocumentRecord) Text() string {
	if d.ExtractedText == nil {
		return ""
	}
	return *d.ExtractedText
}

// Clone returns a deep copy so callers can't mutate stored state.
func (d DocumentRecord) Clone() DocumentRecord {
	c := d
	if d.ExtractedText != nil {
		text := *d.ExtractedText
		c.ExtractedText = &text
	}
	if d.Embedding != nil {
		c.Embedding = append([]float32(nil), d.Embedding...)
	}
	return c
}

// FilePayload is an uploaded file as received by the ingestion entrypoint.
type FilePayload struct {
	Filename string
	Data     []byte
}

// Extraction is what the extraction collaborator returned for one file.
type Extraction struct {
	Text      *string
	Embedding []float32
}
