package extractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"

	"github.com/xhad/medicus/internal/models"
	"github.com/xhad/medicus/internal/types"
)

// Local extracts text in-process and embeds it through an Embedder,
// for deployments that run without the extraction service.
type Local struct {
	embedder types.Embedder
}

// NewLocal returns a Local extractor. A nil embedder leaves embeddings absent.
func NewLocal(embedder types.Embedder) *Local {
	return &Local{embedder: embedder}
}

func (l *Local) Extract(ctx context.Context, file models.FilePayload) (models.Extraction, error) {
	text, err := loadText(ctx, file)
	if err != nil {
		return models.Extraction{}, err
	}
	if text == "" {
		return models.Extraction{}, nil
	}
	ext := models.Extraction{Text: &text}

	if l.embedder == nil {
		return ext, nil
	}
	vector, err := l.embedder.EmbedText(ctx, text)
	if err != nil {
		return models.Extraction{}, &Error{Kind: KindTransport, Filename: file.Filename, Err: err}
	}
	if len(vector) > 0 {
		ext.Embedding = vector
	}
	return ext, nil
}

func loadText(ctx context.Context, file models.FilePayload) (text string, err error) {
	// The PDF parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Kind: KindDecode, Filename: file.Filename, Err: fmt.Errorf("pdf parser: %v", r)}
		}
	}()

	loader := documentloaders.NewPDF(bytes.NewReader(file.Data), int64(len(file.Data)))
	pages, err := loader.Load(ctx)
	if err != nil {
		return "", &Error{Kind: KindDecode, Filename: file.Filename, Err: err}
	}

	var parts []string
	for _, page := range pages {
		if content := strings.TrimSpace(page.PageContent); content != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, "\n"), nil
}
