package reader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/cloudwego/eino/schema"

	"gopherai-localrag/internal/pkg/pdfextract"
)

var ErrFileTooLarge = errors.New("file exceeds size limit")

// PDFReader turns an uploaded PDF into one or more documents per page,
// identified as <stem>_<page>.
type PDFReader struct {
	ChunkSize    int
	ChunkOverlap int
	MaxBytes     int64
}

var _ Reader = (*PDFReader)(nil)

func (r *PDFReader) Read(ctx context.Context, src Source) ([]*schema.Document, error) {
	if src.Kind != KindFile || src.Body == nil {
		return nil, ErrUnsupportedSource
	}

	body := src.Body
	if r.MaxBytes > 0 {
		body = io.LimitReader(src.Body, r.MaxBytes+1)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read pdf upload failed: %w", err)
	}
	if r.MaxBytes > 0 && int64(len(raw)) > r.MaxBytes {
		return nil, ErrFileTooLarge
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pages, err := pdfextract.ExtractPages(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	stem := src.Key()
	var docs []*schema.Document
	for i, text := range pages {
		page := i + 1
		docs = append(docs, chunkDocuments(stem+"_"+strconv.Itoa(page), text, r.ChunkSize, r.ChunkOverlap, map[string]any{
			"name": stem,
			"page": page,
		})...)
	}
	return docs, nil
}
