package reader

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"
)

type Kind string

const (
	KindFile Kind = "file"
	KindURL  Kind = "url"
)

var ErrUnsupportedSource = errors.New("unsupported source kind")

// Source is a PDF upload or a web page to ingest.
type Source struct {
	Kind Kind
	Name string
	URL  string
	Body io.Reader
}

func FileSource(name string, body io.Reader) Source {
	return Source{Kind: KindFile, Name: name, Body: body}
}

func URLSource(raw string) Source {
	return Source{Kind: KindURL, URL: raw}
}

// Key is the dedup identity: the file name up to its first dot, or the raw URL.
func (s Source) Key() string {
	if s.Kind == KindURL {
		return s.URL
	}
	base := filepath.Base(s.Name)
	if i := strings.Index(base, "."); i > 0 {
		return base[:i]
	}
	return base
}

type Reader interface {
	Read(ctx context.Context, src Source) ([]*schema.Document, error)
}

// Chunk splits text into overlapping chunks by rune count.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		size = 3000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 2
	}
	var chunks []string
	runes := []rune(text)
	for i := 0; i < len(runes); {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
		i += size - overlap
	}
	return chunks
}

func chunkDocuments(idPrefix, text string, size, overlap int, meta map[string]any) []*schema.Document {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	parts := Chunk(text, size, overlap)
	docs := make([]*schema.Document, 0, len(parts))
	for i, part := range parts {
		id := idPrefix
		if len(parts) > 1 {
			id = idPrefix + "_" + strconv.Itoa(i+1)
		}
		md := make(map[string]any, len(meta)+1)
		for k, v := range meta {
			md[k] = v
		}
		md["chunk"] = i + 1
		docs = append(docs, &schema.Document{ID: id, Content: part, MetaData: md})
	}
	return docs
}
