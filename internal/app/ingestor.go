package app

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"gopherai-localrag/internal/reader"
)

type OutcomeKind int

const (
	// OutcomeNone accompanies an error return.
	OutcomeNone OutcomeKind = iota
	OutcomeAdded
	OutcomeAlreadyPresent
	OutcomeReadFailed
	OutcomeEmpty
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNone:
		return "none"
	case OutcomeAdded:
		return "added"
	case OutcomeAlreadyPresent:
		return "already_present"
	case OutcomeReadFailed:
		return "read_failed"
	case OutcomeEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// Outcome is the result of one ingestion attempt. Count is set for OutcomeAdded,
// Err for OutcomeReadFailed, where it wraps ErrReadFailure.
type Outcome struct {
	Kind  OutcomeKind
	Count int
	Err   error
}

type KnowledgeBase interface {
	LoadDocuments(ctx context.Context, docs []*schema.Document, upsert bool) error
	Clear(ctx context.Context) error
	HasVectorStore() bool
}

// KnowledgeIngestor runs a source through its reader into the knowledge base,
// at most once per tracker.
type KnowledgeIngestor struct {
	files  reader.Reader
	urls   reader.Reader
	logger *zap.Logger
}

func NewKnowledgeIngestor(files, urls reader.Reader, logger *zap.Logger) *KnowledgeIngestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KnowledgeIngestor{files: files, urls: urls, logger: logger}
}

// Ingest marks the tracker only after the knowledge base accepted the documents,
// so a failed read or load can be retried with the same source.
func (in *KnowledgeIngestor) Ingest(ctx context.Context, src reader.Source, tracker *IngestionTracker, kb KnowledgeBase) (Outcome, error) {
	key := src.Key()
	if tracker.AlreadyIngested(key) {
		return Outcome{Kind: OutcomeAlreadyPresent}, nil
	}

	r := in.files
	if src.Kind == reader.KindURL {
		r = in.urls
	}
	if r == nil {
		return Outcome{Kind: OutcomeNone}, fmt.Errorf("no reader for %s sources", src.Kind)
	}

	docs, err := r.Read(ctx, src)
	if err != nil {
		in.logger.Warn("read source failed", zap.String("kind", string(src.Kind)), zap.String("key", key), zap.Error(err))
		return Outcome{Kind: OutcomeReadFailed, Err: fmt.Errorf("%w: %w", ErrReadFailure, err)}, nil
	}
	if len(docs) == 0 {
		return Outcome{Kind: OutcomeEmpty}, nil
	}

	if err := kb.LoadDocuments(ctx, docs, true); err != nil {
		return Outcome{Kind: OutcomeNone}, fmt.Errorf("load documents failed: %w", err)
	}
	tracker.MarkIngested(key)
	in.logger.Info("source ingested", zap.String("kind", string(src.Kind)), zap.String("key", key), zap.Int("documents", len(docs)))
	return Outcome{Kind: OutcomeAdded, Count: len(docs)}, nil
}
