package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"gopherai-localrag/internal/model"
)

const embeddingBatchSize = 10

var ErrNoVectorStore = errors.New("knowledge base has no vector store")

type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// ChunkStore persists embedded chunks. repository.RAGChunkRepository and MemoryChunkStore implement it.
type ChunkStore interface {
	CreateBatch(ctx context.Context, chunks []model.RAGChunk) error
	UpsertBatch(ctx context.Context, chunks []model.RAGChunk) error
	ListAll(ctx context.Context) ([]model.RAGChunk, error)
	DeleteAll(ctx context.Context) error
}

type VectorKnowledgeBase struct {
	store          ChunkStore
	embedder       Embedder
	embeddingModel string
	logger         *zap.Logger
}

// NewVectorKnowledgeBase builds a knowledge base. A nil store yields a knowledge base
// without vector storage: loads and clears fail with ErrNoVectorStore and searches return nothing.
func NewVectorKnowledgeBase(store ChunkStore, embedder Embedder, embeddingModel string, logger *zap.Logger) *VectorKnowledgeBase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VectorKnowledgeBase{
		store:          store,
		embedder:       embedder,
		embeddingModel: embeddingModel,
		logger:         logger,
	}
}

func (kb *VectorKnowledgeBase) HasVectorStore() bool {
	return kb != nil && kb.store != nil
}

// LoadDocuments embeds docs in batches and stores them. With upsert, a chunk whose
// content was stored before replaces the old row instead of failing.
func (kb *VectorKnowledgeBase) LoadDocuments(ctx context.Context, docs []*schema.Document, upsert bool) error {
	if !kb.HasVectorStore() {
		return ErrNoVectorStore
	}

	pending := make([]*schema.Document, 0, len(docs))
	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		if d == nil || strings.TrimSpace(d.Content) == "" {
			continue
		}
		key := contentKey(d.Content)
		if seen[key] {
			continue
		}
		seen[key] = true
		pending = append(pending, d)
	}
	if len(pending) == 0 {
		return nil
	}

	chunks := make([]model.RAGChunk, 0, len(pending))
	for i := 0; i < len(pending); i += embeddingBatchSize {
		end := i + embeddingBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[i:end]
		texts := make([]string, len(batch))
		for j, d := range batch {
			texts[j] = d.Content
		}
		vectors, err := kb.embedder.EmbedBatch(ctx, kb.embeddingModel, texts)
		if err != nil {
			return fmt.Errorf("embed documents failed: %w", err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedding count mismatch: got %d want %d", len(vectors), len(batch))
		}
		for j, d := range batch {
			c := model.RAGChunk{
				ContentKey: contentKey(d.Content),
				DocumentID: d.ID,
				Source:     sourceOf(d),
				Content:    d.Content,
			}
			c.SetEmbedding(vectors[j])
			chunks = append(chunks, c)
		}
	}

	var err error
	if upsert {
		err = kb.store.UpsertBatch(ctx, chunks)
	} else {
		err = kb.store.CreateBatch(ctx, chunks)
	}
	if err != nil {
		return err
	}
	kb.logger.Info("knowledge documents loaded", zap.Int("chunks", len(chunks)), zap.Bool("upsert", upsert))
	return nil
}

// Clear deletes every stored chunk.
func (kb *VectorKnowledgeBase) Clear(ctx context.Context) error {
	if !kb.HasVectorStore() {
		return ErrNoVectorStore
	}
	if err := kb.store.DeleteAll(ctx); err != nil {
		return err
	}
	kb.logger.Info("knowledge base cleared")
	return nil
}

// Search returns up to topK stored documents ranked by cosine similarity to query.
func (kb *VectorKnowledgeBase) Search(ctx context.Context, query string, topK int) ([]*schema.Document, error) {
	if !kb.HasVectorStore() || topK <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	chunks, err := kb.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	queryVec, err := kb.embedder.Embed(ctx, kb.embeddingModel, query)
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}

	type scored struct {
		chunk model.RAGChunk
		score float64
	}
	ranked := make([]scored, len(chunks))
	for i := range chunks {
		ranked[i] = scored{chunk: chunks[i], score: cosineSimilarity(queryVec, chunks[i].EmbeddingVector())}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if topK > len(ranked) {
		topK = len(ranked)
	}

	out := make([]*schema.Document, 0, topK)
	for _, r := range ranked[:topK] {
		out = append(out, &schema.Document{
			ID:      r.chunk.DocumentID,
			Content: r.chunk.Content,
			MetaData: map[string]any{
				"source": r.chunk.Source,
				"score":  r.score,
			},
		})
	}
	return out, nil
}

func contentKey(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func sourceOf(d *schema.Document) string {
	for _, k := range []string{"url", "name"} {
		if v, ok := d.MetaData[k].(string); ok && v != "" {
			return v
		}
	}
	return d.ID
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
