package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keywordEmbedder maps text onto axes for "go", "rust" and "pdf".
type keywordEmbedder struct {
	batches int
	err     error
}

func (e *keywordEmbedder) vector(text string) []float32 {
	text = strings.ToLower(text)
	v := make([]float32, 3)
	for i, kw := range []string{"go", "rust", "pdf"} {
		v[i] = float32(strings.Count(text, kw))
	}
	return v
}

func (e *keywordEmbedder) Embed(_ context.Context, _ string, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vector(text), nil
}

func (e *keywordEmbedder) EmbedBatch(_ context.Context, _ string, texts []string) ([][]float32, error) {
	e.batches++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func doc(id, content string) *schema.Document {
	return &schema.Document{ID: id, Content: content, MetaData: map[string]any{"name": id}}
}

func TestLoadDocumentsUpsertReplacesSameContent(t *testing.T) {
	store := NewMemoryChunkStore()
	kb := NewVectorKnowledgeBase(store, &keywordEmbedder{}, "emb", nil)
	ctx := context.Background()

	require.NoError(t, kb.LoadDocuments(ctx, []*schema.Document{doc("a_1", "go go"), doc("a_2", "rust")}, true))
	require.NoError(t, kb.LoadDocuments(ctx, []*schema.Document{doc("b_1", "go go")}, true))

	chunks, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "b_1", chunks[0].DocumentID)
	assert.Equal(t, "b_1", chunks[0].Source)
}

func TestLoadDocumentsWithoutUpsertRejectsDuplicates(t *testing.T) {
	kb := NewVectorKnowledgeBase(NewMemoryChunkStore(), &keywordEmbedder{}, "emb", nil)
	ctx := context.Background()

	require.NoError(t, kb.LoadDocuments(ctx, []*schema.Document{doc("a", "go")}, false))
	assert.ErrorIs(t, kb.LoadDocuments(ctx, []*schema.Document{doc("b", "go")}, false), ErrDuplicateChunk)
}

func TestLoadDocumentsBatchesAndSkipsBlank(t *testing.T) {
	emb := &keywordEmbedder{}
	store := NewMemoryChunkStore()
	kb := NewVectorKnowledgeBase(store, emb, "emb", nil)

	var docs []*schema.Document
	for i := 0; i < 23; i++ {
		docs = append(docs, doc(fmt.Sprintf("d_%d", i), fmt.Sprintf("chunk %d", i)))
	}
	docs = append(docs, doc("blank", "   "), nil)

	require.NoError(t, kb.LoadDocuments(context.Background(), docs, true))
	assert.Equal(t, 3, emb.batches)
	chunks, _ := store.ListAll(context.Background())
	assert.Len(t, chunks, 23)
}

func TestLoadDocumentsEmbeddingFailure(t *testing.T) {
	store := NewMemoryChunkStore()
	kb := NewVectorKnowledgeBase(store, &keywordEmbedder{err: errors.New("down")}, "emb", nil)

	err := kb.LoadDocuments(context.Background(), []*schema.Document{doc("a", "go")}, true)
	assert.Error(t, err)
	chunks, _ := store.ListAll(context.Background())
	assert.Empty(t, chunks)
}

func TestSearchRanksByCosine(t *testing.T) {
	kb := NewVectorKnowledgeBase(NewMemoryChunkStore(), &keywordEmbedder{}, "emb", nil)
	ctx := context.Background()
	require.NoError(t, kb.LoadDocuments(ctx, []*schema.Document{
		doc("rust", "rust rust"),
		doc("go", "go go go"),
		doc("mixed", "go rust pdf"),
	}, true))

	got, err := kb.Search(ctx, "tell me about go", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "go", got[0].ID)
	assert.Equal(t, "mixed", got[1].ID)

	all, err := kb.Search(ctx, "go", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestClear(t *testing.T) {
	store := NewMemoryChunkStore()
	kb := NewVectorKnowledgeBase(store, &keywordEmbedder{}, "emb", nil)
	ctx := context.Background()
	require.NoError(t, kb.LoadDocuments(ctx, []*schema.Document{doc("a", "go")}, true))

	require.NoError(t, kb.Clear(ctx))
	got, err := kb.Search(ctx, "go", 3)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, kb.LoadDocuments(ctx, []*schema.Document{doc("a", "go")}, false))
}

func TestWithoutVectorStore(t *testing.T) {
	kb := NewVectorKnowledgeBase(nil, &keywordEmbedder{}, "emb", nil)
	ctx := context.Background()

	assert.False(t, kb.HasVectorStore())
	assert.ErrorIs(t, kb.Clear(ctx), ErrNoVectorStore)
	assert.ErrorIs(t, kb.LoadDocuments(ctx, []*schema.Document{doc("a", "go")}, true), ErrNoVectorStore)
	got, err := kb.Search(ctx, "go", 3)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, cosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}
