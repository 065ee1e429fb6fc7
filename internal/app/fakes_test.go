package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"gopherai-localrag/internal/model"
	"gopherai-localrag/internal/reader"
	"gopherai-localrag/internal/runstore"
)

type fakeAssistant struct {
	model    string
	chunks   []string
	failWith error
	startErr error
	prompts  []string
	runIDs   []string
}

func (a *fakeAssistant) Model() string { return a.model }

func (a *fakeAssistant) Run(_ context.Context, runID, prompt string) (*schema.StreamReader[string], error) {
	a.prompts = append(a.prompts, prompt)
	a.runIDs = append(a.runIDs, runID)
	if a.startErr != nil {
		return nil, a.startErr
	}
	return scriptedStream(a.chunks, a.failWith), nil
}

// scriptedStream yields chunks, then failWith if set.
func scriptedStream(chunks []string, failWith error) *schema.StreamReader[string] {
	sr, sw := schema.Pipe[string](len(chunks) + 1)
	for _, c := range chunks {
		sw.Send(c, nil)
	}
	if failWith != nil {
		sw.Send("", failWith)
	}
	sw.Close()
	return sr
}

type fakeFactory struct {
	err    error
	built  []*fakeAssistant
	chunks []string
}

func (f *fakeFactory) NewAssistant(_ context.Context, modelName string) (Assistant, error) {
	if f.err != nil {
		return nil, f.err
	}
	a := &fakeAssistant{model: modelName, chunks: f.chunks}
	f.built = append(f.built, a)
	return a, nil
}

func (f *fakeFactory) last() *fakeAssistant {
	return f.built[len(f.built)-1]
}

type fakeStore struct {
	down        bool
	nextID      int
	createCalls int
	runs        map[string][]string
	transcripts map[string][]model.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{runs: map[string][]string{}, transcripts: map[string][]model.Message{}}
}

func (s *fakeStore) CreateRun(_ context.Context, modelName string) (string, error) {
	s.createCalls++
	if s.down {
		return "", fmt.Errorf("%w: connection refused", runstore.ErrBackendUnavailable)
	}
	s.nextID++
	id := fmt.Sprintf("run-%d", s.nextID)
	s.runs[modelName] = append([]string{id}, s.runs[modelName]...)
	return id, nil
}

func (s *fakeStore) ListRunIDs(_ context.Context, modelName string) ([]string, error) {
	if s.down {
		return nil, fmt.Errorf("%w: connection refused", runstore.ErrBackendUnavailable)
	}
	return append([]string{}, s.runs[modelName]...), nil
}

func (s *fakeStore) GetTranscript(_ context.Context, runID string) ([]model.Message, error) {
	if s.down {
		return nil, fmt.Errorf("%w: connection refused", runstore.ErrBackendUnavailable)
	}
	return append([]model.Message{}, s.transcripts[runID]...), nil
}

type fakeReader struct {
	docs  []*schema.Document
	err   error
	calls int
}

func (r *fakeReader) Read(context.Context, reader.Source) ([]*schema.Document, error) {
	r.calls++
	return r.docs, r.err
}

type fakeKB struct {
	vectorStore bool
	loadErr     error
	loads       [][]*schema.Document
	upserts     []bool
	clears      int
}

func (k *fakeKB) LoadDocuments(_ context.Context, docs []*schema.Document, upsert bool) error {
	if k.loadErr != nil {
		return k.loadErr
	}
	k.loads = append(k.loads, docs)
	k.upserts = append(k.upserts, upsert)
	return nil
}

func (k *fakeKB) Clear(context.Context) error {
	k.clears++
	return nil
}

func (k *fakeKB) HasVectorStore() bool { return k.vectorStore }

var errBoom = errors.New("boom")

func docs(n int) []*schema.Document {
	out := make([]*schema.Document, n)
	for i := range out {
		out[i] = &schema.Document{ID: fmt.Sprintf("d%d", i), Content: "text"}
	}
	return out
}

type harness struct {
	factory *fakeFactory
	store   *fakeStore
	kb      *fakeKB
	pdf     *fakeReader
	web     *fakeReader
	orch    *Orchestrator
}

func newHarness() *harness {
	h := &harness{
		factory: &fakeFactory{chunks: []string{"Hi", " there"}},
		store:   newFakeStore(),
		kb:      &fakeKB{vectorStore: true},
		pdf:     &fakeReader{docs: docs(2)},
		web:     &fakeReader{docs: docs(3)},
	}
	h.orch = NewOrchestrator(OrchestratorDeps{
		Models:    []string{"m1", "m2"},
		Factory:   h.factory,
		Store:     h.store,
		Knowledge: h.kb,
		Ingestor:  NewKnowledgeIngestor(h.pdf, h.web, nil),
	})
	return h
}
