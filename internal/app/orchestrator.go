package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"gopherai-localrag/internal/metrics"
	"gopherai-localrag/internal/model"
	"gopherai-localrag/internal/reader"
	"gopherai-localrag/internal/runstore"
)

const (
	GreetingPlaceholder = "Upload a file or ask me questions, how can I help you?"

	noticeRunStoreDown   = "Could not create assistant, is the database running?"
	noticeWebsiteFailed  = "Could not read website"
	noticePDFFailed      = "Could not read PDF"
	noticeKnowledgeClear = "Knowledge base cleared"
)

var (
	ErrUnknownModel        = errors.New("unknown model")
	ErrUnknownRun          = errors.New("unknown run")
	ErrNoModelSelected     = errors.New("no model selected")
	ErrEmptyMessage        = errors.New("message is empty")
	ErrEmptySource         = errors.New("source is empty")
	ErrConfigurationAbsent = errors.New("knowledge base is not configured")
	ErrReadFailure         = errors.New("source could not be read")
	ErrTurnAborted         = errors.New("turn aborted")
)

type State int

const (
	StateNoAssistant State = iota
	StateAssistantReady
	StateRunActive
)

func (s State) String() string {
	switch s {
	case StateNoAssistant:
		return "no_assistant"
	case StateAssistantReady:
		return "assistant_ready"
	case StateRunActive:
		return "run_active"
	default:
		return "unknown"
	}
}

type Assistant interface {
	Model() string
	Run(ctx context.Context, runID, prompt string) (*schema.StreamReader[string], error)
}

type AssistantFactory interface {
	NewAssistant(ctx context.Context, modelName string) (Assistant, error)
}

// AssistantFactoryFunc adapts a function to AssistantFactory.
type AssistantFactoryFunc func(ctx context.Context, modelName string) (Assistant, error)

func (f AssistantFactoryFunc) NewAssistant(ctx context.Context, modelName string) (Assistant, error) {
	return f(ctx, modelName)
}

type RunStore interface {
	CreateRun(ctx context.Context, modelName string) (string, error)
	ListRunIDs(ctx context.Context, modelName string) ([]string, error)
	GetTranscript(ctx context.Context, runID string) ([]model.Message, error)
}

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// Session is the live state of one client connection.
type Session struct {
	SelectedModel string
	CurrentRunID  string
	Transcript    []model.Message
	Ingested      *IngestionTracker
	// Generation changes whenever presentation layers must drop cached input state.
	Generation int
}

type OrchestratorDeps struct {
	Models    []string
	Factory   AssistantFactory
	Store     RunStore
	Knowledge KnowledgeBase
	Ingestor  *KnowledgeIngestor
	Logger    *zap.Logger
}

// Orchestrator drives one Session. It is not safe for concurrent use; callers
// serialize actions per session.
type Orchestrator struct {
	deps      OrchestratorDeps
	logger    *zap.Logger
	session   Session
	state     State
	assistant Assistant
	notices   []Notice
}

func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{
		deps:   deps,
		logger: deps.Logger,
		session: Session{
			Ingested: NewIngestionTracker(),
		},
		state: StateNoAssistant,
	}
}

func (o *Orchestrator) State() State {
	return o.state
}

// Session returns a copy of the session with its own transcript slice.
func (o *Orchestrator) Session() Session {
	s := o.session
	s.Transcript = append([]model.Message(nil), o.session.Transcript...)
	return s
}

func (o *Orchestrator) Models() []string {
	return append([]string(nil), o.deps.Models...)
}

// SelectModel switches to modelName, tearing down the current assistant and run
// and building a fresh assistant. Selecting the active model again is a no-op.
func (o *Orchestrator) SelectModel(ctx context.Context, modelName string) error {
	if !o.knownModel(modelName) {
		return fmt.Errorf("%w: %s", ErrUnknownModel, modelName)
	}
	if modelName == o.session.SelectedModel && o.assistant != nil {
		return nil
	}

	o.restart()
	o.session.SelectedModel = modelName
	o.logger.Info("model selected", zap.String("model", modelName), zap.Int("generation", o.session.Generation))
	o.buildAssistant(ctx)
	return nil
}

// NewRun discards the current run and assistant. The next Activate creates a new run.
func (o *Orchestrator) NewRun() {
	o.restart()
	o.logger.Info("new run requested", zap.Int("generation", o.session.Generation))
}

// Activate brings the session to RunActive, building the assistant and creating
// a run as needed. It reports false when the turn has to be aborted; the reason
// is queued as a notice.
func (o *Orchestrator) Activate(ctx context.Context) bool {
	if o.session.SelectedModel == "" {
		o.notify(NoticeWarning, ErrNoModelSelected.Error())
		return false
	}
	if o.state == StateNoAssistant && !o.buildAssistant(ctx) {
		return false
	}
	if o.state == StateRunActive {
		return true
	}

	runID, err := o.deps.Store.CreateRun(ctx, o.session.SelectedModel)
	if err != nil {
		if errors.Is(err, runstore.ErrBackendUnavailable) {
			metrics.BackendUnavailable("create_run")
		}
		o.logger.Warn("create run failed", zap.String("model", o.session.SelectedModel), zap.Error(err))
		o.notify(NoticeWarning, noticeRunStoreDown)
		return false
	}
	metrics.RunCreated(o.session.SelectedModel)

	o.session.CurrentRunID = runID
	o.session.Transcript = nil
	o.state = StateRunActive
	o.logger.Info("run active", zap.String("run_id", runID), zap.String("model", o.session.SelectedModel))
	return true
}

// SubmitMessage appends the user's message, streams the answer through onUpdate
// and appends the final assistant message, which it returns. When no run can be
// activated the transcript is left untouched and ErrTurnAborted is returned.
func (o *Orchestrator) SubmitMessage(ctx context.Context, text string, onUpdate func(partial string)) (model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Message{}, ErrEmptyMessage
	}
	if !o.Activate(ctx) {
		return model.Message{}, ErrTurnAborted
	}

	runID := o.session.CurrentRunID
	o.appendMessage(model.RoleUser, text)

	started := time.Now()
	stream, err := o.assistant.Run(ctx, runID, text)
	if err != nil {
		// a stream that never started is recorded the same way as one that broke
		stream = failedStream(err)
	}
	answer, streamErr := Respond(stream, onUpdate)
	metrics.ObserveStream(o.session.SelectedModel, started, streamErr != nil)
	if streamErr != nil {
		o.logger.Warn("model stream failed", zap.String("run_id", runID), zap.Error(streamErr))
	}
	return o.appendMessage(model.RoleAssistant, answer), nil
}

func (o *Orchestrator) AddURL(ctx context.Context, rawURL string) (Outcome, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return Outcome{}, ErrEmptySource
	}
	return o.ingest(ctx, reader.URLSource(rawURL), noticeWebsiteFailed)
}

func (o *Orchestrator) AddPDF(ctx context.Context, name string, body io.Reader) (Outcome, error) {
	if strings.TrimSpace(name) == "" || body == nil {
		return Outcome{}, ErrEmptySource
	}
	return o.ingest(ctx, reader.FileSource(name, body), noticePDFFailed)
}

func (o *Orchestrator) ingest(ctx context.Context, src reader.Source, readFailedNotice string) (Outcome, error) {
	if !o.knowledgeEnabled() {
		return Outcome{}, ErrConfigurationAbsent
	}

	outcome, err := o.deps.Ingestor.Ingest(ctx, src, o.session.Ingested, o.deps.Knowledge)
	if err != nil {
		metrics.Ingestion(string(src.Kind), "load_failed")
		o.logger.Error("knowledge load failed", zap.String("key", src.Key()), zap.Error(err))
		o.notify(NoticeError, "Could not add to knowledge base: "+err.Error())
		return outcome, err
	}
	metrics.Ingestion(string(src.Kind), outcome.Kind.String())
	switch outcome.Kind {
	case OutcomeReadFailed, OutcomeEmpty:
		o.notify(NoticeError, readFailedNotice)
	}
	return outcome, nil
}

// ClearKnowledgeBase deletes every stored document. The ingestion tracker is
// kept, so sources added earlier in this session are still reported as present.
func (o *Orchestrator) ClearKnowledgeBase(ctx context.Context) error {
	if !o.clearEnabled() {
		return ErrConfigurationAbsent
	}
	if err := o.deps.Knowledge.Clear(ctx); err != nil {
		o.logger.Error("clear knowledge base failed", zap.Error(err))
		o.notify(NoticeError, "Could not clear knowledge base: "+err.Error())
		return err
	}
	o.logger.Info("knowledge base cleared")
	o.notify(NoticeSuccess, noticeKnowledgeClear)
	return nil
}

// ListRuns returns the stored run ids for the selected model, most recent first.
func (o *Orchestrator) ListRuns(ctx context.Context) ([]string, error) {
	if o.session.SelectedModel == "" {
		return nil, ErrNoModelSelected
	}
	ids, err := o.deps.Store.ListRunIDs(ctx, o.session.SelectedModel)
	if err != nil {
		if errors.Is(err, runstore.ErrBackendUnavailable) {
			metrics.BackendUnavailable("list_runs")
		}
		return nil, err
	}
	return ids, nil
}

// SelectRun resumes a stored run of the selected model, replacing the transcript
// with the stored one. Unsaved messages of the current run are discarded.
func (o *Orchestrator) SelectRun(ctx context.Context, runID string) error {
	runID = strings.TrimSpace(runID)
	if runID == o.session.CurrentRunID && o.state == StateRunActive {
		return nil
	}

	ids, err := o.ListRuns(ctx)
	if err != nil {
		if errors.Is(err, runstore.ErrBackendUnavailable) {
			o.notify(NoticeWarning, noticeRunStoreDown)
		}
		return err
	}
	if !contains(ids, runID) {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}

	transcript, err := o.deps.Store.GetTranscript(ctx, runID)
	if err != nil {
		if errors.Is(err, runstore.ErrBackendUnavailable) {
			metrics.BackendUnavailable("get_transcript")
			o.notify(NoticeWarning, noticeRunStoreDown)
		}
		return err
	}

	a, err := o.newAssistant(ctx)
	if err != nil {
		return ErrTurnAborted
	}
	o.assistant = a
	o.session.CurrentRunID = runID
	o.session.Transcript = append([]model.Message(nil), transcript...)
	o.state = StateRunActive
	o.logger.Info("run loaded", zap.String("run_id", runID), zap.Int("messages", len(transcript)))
	return nil
}

// DrainNotices returns the queued notices and empties the queue.
func (o *Orchestrator) DrainNotices() []Notice {
	out := o.notices
	o.notices = nil
	return out
}

type View struct {
	Model                string          `json:"model"`
	Models               []string        `json:"models"`
	RunID                string          `json:"run_id,omitempty"`
	State                string          `json:"state"`
	Generation           int             `json:"generation"`
	Messages             []model.Message `json:"messages"`
	Placeholder          string          `json:"placeholder,omitempty"`
	KnowledgeBaseEnabled bool            `json:"knowledge_base_enabled"`
	ClearEnabled         bool            `json:"clear_enabled"`
	RunsEnabled          bool            `json:"runs_enabled"`
	Notices              []Notice        `json:"notices,omitempty"`
}

// View renders the session for a client and drains pending notices.
// System messages are left out.
func (o *Orchestrator) View() View {
	visible := make([]model.Message, 0, len(o.session.Transcript))
	for _, m := range o.session.Transcript {
		if m.Visible() {
			visible = append(visible, m)
		}
	}
	v := View{
		Model:                o.session.SelectedModel,
		Models:               o.Models(),
		RunID:                o.session.CurrentRunID,
		State:                o.state.String(),
		Generation:           o.session.Generation,
		Messages:             visible,
		KnowledgeBaseEnabled: o.knowledgeEnabled(),
		ClearEnabled:         o.clearEnabled(),
		RunsEnabled:          o.deps.Store != nil,
		Notices:              o.DrainNotices(),
	}
	if len(visible) == 0 {
		v.Placeholder = GreetingPlaceholder
	}
	return v
}

func (o *Orchestrator) restart() {
	o.assistant = nil
	o.session.CurrentRunID = ""
	o.session.Transcript = nil
	o.session.Generation++
	o.state = StateNoAssistant
}

func (o *Orchestrator) buildAssistant(ctx context.Context) bool {
	a, err := o.newAssistant(ctx)
	if err != nil {
		return false
	}
	o.assistant = a
	o.state = StateAssistantReady
	return true
}

// newAssistant leaves the session untouched; a failure is queued as a notice.
func (o *Orchestrator) newAssistant(ctx context.Context) (Assistant, error) {
	a, err := o.deps.Factory.NewAssistant(ctx, o.session.SelectedModel)
	if err != nil {
		o.logger.Warn("create assistant failed", zap.String("model", o.session.SelectedModel), zap.Error(err))
		o.notify(NoticeWarning, noticeRunStoreDown)
		return nil, err
	}
	return a, nil
}

func (o *Orchestrator) appendMessage(role, content string) model.Message {
	msg := model.Message{
		RunID:     o.session.CurrentRunID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	o.session.Transcript = append(o.session.Transcript, msg)
	return msg
}

func (o *Orchestrator) notify(level NoticeLevel, message string) {
	o.notices = append(o.notices, Notice{Level: level, Message: message})
}

// knowledgeEnabled also requires a vector store: without one nothing can be loaded.
func (o *Orchestrator) knowledgeEnabled() bool {
	return o.clearEnabled() && o.deps.Ingestor != nil
}

func (o *Orchestrator) clearEnabled() bool {
	return o.deps.Knowledge != nil && o.deps.Knowledge.HasVectorStore()
}

func (o *Orchestrator) knownModel(name string) bool {
	return contains(o.deps.Models, name)
}

func failedStream(err error) *schema.StreamReader[string] {
	sr, sw := schema.Pipe[string](1)
	sw.Send("", err)
	sw.Close()
	return sr
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
