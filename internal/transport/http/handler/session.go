package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gopherai-localrag/internal/app"
	"gopherai-localrag/internal/pkg/jwtutil"
	"gopherai-localrag/internal/runstore"
	"gopherai-localrag/internal/transport/http/middleware"
	"gopherai-localrag/internal/transport/http/response"
)

type SessionHandler struct {
	registry *app.SessionRegistry
	secret   string
	tokenTTL time.Duration
	logger   *zap.Logger
}

type SelectModelRequest struct {
	Model string `json:"model" binding:"required"`
}

type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

type AddURLRequest struct {
	URL string `json:"url" binding:"required"`
}

type SelectRunRequest struct {
	RunID string `json:"run_id" binding:"required"`
}

type SessionCreated struct {
	SessionID string   `json:"session_id"`
	Token     string   `json:"token"`
	View      app.View `json:"view"`
}

type IngestResult struct {
	Outcome string   `json:"outcome"`
	Count   int      `json:"count"`
	View    app.View `json:"view"`
}

func NewSessionHandler(registry *app.SessionRegistry, secret string, tokenTTL time.Duration, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{registry: registry, secret: secret, tokenTTL: tokenTTL, logger: logger}
}

func (h *SessionHandler) Create(c *gin.Context) {
	handle, err := h.registry.Create(c.Request.Context())
	if err != nil {
		h.logger.Error("create session failed", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "create session failed")
		return
	}

	token, err := jwtutil.GenerateToken(h.secret, h.tokenTTL, handle.ID)
	if err != nil {
		h.registry.Delete(handle.ID)
		h.logger.Error("issue session token failed", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "create session failed")
		return
	}

	var view app.View
	_ = handle.Do(func(o *app.Orchestrator) error {
		view = o.View()
		return nil
	})
	response.OK(c, SessionCreated{SessionID: handle.ID, Token: token, View: view})
}

func (h *SessionHandler) Get(c *gin.Context) {
	h.withSession(c, func(o *app.Orchestrator) error {
		response.OK(c, o.View())
		return nil
	})
}

// SelectModel switches the model and, like a page rerun, tries to open a run right away.
func (h *SessionHandler) SelectModel(c *gin.Context) {
	var req SelectModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	ctx := c.Request.Context()
	h.withSession(c, func(o *app.Orchestrator) error {
		if err := o.SelectModel(ctx, req.Model); err != nil {
			return err
		}
		o.Activate(ctx)
		response.OK(c, o.View())
		return nil
	})
}

// SendMessage streams the answer as server-sent events: unnamed events carry the
// accumulated text, "notice" events carry queued notices, and a final "done" event
// carries the stored assistant message. An aborted turn ends with an "error" event.
func (h *SessionHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	handle, ok := h.session(c)
	if !ok {
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	_ = handle.Do(func(o *app.Orchestrator) error {
		reply, err := o.SubmitMessage(ctx, req.Content, func(partial string) {
			writeEvent(c, flusher, "", sanitizeSSE(partial))
		})
		for _, n := range o.DrainNotices() {
			writeJSONEvent(c, flusher, "notice", n)
		}
		if err != nil {
			writeEvent(c, flusher, "error", sanitizeSSE(err.Error()))
			return nil
		}
		writeJSONEvent(c, flusher, "done", reply)
		return nil
	})
}

func (h *SessionHandler) AddURL(c *gin.Context) {
	var req AddURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	ctx := c.Request.Context()
	h.withSession(c, func(o *app.Orchestrator) error {
		out, err := o.AddURL(ctx, req.URL)
		if err != nil {
			return err
		}
		response.OK(c, IngestResult{Outcome: out.Kind.String(), Count: out.Count, View: o.View()})
		return nil
	})
}

func (h *SessionHandler) AddPDF(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if strings.ToLower(filepath.Ext(file.Filename)) != ".pdf" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "only PDF files are allowed")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	defer f.Close()

	ctx := c.Request.Context()
	h.withSession(c, func(o *app.Orchestrator) error {
		out, err := o.AddPDF(ctx, filepath.Base(file.Filename), f)
		if err != nil {
			return err
		}
		response.OK(c, IngestResult{Outcome: out.Kind.String(), Count: out.Count, View: o.View()})
		return nil
	})
}

func (h *SessionHandler) ClearKnowledge(c *gin.Context) {
	ctx := c.Request.Context()
	h.withSession(c, func(o *app.Orchestrator) error {
		if err := o.ClearKnowledgeBase(ctx); err != nil {
			return err
		}
		response.OK(c, o.View())
		return nil
	})
}

func (h *SessionHandler) ListRuns(c *gin.Context) {
	ctx := c.Request.Context()
	h.withSession(c, func(o *app.Orchestrator) error {
		ids, err := o.ListRuns(ctx)
		if err != nil {
			return err
		}
		response.OK(c, gin.H{"model": o.Session().SelectedModel, "runs": ids})
		return nil
	})
}

func (h *SessionHandler) SelectRun(c *gin.Context) {
	var req SelectRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	ctx := c.Request.Context()
	h.withSession(c, func(o *app.Orchestrator) error {
		if err := o.SelectRun(ctx, req.RunID); err != nil {
			return err
		}
		response.OK(c, o.View())
		return nil
	})
}

func (h *SessionHandler) NewRun(c *gin.Context) {
	ctx := c.Request.Context()
	h.withSession(c, func(o *app.Orchestrator) error {
		o.NewRun()
		o.Activate(ctx)
		response.OK(c, o.View())
		return nil
	})
}

func (h *SessionHandler) session(c *gin.Context) (*app.SessionHandle, bool) {
	raw, _ := c.Get(middleware.ContextSessionIDKey)
	id, _ := raw.(string)
	if id == "" {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return nil, false
	}
	handle, ok := h.registry.Get(id)
	if !ok {
		response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, "session not found or expired")
		return nil, false
	}
	return handle, true
}

func (h *SessionHandler) withSession(c *gin.Context, fn func(o *app.Orchestrator) error) {
	handle, ok := h.session(c)
	if !ok {
		return
	}
	if err := handle.Do(fn); err != nil {
		h.writeError(c, err)
	}
}

func (h *SessionHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrUnknownModel):
		response.Error(c, http.StatusBadRequest, response.CodeUnknownModel, err.Error())
	case errors.Is(err, app.ErrEmptyMessage), errors.Is(err, app.ErrEmptySource):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrNoModelSelected):
		response.Error(c, http.StatusConflict, response.CodeNoModelSelected, err.Error())
	case errors.Is(err, app.ErrUnknownRun):
		response.Error(c, http.StatusNotFound, response.CodeRunNotFound, err.Error())
	case errors.Is(err, app.ErrConfigurationAbsent):
		response.Error(c, http.StatusForbidden, response.CodeKnowledgeDisabled, err.Error())
	case errors.Is(err, runstore.ErrBackendUnavailable), errors.Is(err, app.ErrTurnAborted):
		response.Error(c, http.StatusServiceUnavailable, response.CodeRunStoreUnavailable, "run store unavailable")
	default:
		h.logger.Error("session action failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, err.Error())
	}
}

func writeEvent(c *gin.Context, flusher http.Flusher, event, data string) {
	var b strings.Builder
	if event != "" {
		b.WriteString("event: " + event + "\n")
	}
	b.WriteString("data: " + data + "\n\n")
	if _, err := c.Writer.Write([]byte(b.String())); err == nil {
		flusher.Flush()
	}
}

func writeJSONEvent(c *gin.Context, flusher http.Flusher, event string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	writeEvent(c, flusher, event, string(payload))
}

func sanitizeSSE(input string) string {
	replaced := strings.ReplaceAll(input, "\r\n", "\\n")
	replaced = strings.ReplaceAll(replaced, "\n", "\\n")
	return replaced
}
