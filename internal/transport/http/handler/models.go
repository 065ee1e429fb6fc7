package handler

import (
	"github.com/gin-gonic/gin"

	"gopherai-localrag/internal/transport/http/response"
)

type ModelsHandler struct {
	models       []string
	defaultModel string
}

func NewModelsHandler(models []string, defaultModel string) *ModelsHandler {
	return &ModelsHandler{models: append([]string(nil), models...), defaultModel: defaultModel}
}

func (h *ModelsHandler) List(c *gin.Context) {
	response.OK(c, gin.H{
		"models":  h.models,
		"default": h.defaultModel,
	})
}
