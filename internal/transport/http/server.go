package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"gopherai-localrag/internal/bootstrap"
	"gopherai-localrag/internal/metrics"
	"gopherai-localrag/internal/transport/http/handler"
	"gopherai-localrag/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(middleware.RequestLogger(app.Logger), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", metrics.Handler())

	modelsHandler := handler.NewModelsHandler(app.Config.LLM.Models, app.Config.LLM.DefaultModel)
	sessionHandler := handler.NewSessionHandler(
		app.Registry,
		app.Config.Auth.SessionSecret,
		time.Duration(app.Config.Auth.SessionTokenMinute)*time.Minute,
		app.Logger,
	)

	v1 := router.Group("/api/v1")
	v1.GET("/models", modelsHandler.List)
	v1.POST("/sessions", sessionHandler.Create)

	sessionGroup := v1.Group("/session")
	sessionGroup.Use(middleware.AuthSession(app.Config.Auth.SessionSecret))
	sessionGroup.GET("", sessionHandler.Get)
	sessionGroup.PUT("/model", sessionHandler.SelectModel)
	sessionGroup.POST("/messages", sessionHandler.SendMessage)
	sessionGroup.POST("/urls", sessionHandler.AddURL)
	sessionGroup.POST("/pdfs", sessionHandler.AddPDF)
	sessionGroup.DELETE("/knowledge", sessionHandler.ClearKnowledge)
	sessionGroup.GET("/runs", sessionHandler.ListRuns)
	sessionGroup.POST("/runs", sessionHandler.NewRun)
	sessionGroup.PUT("/run", sessionHandler.SelectRun)

	return router
}
