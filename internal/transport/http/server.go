package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"certguide/internal/bootstrap"
	"certguide/internal/transport/http/handler"
	"certguide/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.MaxMultipartMemory = 32 << 20

	healthHandler := handler.NewHealthHandler(app)
	authHandler := handler.NewAuthHandler(app.Auth)
	chatHandler := handler.NewChatHandler(app.Chat, app.Generator)
	knowledgeHandler := handler.NewKnowledgeHandler(app.RAG)
	uploadHandler := handler.NewUploadHandler(app.RAG)

	router.GET("/healthz", healthHandler.Check)

	api := router.Group("/api")
	if rl := app.Config.RateLimit; rl.Enabled {
		limiter := middleware.NewRateLimiter(rl.Requests, time.Duration(rl.WindowSeconds)*time.Second)
		api.Use(limiter.Middleware())
		app.Logger.Info("rate limiter enabled", "requests", rl.Requests, "window_seconds", rl.WindowSeconds)
	}
	auth := middleware.AuthJWT(app.Config.Auth.JWTSecret)

	authGroup := api.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", auth, authHandler.Me)

	chatGroup := api.Group("/chat")
	chatGroup.Use(auth)
	RegisterChatRoutes(chatGroup, chatHandler, knowledgeHandler, uploadHandler)

	return router
}

// RegisterChatRoutes mounts the authenticated chat and knowledge routes.
func RegisterChatRoutes(g *gin.RouterGroup, chat *handler.ChatHandler, kb *handler.KnowledgeHandler, upload *handler.UploadHandler) {
	g.POST("", chat.SendMessage)
	g.GET("/history", chat.GetHistory)
	g.GET("/llm-status", chat.LLMStatus)

	g.GET("/rag-status", kb.RAGStatus)
	g.POST("/search-knowledge", kb.SearchKnowledge)
	g.GET("/knowledge-stats", kb.KnowledgeStats)
	g.GET("/vector-store-stats", kb.VectorStoreStats)
	g.DELETE("/clear-vector-store", kb.ClearVectorStore)
	g.POST("/rebuild-vector-store", kb.RebuildVectorStore)
	g.DELETE("/documents/:id", kb.DeleteDocument)
	g.GET("/documents/:id/similar", kb.SimilarDocuments)
	g.GET("/pdf-upload-limits", kb.PDFUploadLimits)

	g.POST("/upload-pdf", upload.UploadPDF)
	g.POST("/upload-multiple-pdfs", upload.UploadMultiplePDFs)
}
