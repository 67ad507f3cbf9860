package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"certguide/internal/bootstrap"
)

type HealthHandler struct {
	app *bootstrap.App
}

type componentStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func NewHealthHandler(app *bootstrap.App) *HealthHandler {
	return &HealthHandler{app: app}
}

// Check reports "degraded" with 503 when a storage or messaging dependency
// is down. A missing LLM key or an empty vector index is reported but does
// not degrade the service, since chat falls back to rule-based answers.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	deps := map[string]componentStatus{
		"mysql":    h.pingMySQL(ctx),
		"redis":    h.pingRedis(ctx),
		"rabbitmq": h.rabbitMQ(),
	}
	status, code := "ok", http.StatusOK
	for _, d := range deps {
		if !d.OK {
			status, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}

	base := h.app.RAG.KnowledgeBase()
	c.JSON(code, gin.H{
		"status":       status,
		"app":          h.app.Config.App.Name,
		"env":          h.app.Config.App.Env,
		"uptime_sec":   int(time.Since(h.app.StartedAt).Seconds()),
		"dependencies": deps,
		"retrieval": gin.H{
			"faq_count":           len(base.FAQ),
			"documentation_count": len(base.Documentation),
			"vector_store":        h.app.RAG.Stats(),
		},
		"llm_configured": h.app.Config.LLM.APIKey != "",
	})
}

func (h *HealthHandler) pingMySQL(ctx context.Context) componentStatus {
	if h.app.MySQL == nil {
		return componentStatus{Message: "not connected"}
	}
	sqlDB, err := h.app.MySQL.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		return componentStatus{Message: err.Error()}
	}
	return componentStatus{OK: true}
}

func (h *HealthHandler) pingRedis(ctx context.Context) componentStatus {
	if h.app.Redis == nil {
		return componentStatus{Message: "not connected"}
	}
	if err := h.app.Redis.Ping(ctx).Err(); err != nil {
		return componentStatus{Message: err.Error()}
	}
	return componentStatus{OK: true}
}

func (h *HealthHandler) rabbitMQ() componentStatus {
	if h.app.MQConn == nil || h.app.MQConn.IsClosed() {
		return componentStatus{Message: "connection closed"}
	}
	return componentStatus{OK: true}
}
