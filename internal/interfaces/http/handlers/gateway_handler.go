package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/relayforge/gateway/internal/domain/concurrency"
	"github.com/relayforge/gateway/internal/domain/registry"
	"github.com/relayforge/gateway/internal/domain/session"
	"github.com/relayforge/gateway/internal/infrastructure/config"
	"github.com/relayforge/gateway/internal/infrastructure/llm"
)

// GatewayHandler serves the REST surface listed in spec §6:
// POST /chat, POST /clear/{session_id}, POST /provider/{session_id},
// GET /status, GET /subagents/{session_id}, GET /config. /ws/{session_id}
// is registered separately against websocket.Handler.ServeWS.
type GatewayHandler struct {
	sessions *session.Manager
	runs     *registry.Registry
	lane     *concurrency.Lane
	router   *llm.Router
	cfg      *config.Config
	logger   *zap.Logger
}

func NewGatewayHandler(sessions *session.Manager, runs *registry.Registry, lane *concurrency.Lane, router *llm.Router, cfg *config.Config, logger *zap.Logger) *GatewayHandler {
	return &GatewayHandler{sessions: sessions, runs: runs, lane: lane, router: router, cfg: cfg, logger: logger}
}

type chatRequest struct {
	Message   string `json:"message" binding:"required"`
	SessionID string `json:"session_id" binding:"required"`
	Provider  string `json:"provider"`
}

// Chat handles POST /chat.
func (h *GatewayHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Provider != "" {
		if h.router != nil && !h.router.HasProvider(req.Provider) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider: " + req.Provider})
			return
		}
		if err := h.sessions.SetProvider(req.SessionID, req.Provider); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	handle := h.sessions.HandleMessage(req.SessionID, req.Message)
	result, err := handle.Wait(c.Request.Context())
	if err != nil {
		h.logger.Error("chat turn failed", zap.String("session_id", req.SessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"response": result, "session_id": req.SessionID})
}

// ClearSession handles POST /clear/{session_id}.
func (h *GatewayHandler) ClearSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	h.sessions.Clear(sessionID)
	c.JSON(http.StatusOK, gin.H{"status": "cleared", "session_id": sessionID})
}

type providerRequest struct {
	Provider string `json:"provider" binding:"required"`
}

// SetProvider handles POST /provider/{session_id}.
func (h *GatewayHandler) SetProvider(c *gin.Context) {
	sessionID := c.Param("session_id")
	var req providerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.router != nil && !h.router.HasProvider(req.Provider) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider: " + req.Provider})
		return
	}
	if err := h.sessions.SetProvider(sessionID, req.Provider); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "session_id": sessionID, "provider": req.Provider})
}

// Status handles GET /status.
func (h *GatewayHandler) Status(c *gin.Context) {
	st := h.lane.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"active_subagents": st.Active,
		"queued_subagents": st.Queued,
	})
}

type runView struct {
	RunID     string `json:"run_id"`
	Task      string `json:"task"`
	Label     string `json:"label"`
	Status    string `json:"status"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	Model     string `json:"model,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Subagents handles GET /subagents/{session_id}.
func (h *GatewayHandler) Subagents(c *gin.Context) {
	sessionID := c.Param("session_id")
	runs := h.runs.ListBySession(sessionID)
	views := make([]runView, 0, len(runs))
	for _, r := range runs {
		views = append(views, runView{
			RunID:     r.RunID,
			Task:      r.Task,
			Label:     r.Label,
			Status:    string(r.Status),
			Result:    r.Result,
			Error:     r.Error,
			Model:     r.Model,
			CreatedAt: r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	c.JSON(http.StatusOK, gin.H{"subagents": views})
}

// ConfigView handles GET /config — the llm/agent sections only, with
// provider API keys stripped (spec §6: "no secrets").
func (h *GatewayHandler) ConfigView(c *gin.Context) {
	providers := make([]gin.H, 0, len(h.cfg.Agent.Providers))
	for _, p := range h.cfg.Agent.Providers {
		providers = append(providers, gin.H{
			"name":     p.Name,
			"base_url": p.BaseURL,
			"models":   p.Models,
			"priority": p.Priority,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"llm": gin.H{
			"default_provider": h.cfg.Agent.DefaultProvider,
			"default_model":    h.cfg.Agent.DefaultModel,
			"fallback_models":  h.cfg.Agent.FallbackModels,
			"providers":        providers,
		},
		"agent": gin.H{
			"max_iterations": h.cfg.Agent.MaxIterations,
			"workspace":      h.cfg.Agent.Workspace,
			"ask_mode":       h.cfg.Agent.AskMode,
		},
	})
}
