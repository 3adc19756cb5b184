package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchyard/internal/apperr"
	"github.com/zulandar/switchyard/internal/dispatch"
	"github.com/zulandar/switchyard/internal/memory"
	"github.com/zulandar/switchyard/internal/models"
	"github.com/zulandar/switchyard/internal/registry"
)

type handlers struct {
	dispatcher *dispatch.Dispatcher
	store      *memory.Store
	registry   *registry.Registry
}

func (h *handlers) register(g *gin.RouterGroup) {
	g.POST("/chat", h.chat)
	g.GET("/history/:agentId", h.history)
	g.DELETE("/history/:agentId", h.clearHistory)
	g.GET("/list", h.list)
}

type chatRequest struct {
	Message   string `json:"message"`
	AgentName string `json:"agent_name"`
}

// turnJSON is the wire form of a stored turn.
type turnJSON struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Intent    string    `json:"intent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type historyResponse struct {
	AgentID       string     `json:"agentId"`
	TotalMessages int64      `json:"totalMessages"`
	Messages      []turnJSON `json:"messages"`
}

type agentJSON struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *handlers) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Errorf(apperr.Validation, "", "request body must be JSON with a message field"))
		return
	}
	env := h.dispatcher.Handle(c.Request.Context(), callerOf(c), req.Message, req.AgentName)
	status := http.StatusOK
	if !env.Success {
		status = apperr.HTTPStatus(apperr.Kind(env.Error))
	}
	c.JSON(status, env)
}

func (h *handlers) history(c *gin.Context) {
	agentID, ok := h.registry.Resolve(c.Param("agentId"))
	if !ok {
		fail(c, apperr.Errorf(apperr.InvalidAgent, "", "unknown agent %q", c.Param("agentId")))
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fail(c, apperr.Errorf(apperr.Validation, "", "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	user := callerOf(c).ID
	turns, err := h.store.History(ctx, user, agentID, limit)
	if err != nil {
		fail(c, err)
		return
	}
	total, err := h.store.Count(ctx, user, agentID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, historyResponse{
		AgentID:       agentID,
		TotalMessages: total,
		Messages:      toTurnJSON(turns),
	})
}

func (h *handlers) clearHistory(c *gin.Context) {
	agentID, ok := h.registry.Resolve(c.Param("agentId"))
	if !ok {
		fail(c, apperr.Errorf(apperr.InvalidAgent, "", "unknown agent %q", c.Param("agentId")))
		return
	}
	if err := h.store.Clear(c.Request.Context(), callerOf(c).ID, agentID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *handlers) list(c *gin.Context) {
	agents := h.registry.List()
	out := make([]agentJSON, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentJSON{ID: a.ID, Name: a.DisplayName, Description: a.Description})
	}
	c.JSON(http.StatusOK, out)
}

func fail(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(apperr.KindOf(err)), dispatch.Failure(err))
}

func toTurnJSON(turns []models.Turn) []turnJSON {
	out := make([]turnJSON, 0, len(turns))
	for _, t := range turns {
		out = append(out, turnJSON{Role: t.Role, Content: t.Content, Intent: t.Intent, CreatedAt: t.CreatedAt})
	}
	return out
}
