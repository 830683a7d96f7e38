// Package http exposes the mediator over a small JSON facade. The verdict
// contract is the mediator's; the facade only transports it.
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pagewarden/pagewarden/internal/infrastructure/logging"
	"github.com/pagewarden/pagewarden/internal/infrastructure/monitoring"
	"github.com/pagewarden/pagewarden/internal/mediator"
	"github.com/pagewarden/pagewarden/internal/shared/types"
)

// Handlers binds the mediator to the HTTP routes.
type Handlers struct {
	mediator  *mediator.Mediator
	collector *monitoring.Collector
	logger    *logging.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(m *mediator.Mediator, collector *monitoring.Collector, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{mediator: m, collector: collector, logger: logger}
}

// Assess handles POST /assess.
func (h *Handlers) Assess(c *gin.Context) {
	var page types.PageContext
	if err := c.ShouldBindJSON(&page); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	assessment, err := h.mediator.Assess(c.Request.Context(), page)
	if err != nil {
		if errors.Is(err, types.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("assessment failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "assessment failed"})
		return
	}

	c.JSON(http.StatusOK, assessment)
}

// labeledRequest carries a page plus its ground-truth verdict.
type labeledRequest struct {
	Page  types.PageContext `json:"page"`
	Label types.Verdict     `json:"label"`
}

// AssessLabeled handles POST /assess/labeled: assess and record against a
// ground-truth label for offline accuracy evaluation.
func (h *Handlers) AssessLabeled(c *gin.Context) {
	var req labeledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	switch req.Label {
	case types.VerdictAllow, types.VerdictWarn, types.VerdictConfirm, types.VerdictBlock:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "label must be one of ALLOW, WARN, CONFIRM, BLOCK"})
		return
	}

	assessment, err := h.mediator.AssessLabeled(c.Request.Context(), req.Page, req.Label)
	if err != nil {
		if errors.Is(err, types.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("labeled assessment failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "assessment failed"})
		return
	}

	c.JSON(http.StatusOK, assessment)
}

// Summary handles GET /metrics/summary with the collector's rolling view.
func (h *Handlers) Summary(c *gin.Context) {
	if h.collector == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "collector disabled"})
		return
	}
	c.JSON(http.StatusOK, h.collector.Summary())
}

// Health handles GET /health.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
