package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/geodex/geodex/internal/driver"
)

// DriverHandler serves storage driver administration endpoints.
type DriverHandler struct {
	registry *driver.Registry
	log      *logrus.Logger
}

// NewDriverHandler creates a DriverHandler.
func NewDriverHandler(registry *driver.Registry, log *logrus.Logger) *DriverHandler {
	return &DriverHandler{registry: registry, log: log}
}

// List handles GET /api/v1/drivers.
func (h *DriverHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"drivers": h.registry.Drivers(),
		"current": h.registry.Current().Name(),
	})
}

// SetCurrent handles PUT /api/v1/drivers/current.
func (h *DriverHandler) SetCurrent(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")

		return
	}

	if err := h.registry.SetCurrent(req.Name); err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	h.log.WithFields(logrus.Fields{"action": "driver.set_current", "driver": req.Name}).Info("audit")

	c.JSON(http.StatusOK, gin.H{"current": req.Name})
}

// Reload handles POST /api/v1/drivers/reload, re-probing all drivers.
func (h *DriverHandler) Reload(c *gin.Context) {
	if err := h.registry.Reload(c.Request.Context()); err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	h.log.WithFields(logrus.Fields{"action": "driver.reload"}).Info("audit")

	c.JSON(http.StatusOK, gin.H{"drivers": h.registry.Drivers()})
}
