package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/geodex/geodex/internal/models"
)

// MetadataTypeHandler serves metadata type endpoints.
type MetadataTypeHandler struct {
	types   MetadataTypeService
	catalog CatalogService
	log     *logrus.Logger
}

// NewMetadataTypeHandler creates a MetadataTypeHandler.
func NewMetadataTypeHandler(types MetadataTypeService, catalog CatalogService, log *logrus.Logger) *MetadataTypeHandler {
	return &MetadataTypeHandler{types: types, catalog: catalog, log: log}
}

// List handles GET /api/v1/metadata-types.
func (h *MetadataTypeHandler) List(c *gin.Context) {
	all, err := h.types.All(c.Request.Context())
	if err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"metadata_types": all})
}

// Get handles GET /api/v1/metadata-types/:name.
func (h *MetadataTypeHandler) Get(c *gin.Context) {
	mdt, err := h.types.GetByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	c.JSON(http.StatusOK, mdt)
}

// Create handles POST /api/v1/metadata-types. The body is the raw
// definition document; re-posting an equivalent document returns the
// existing record.
func (h *MetadataTypeHandler) Create(c *gin.Context) {
	var def models.Document
	if err := c.ShouldBindJSON(&def); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")

		return
	}

	mdt, err := h.types.Add(c.Request.Context(), def)
	if err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	h.log.WithFields(logrus.Fields{"action": "metadata_type.create", "name": mdt.Name}).Info("audit")

	c.JSON(http.StatusCreated, mdt)
}

// Update handles PUT /api/v1/metadata-types/:name. Unsafe changes need
// ?allow_unsafe=true; affected products get their indexes reconciled.
func (h *MetadataTypeHandler) Update(c *gin.Context) {
	var def models.Document
	if err := c.ShouldBindJSON(&def); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")

		return
	}

	if name, _ := def["name"].(string); name != c.Param("name") {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "definition name does not match path")

		return
	}

	allowUnsafe := c.Query("allow_unsafe") == "true"

	mdt, err := h.catalog.UpdateMetadataType(c.Request.Context(), def, allowUnsafe)
	if err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	h.log.WithFields(logrus.Fields{
		"action":       "metadata_type.update",
		"name":         mdt.Name,
		"allow_unsafe": allowUnsafe,
	}).Info("audit")

	c.JSON(http.StatusOK, mdt)
}
