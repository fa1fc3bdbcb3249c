package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/geodex/geodex/internal/models"
)

// ProductHandler serves product endpoints.
type ProductHandler struct {
	products ProductService
	log      *logrus.Logger
}

// NewProductHandler creates a ProductHandler.
func NewProductHandler(products ProductService, log *logrus.Logger) *ProductHandler {
	return &ProductHandler{products: products, log: log}
}

// List handles GET /api/v1/products.
func (h *ProductHandler) List(c *gin.Context) {
	all, err := h.products.All(c.Request.Context())
	if err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"products": all})
}

// Get handles GET /api/v1/products/:name.
func (h *ProductHandler) Get(c *gin.Context) {
	p, err := h.products.GetByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	c.JSON(http.StatusOK, p)
}

// Create handles POST /api/v1/products. The body is the product
// definition document; index objects are created as a side effect.
func (h *ProductHandler) Create(c *gin.Context) {
	var def models.Document
	if err := c.ShouldBindJSON(&def); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")

		return
	}

	p, err := h.products.Add(c.Request.Context(), def)
	if err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	h.log.WithFields(logrus.Fields{"action": "product.create", "name": p.Name}).Info("audit")

	c.JSON(http.StatusCreated, p)
}

// Update handles PUT /api/v1/products/:name. Unsafe changes need
// ?allow_unsafe=true.
func (h *ProductHandler) Update(c *gin.Context) {
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

	p, err := h.products.Update(c.Request.Context(), def, allowUnsafe)
	if err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	h.log.WithFields(logrus.Fields{
		"action":       "product.update",
		"name":         p.Name,
		"allow_unsafe": allowUnsafe,
	}).Info("audit")

	c.JSON(http.StatusOK, p)
}
