package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/geodex/geodex/internal/models"
)

// DatasetHandler serves dataset lifecycle and search endpoints.
type DatasetHandler struct {
	datasets DatasetService
	products ProductService
	log      *logrus.Logger
}

// NewDatasetHandler creates a DatasetHandler.
func NewDatasetHandler(datasets DatasetService, products ProductService, log *logrus.Logger) *DatasetHandler {
	return &DatasetHandler{datasets: datasets, products: products, log: log}
}

// datasetRequest is the JSON body for indexing or updating a dataset.
// Product is optional; when absent the document is classified against
// every registered product's match rules.
type datasetRequest struct {
	ID        string            `json:"id"`
	Product   string            `json:"product"`
	Metadata  models.Document   `json:"metadata"`
	Locations []string          `json:"locations"`
	Sources   map[string]string `json:"sources"`
}

func (h *DatasetHandler) buildDataset(c *gin.Context, req *datasetRequest) (*models.Dataset, bool) {
	ds := &models.Dataset{Metadata: req.Metadata}

	if req.ID != "" {
		id, err := uuid.Parse(req.ID)
		if err != nil {
			respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid dataset id")

			return nil, false
		}

		ds.ID = id
	}

	if req.Product != "" {
		p, err := h.products.GetByName(c.Request.Context(), req.Product)
		if err != nil {
			respondCatalogError(c, h.log, err)

			return nil, false
		}

		ds.Product = p
	}

	for _, uri := range req.Locations {
		ds.Locations = append(ds.Locations, models.Location{URI: uri})
	}

	if len(req.Sources) > 0 {
		ds.SourceIDs = make(map[string]uuid.UUID, len(req.Sources))

		for classifier, raw := range req.Sources {
			id, err := uuid.Parse(raw)
			if err != nil {
				respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid source dataset id")

				return nil, false
			}

			ds.SourceIDs[classifier] = id
		}
	}

	return ds, true
}

// Create handles POST /api/v1/datasets.
func (h *DatasetHandler) Create(c *gin.Context) {
	var req datasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")

		return
	}

	ds, ok := h.buildDataset(c, &req)
	if !ok {
		return
	}

	out, err := h.datasets.Add(c.Request.Context(), ds)
	if err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	h.log.WithFields(logrus.Fields{
		"action":  "dataset.create",
		"dataset": out.ID,
		"product": out.Product.Name,
	}).Info("audit")

	c.JSON(http.StatusCreated, out)
}

// Update handles PUT /api/v1/datasets/:id. Only additive document
// changes are accepted.
func (h *DatasetHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req datasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")

		return
	}

	ds, ok := h.buildDataset(c, &req)
	if !ok {
		return
	}

	ds.ID = id

	out, err := h.datasets.Update(c.Request.Context(), ds, nil)
	if err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	h.log.WithFields(logrus.Fields{"action": "dataset.update", "dataset": id}).Info("audit")

	c.JSON(http.StatusOK, out)
}

// Get handles GET /api/v1/datasets/:id. ?include_sources=true resolves
// the lineage graph.
func (h *DatasetHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	ds, err := h.datasets.Get(c.Request.Context(), id, c.Query("include_sources") == "true")
	if err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	c.JSON(http.StatusOK, ds)
}

// Derived handles GET /api/v1/datasets/:id/derived.
func (h *DatasetHandler) Derived(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	derived, err := h.datasets.GetDerived(c.Request.Context(), id)
	if err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"datasets": derived})
}

// Archive handles POST /api/v1/datasets/:id/archive.
func (h *DatasetHandler) Archive(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.datasets.Archive(c.Request.Context(), id); err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	h.log.WithFields(logrus.Fields{"action": "dataset.archive", "dataset": id}).Info("audit")

	c.Status(http.StatusNoContent)
}

// Restore handles POST /api/v1/datasets/:id/restore.
func (h *DatasetHandler) Restore(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.datasets.Restore(c.Request.Context(), id); err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	h.log.WithFields(logrus.Fields{"action": "dataset.restore", "dataset": id}).Info("audit")

	c.Status(http.StatusNoContent)
}

type locationRequest struct {
	URI string `json:"uri" binding:"required"`
}

// AddLocation handles POST /api/v1/datasets/:id/locations.
func (h *DatasetHandler) AddLocation(c *gin.Context) {
	h.locationOp(c, "dataset.location.add", h.datasets.AddLocation)
}

// ArchiveLocation handles POST /api/v1/datasets/:id/locations/archive.
func (h *DatasetHandler) ArchiveLocation(c *gin.Context) {
	h.locationOp(c, "dataset.location.archive", h.datasets.ArchiveLocation)
}

// RestoreLocation handles POST /api/v1/datasets/:id/locations/restore.
func (h *DatasetHandler) RestoreLocation(c *gin.Context) {
	h.locationOp(c, "dataset.location.restore", h.datasets.RestoreLocation)
}

func (h *DatasetHandler) locationOp(
	c *gin.Context,
	action string,
	op func(ctx context.Context, id uuid.UUID, uri string) (bool, error),
) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")

		return
	}

	changed, err := op(c.Request.Context(), id, req.URI)
	if err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	h.log.WithFields(logrus.Fields{
		"action":  action,
		"dataset": id,
		"uri":     req.URI,
		"changed": changed,
	}).Info("audit")

	c.JSON(http.StatusOK, gin.H{"changed": changed})
}

// Search handles POST /api/v1/datasets/search.
func (h *DatasetHandler) Search(c *gin.Context) {
	req, ok := bindSearch(c)
	if !ok {
		return
	}

	datasets, err := h.datasets.SearchEager(c.Request.Context(), req.toQuery())
	if err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"datasets": datasets})
}

// SearchByProduct handles POST /api/v1/datasets/search/by-product.
func (h *DatasetHandler) SearchByProduct(c *gin.Context) {
	req, ok := bindSearch(c)
	if !ok {
		return
	}

	groups, err := h.datasets.SearchByProduct(c.Request.Context(), req.toQuery())
	if err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// SearchReturning handles POST /api/v1/datasets/search/returning.
func (h *DatasetHandler) SearchReturning(c *gin.Context) {
	req, ok := bindSearch(c)
	if !ok {
		return
	}

	rows, err := h.datasets.SearchReturning(c.Request.Context(), req.toQuery(), req.Returning)
	if err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"columns": req.Returning, "rows": rows})
}

// SearchRobust handles POST /api/v1/datasets/search/robust.
func (h *DatasetHandler) SearchRobust(c *gin.Context) {
	req, ok := bindSearch(c)
	if !ok {
		return
	}

	results, err := h.datasets.SearchRobust(c.Request.Context(), req.toQuery())
	if err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

// Count handles POST /api/v1/datasets/count.
func (h *DatasetHandler) Count(c *gin.Context) {
	req, ok := bindSearch(c)
	if !ok {
		return
	}

	n, err := h.datasets.Count(c.Request.Context(), req.toQuery())
	if err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"count": n})
}

// CountByProduct handles POST /api/v1/datasets/count/by-product.
func (h *DatasetHandler) CountByProduct(c *gin.Context) {
	req, ok := bindSearch(c)
	if !ok {
		return
	}

	counts, err := h.datasets.CountByProduct(c.Request.Context(), req.toQuery())
	if err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

// CountThroughTime handles POST /api/v1/datasets/count/through-time.
func (h *DatasetHandler) CountThroughTime(c *gin.Context) {
	req, ok := bindSearch(c)
	if !ok {
		return
	}

	period, err := req.period()
	if err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	buckets, err := h.datasets.CountThroughTime(c.Request.Context(), req.toQuery(), req.Field, period)
	if err != nil {
		respondCatalogError(c, h.log, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"buckets": buckets})
}

func bindSearch(c *gin.Context) (*searchRequest, bool) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")

		return nil, false
	}

	return &req, true
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid dataset id")

		return uuid.Nil, false
	}

	return id, true
}
