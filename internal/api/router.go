package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/geodex/geodex/internal/dbpool"
	"github.com/geodex/geodex/internal/driver"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	Log           *logrus.Logger
	Pool          *dbpool.Pool
	Registry      *driver.Registry
	MetadataTypes MetadataTypeService
	Catalog       CatalogService
	Products      ProductService
	Datasets      DatasetService
	CORSOrigins   []string
	Version       string
}

// maxBodySize caps request bodies; dataset documents are small.
const maxBodySize = 10 << 20 // 10 MB

// setupMiddleware configures all middleware on the Gin engine.
func setupMiddleware(r *gin.Engine, deps *RouterDeps) {
	r.SetTrustedProxies(nil) //nolint:errcheck // nil always succeeds.
	r.Use(ginLogger(deps.Log))
	r.Use(gin.Recovery())
	r.Use(limitBodySize(maxBodySize))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     deps.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		MaxAge:           1 * time.Hour,
		AllowCredentials: false,
	}))
	r.Use(prometheusMiddleware())

	// Metrics endpoint (unauthenticated, like health).
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// registerRoutes sets up all API route handlers on the given router group.
func registerRoutes(api *gin.RouterGroup, deps *RouterDeps) {
	log := deps.Log

	health := NewHealthHandler(deps.Pool, log, deps.Version, deps.Registry.Drivers())
	types := NewMetadataTypeHandler(deps.MetadataTypes, deps.Catalog, log)
	products := NewProductHandler(deps.Products, log)
	datasets := NewDatasetHandler(deps.Datasets, deps.Products, log)
	drivers := NewDriverHandler(deps.Registry, log)

	api.GET("/health", health.Liveness)
	api.GET("/ready", health.Readiness)

	// Metadata types.
	api.GET("/metadata-types", types.List)
	api.POST("/metadata-types", types.Create)
	api.GET("/metadata-types/:name", types.Get)
	api.PUT("/metadata-types/:name", types.Update)

	// Products.
	api.GET("/products", products.List)
	api.POST("/products", products.Create)
	api.GET("/products/:name", products.Get)
	api.PUT("/products/:name", products.Update)

	// Datasets.
	api.POST("/datasets", datasets.Create)
	api.GET("/datasets/:id", datasets.Get)
	api.PUT("/datasets/:id", datasets.Update)
	api.POST("/datasets/:id/archive", datasets.Archive)
	api.POST("/datasets/:id/restore", datasets.Restore)
	api.GET("/datasets/:id/derived", datasets.Derived)
	api.POST("/datasets/:id/locations", datasets.AddLocation)
	api.POST("/datasets/:id/locations/archive", datasets.ArchiveLocation)
	api.POST("/datasets/:id/locations/restore", datasets.RestoreLocation)

	// Search. POST because query documents carry ranges and OR-sets
	// that do not flatten into URL parameters.
	api.POST("/datasets/search", datasets.Search)
	api.POST("/datasets/search/by-product", datasets.SearchByProduct)
	api.POST("/datasets/search/returning", datasets.SearchReturning)
	api.POST("/datasets/search/robust", datasets.SearchRobust)
	api.POST("/datasets/count", datasets.Count)
	api.POST("/datasets/count/by-product", datasets.CountByProduct)
	api.POST("/datasets/count/through-time", datasets.CountThroughTime)

	// Storage drivers.
	api.GET("/drivers", drivers.List)
	api.PUT("/drivers/current", drivers.SetCurrent)
	api.POST("/drivers/reload", drivers.Reload)
}

// NewRouter creates and configures the Gin engine with all middleware and routes.
func NewRouter(deps *RouterDeps) http.Handler {
	r := gin.New()
	setupMiddleware(r, deps)
	registerRoutes(r.Group("/api/v1"), deps)

	return r
}
