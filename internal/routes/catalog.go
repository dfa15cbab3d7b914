package routes

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LoadCatalog registers the optional JSON catalog endpoint (C6):
// GET /api/catalog?page=&per_page=, listing active records newest-first.
func (e *allRoutes) LoadCatalog(r *Route) {
	log := e.log.Named("Catalog")
	defer log.Info("Loaded catalog route")
	r.Engine.GET("/api/catalog", func(ctx *gin.Context) {
		if e.store == nil {
			ctx.Status(http.StatusServiceUnavailable)
			return
		}
		page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(ctx.DefaultQuery("per_page", "20"))
		if perPage > 100 {
			perPage = 100
		}
		records, err := e.store.ListCatalog(ctx.Request.Context(), page, perPage)
		if err != nil {
			log.Error("catalog query failed", zap.Error(err))
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "catalog unavailable"})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"page": page, "per_page": perPage, "files": records})
	})
}
