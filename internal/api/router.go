package api

import (
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger"

	_ "go-tower-pipeline/docs"
	"go-tower-pipeline/internal/api/handler"
	"go-tower-pipeline/pkg/router"
)

// RegisterRoutes mounts the run API, the file downloads, the Prometheus
// endpoint and the Swagger UI. metrics may be nil.
func RegisterRoutes(r *router.Router, h *handler.RunHandler, metrics http.Handler) {
	r.POST("/api/v1/runs/towers", h.CreateTowerRun)
	r.POST("/api/v1/runs/operators", h.CreateOperatorRun)
	r.GET("/api/v1/runs", h.ListRuns)
	// More specific routes first
	r.GET("/api/v1/runs/*/errors", h.GetRunErrors)
	r.GET("/api/v1/runs/*/stages", h.GetRunStages)
	r.GET("/api/v1/runs/*/clusters", h.GetRunClusters)
	r.GET("/api/v1/runs/*/operators", h.GetRunOperators)
	r.GET("/api/v1/runs/*/files", h.GetRunFiles)
	r.POST("/api/v1/runs/*/retry", h.RetryRun)
	// Generic run route last
	r.GET("/api/v1/runs/*", h.GetRun)

	r.GET("/api/v1/download/*/*", h.DownloadFile)

	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	r.Handle("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
