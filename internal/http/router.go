// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"yoonu/internal/http/handlers"
	"yoonu/internal/http/middleware"
	"yoonu/internal/modules/idempotency"
	"yoonu/internal/modules/pricing"
	"yoonu/internal/modules/request"
	"yoonu/internal/modules/wallet"
	"yoonu/internal/modules/worker"
)

type RouterDeps struct {
	Requests *request.Service
	Workers  *worker.Service
	Wallets  *wallet.Service
	Pricing  *pricing.Service
	Guard    *idempotency.Service
	Logger   *slog.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.Logging(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	requestHandler := handlers.NewRequestHandler(deps.Requests, deps.Guard)
	workerHandler := handlers.NewWorkerHandler(deps.Workers, deps.Requests, deps.Guard)
	walletHandler := handlers.NewWalletHandler(deps.Wallets, deps.Guard)
	pricingHandler := handlers.NewPricingHandler(deps.Pricing)

	api := r.Group("/api", middleware.Identity())

	api.POST("/requests/estimate", requestHandler.Estimate)
	api.POST("/requests", requestHandler.Create)
	api.GET("/requests", requestHandler.List)
	api.GET("/requests/:id", requestHandler.Get)
	api.POST("/requests/:id/cancel", requestHandler.Cancel)
	api.POST("/requests/:id/rate", requestHandler.Rate)

	w := api.Group("/worker")
	w.POST("/online", workerHandler.Online)
	w.POST("/offline", workerHandler.Offline)
	w.POST("/availability", workerHandler.SetAvailability)
	w.PUT("/position", workerHandler.ReportPosition)
	w.POST("/requests/:id/accept", workerHandler.Accept)
	w.POST("/requests/:id/arrive", workerHandler.Arrive)
	w.POST("/requests/:id/start", workerHandler.Start)
	w.POST("/requests/:id/complete", workerHandler.Complete)
	w.POST("/requests/:id/cancel", workerHandler.Cancel)
	w.POST("/requests/:id/no-show", workerHandler.NoShow)
	w.POST("/requests/:id/refuse", workerHandler.Refuse)
	w.POST("/requests/:id/fail", workerHandler.Fail)

	api.GET("/wallet", walletHandler.Balance)
	api.POST("/wallet/topup", walletHandler.Topup)
	api.GET("/wallet/entries", walletHandler.Entries)

	admin := api.Group("/admin")
	admin.GET("/pricing-configs", pricingHandler.List)
	admin.PATCH("/pricing-configs/:id", pricingHandler.Update)

	return r
}
