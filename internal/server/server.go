// Package server exposes the HTTP API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	alertdomain "github.com/smallbiznis/meterline/internal/alert/domain"
	billingdomain "github.com/smallbiznis/meterline/internal/billing/domain"
	catalogdomain "github.com/smallbiznis/meterline/internal/catalog/domain"
	"github.com/smallbiznis/meterline/internal/circuitbreaker"
	"github.com/smallbiznis/meterline/internal/config"
	"github.com/smallbiznis/meterline/internal/providers/pdf"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(reg *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	gatherers := prometheus.Gatherers{reg, prometheus.DefaultGatherer}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	log        *zap.Logger
	usageSvc   usagedomain.Service
	billingSvc billingdomain.Service
	alertSvc   alertdomain.Service
	catalogSvc catalogdomain.Service
	breakers   *circuitbreaker.Registry
	pdfSvc     pdf.Provider
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Log        *zap.Logger
	UsageSvc   usagedomain.Service
	BillingSvc billingdomain.Service
	AlertSvc   alertdomain.Service
	CatalogSvc catalogdomain.Service
	Breakers   *circuitbreaker.Registry
	PDFSvc     pdf.Provider `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		log:        p.Log.Named("http.server"),
		usageSvc:   p.UsageSvc,
		billingSvc: p.BillingSvc,
		alertSvc:   p.AlertSvc,
		catalogSvc: p.CatalogSvc,
		breakers:   p.Breakers,
		pdfSvc:     p.PDFSvc,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1", OrgContext())

	v1.POST("/usage", s.recordUsage)
	v1.POST("/usage/batch", s.recordBatchUsage)
	v1.GET("/usage/current", s.currentUsage)
	v1.GET("/usage/history", s.usageHistory)
	v1.GET("/bill", s.currentBill)

	v1.POST("/invoices/generate", s.generateInvoice)
	v1.GET("/invoices", s.listInvoices)
	v1.GET("/invoices/:id/pdf", s.invoicePDF)

	v1.PUT("/alerts", s.setAlert)
	v1.GET("/alerts", s.listAlerts)

	v1.GET("/catalog/metrics", s.listMetrics)
	v1.GET("/catalog/plans", s.listPlans)

	// circuit introspection is operational, not org scoped
	s.engine.GET("/v1/circuits", s.listCircuits)
	s.engine.POST("/v1/circuits/:name/reset", s.resetCircuit)
}
