package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	echo "github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mailpress/newsletter-gateway/internal/config"
	"github.com/mailpress/newsletter-gateway/internal/http/middleware"
	"github.com/mailpress/newsletter-gateway/internal/mailer"
	"github.com/mailpress/newsletter-gateway/internal/metrics"
	"github.com/mailpress/newsletter-gateway/internal/repository"
	"github.com/mailpress/newsletter-gateway/internal/service/publish"
	"github.com/mailpress/newsletter-gateway/internal/service/subscribe"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client, mail mailer.Client) *Server {
	// repos (MySQL)
	adminsRepo := repository.NewAdminsRepository(mysqlDB)
	idemRepo := repository.NewIdempotencyRepository(mysqlDB)
	issuesRepo := repository.NewIssuesRepository(mysqlDB)
	obligationsRepo := repository.NewObligationsRepository(mysqlDB)
	subscribersRepo := repository.NewSubscribersRepository(mysqlDB)

	// repos (ClickHouse)
	chDeliveriesRepo := repository.NewCHDeliveriesRepository(clickhouseDB)

	// services
	publishSvc := publish.New(publish.NewMySQLStore(
		mysqlDB,
		idemRepo,
		issuesRepo,
		obligationsRepo,
		subscribersRepo,
	))
	subscribeSvc := subscribe.New(mysqlDB, subscribersRepo, mail, cfg.App.BaseURL)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// public sign-up flow
	e.POST("/subscriptions", subscribeHandler(subscribeSvc))
	e.GET("/subscriptions/confirm", confirmHandler(subscribeSvc))

	// middlewares
	authMW := middleware.APIKeyMiddleware(adminsRepo)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:admin:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	admin := e.Group("/admin", authMW, rlMW)
	admin.POST("/newsletters", publishNewsletterHandler(publishSvc))
	admin.GET("/reports/deliveries", listDeliveriesHandler(chDeliveriesRepo))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
