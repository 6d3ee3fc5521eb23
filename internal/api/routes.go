package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/quantivhq/quantiv/internal/api/middleware"
	"github.com/quantivhq/quantiv/internal/config"
	"github.com/quantivhq/quantiv/internal/store"
)

// RouterConfig carries the dependencies and settings for the HTTP router.
type RouterConfig struct {
	Store       store.Store
	Resolver    AssetResolver
	Metrics     *Metrics
	Logger      zerolog.Logger
	Environment config.Environment
	CORSOrigins []string
	RateLimit   int64
	RatePeriod  string
}

// NewRouter assembles the service router with logging, CORS, and rate
// limiting applied to every endpoint.
func NewRouter(cfg RouterConfig) (*gin.Engine, error) {
	if cfg.Environment == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(middleware.CORS(cfg.CORSOrigins, cfg.Environment))

	if cfg.RateLimit > 0 {
		rl, err := middleware.NewRateLimiter(cfg.RateLimit, cfg.RatePeriod)
		if err != nil {
			return nil, fmt.Errorf("configure rate limiter: %w", err)
		}
		r.Use(rl)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))

	NewLicenseHandler(cfg.Store, cfg.Resolver, cfg.Metrics, cfg.Logger).RegisterRoutes(r)
	NewDownloadHandler(cfg.Store, cfg.Resolver, cfg.Metrics, cfg.Logger).RegisterRoutes(r)

	return r, nil
}
