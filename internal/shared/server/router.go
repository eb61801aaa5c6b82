package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"analyzer-backend/internal/analysis"
	kakaoauth "analyzer-backend/internal/auth"
	"analyzer-backend/internal/documents"
	"analyzer-backend/internal/services/health"
	"analyzer-backend/internal/shared/config"
	"analyzer-backend/internal/shared/metrics"
	"analyzer-backend/internal/shared/server/middleware"
	"analyzer-backend/internal/shared/server/respond"
	"analyzer-backend/internal/users"
)

const (
	rateGroupAnalysis = "ANALYSIS"
	rateGroupUpload   = "UPLOAD"
)

// RouterDeps are the handlers and settings the router mounts.
type RouterDeps struct {
	Config          config.Config
	AuthSecret      []byte
	Health          *health.Service
	DocumentHandler *documents.Handler
	AnalysisHandler *analysis.Handler
	UserHandler     *users.Handler
	Users           ProfileLookup
	KakaoAuth       *kakaoauth.KakaoService
	Throttle        *middleware.Throttle
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Auth(middleware.AuthConfig{
			Env:    deps.Config.Env,
			Secret: deps.AuthSecret,
			Public: []string{"/api/v1/health", "/api/v1/auth/", "/metrics"},
		}),
	)

	r.GET("/metrics", metrics.Handler())

	healthSvc := deps.Health
	if healthSvc == nil {
		healthSvc = health.NewService()
	}

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, healthSvc.Status())
	})
	api.GET("/health/ready", func(c *gin.Context) {
		report := healthSvc.Ready(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	})
	registerMeRoutes(api, deps.Users)
	if deps.KakaoAuth != nil {
		deps.KakaoAuth.RegisterRoutes(api)
	}
	if deps.UserHandler != nil {
		deps.UserHandler.RegisterRoutes(api)
	}

	limited := api.Group("", middleware.Throttled(middleware.ThrottleOptions{
		Quotas: map[string]middleware.Quota{
			rateGroupAnalysis: {PerSecond: 0.2, Burst: 5},
			rateGroupUpload:   {PerSecond: 1, Burst: 20},
		},
		Classify: rateGroupFor,
		Throttle: deps.Throttle,
	}))
	if deps.DocumentHandler != nil {
		deps.DocumentHandler.RegisterRoutes(limited)
	}
	if deps.AnalysisHandler != nil {
		deps.AnalysisHandler.RegisterRoutes(limited)
	}

	return r
}

// rateGroupFor throttles the endpoints that start paid work. Reads and the
// run event relay are not classified and stay unthrottled.
func rateGroupFor(c *gin.Context) string {
	path := c.FullPath()
	switch {
	case c.Request.Method == http.MethodPost && path == "/api/v1/documents":
		return rateGroupUpload
	case strings.HasSuffix(path, "/documents/analyze/stream"),
		c.Request.Method == http.MethodPost && strings.HasSuffix(path, "/documents/analyze"),
		c.Request.Method == http.MethodPost && strings.HasSuffix(path, "/analyses"):
		return rateGroupAnalysis
	default:
		return ""
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
