package http

import (
	"context"
	"log/slog"

	"github.com/geocoder89/tourhub/internal/accounts"
	"github.com/geocoder89/tourhub/internal/config"
	"github.com/geocoder89/tourhub/internal/domain/user"
	"github.com/geocoder89/tourhub/internal/http/handlers"
	"github.com/geocoder89/tourhub/internal/http/middlewares"
	"github.com/geocoder89/tourhub/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Deps struct {
	Config   config.Config
	Logger   *slog.Logger
	Accounts *accounts.Service

	// Limiter defaults to an in-process limiter built from Config.
	Limiter middlewares.Limiter
	Prom    *observability.Prom
	// Gatherer backs /metrics; the route is skipped when nil.
	Gatherer prometheus.Gatherer
	Ping     func(ctx context.Context) error
}

func NewRouter(d Deps) *gin.Engine {
	switch d.Config.Env {
	case "dev":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Limiter == nil {
		d.Limiter = middlewares.NewRateLimiter(d.Config.RateLimit, d.Config.RateLimitWindow)
	}

	r := gin.New()

	// ClientIP feeds the rate limiter; gin would otherwise trust X-Forwarded-For from anyone
	if err := r.SetTrustedProxies(d.Config.TrustedProxies); err != nil {
		d.Logger.Error("invalid trusted proxies, trusting none", "err", err)
		_ = r.SetTrustedProxies(nil)
	}

	// middleware
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(d.Config.ServiceName))
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(d.Logger))
	r.Use(middlewares.SecurityHeaders(d.Config.CookieSecure))
	r.Use(middlewares.CORS(d.Config.CORSAllowedOrigins))
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}

	// health
	h := handlers.NewHealthHandler(d.Ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	authHandler := handlers.NewAuthHandler(d.Accounts, handlers.CookieConfig{
		Name:   d.Config.CookieName,
		Secure: d.Config.CookieSecure,
	}, d.Logger)
	usersHandler := handlers.NewUsersHandler(d.Accounts, d.Logger)
	authMW := middlewares.NewAuthMiddleware(d.Accounts, d.Config.CookieName)

	users := r.Group("/api/v1/users",
		middlewares.RateLimit(d.Limiter, middlewares.KeyByIP),
		middlewares.MaxBodyBytes(d.Config.MaxBodyBytes),
		middlewares.RequireJSON(),
	)

	users.POST("/signup", authHandler.Signup)
	users.POST("/login", authHandler.Login)
	users.GET("/logout", authHandler.Logout)
	users.POST("/forgotPassword", authHandler.ForgotPassword)
	users.PATCH("/resetPassword/:token", authHandler.ResetPassword)

	// everything below needs a live session
	me := users.Group("", authMW.Protect())
	me.PATCH("/updateMyPassword", authHandler.UpdatePassword)
	me.GET("/me", usersHandler.GetMe)
	me.PATCH("/updateMe", usersHandler.UpdateMe)
	me.DELETE("/deleteMe", usersHandler.DeleteMe)

	admin := me.Group("", middlewares.RestrictTo(user.RoleAdmin))
	admin.GET("", usersHandler.ListUsers)
	admin.POST("", usersHandler.CreateUser)
	admin.GET("/:id", usersHandler.GetUser)
	admin.PATCH("/:id", usersHandler.UpdateUser)
	admin.DELETE("/:id", usersHandler.DeleteUser)

	return r
}
