package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/geocoder89/medcard/internal/http/handlers"
	"github.com/geocoder89/medcard/internal/http/middlewares"
	"github.com/geocoder89/medcard/internal/observability"
)

// AccountService is everything the REST routes call on account.Service.
type AccountService interface {
	handlers.AuthService
	handlers.UsersService
}

type Deps struct {
	Log      *slog.Logger
	Env      string
	Accounts AccountService
	Tokens   middlewares.TokenVerifier

	Prom     *observability.Prom
	Gatherer prometheus.Gatherer

	CORSOrigins []string

	// SendCodeLimiter and LoginLimiter default to in-memory windows.
	SendCodeLimiter middlewares.Limiter
	LoginLimiter    middlewares.Limiter

	// Uploader is nil when object storage is not configured.
	Uploader       handlers.Uploader
	UploadMaxBytes int64

	// GraphQL is mounted at /graphql when set.
	GraphQL http.Handler

	Checks map[string]handlers.Pinger
}

const jsonBodyLimit = 1 << 20

func NewRouter(d Deps) *gin.Engine {
	if d.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.SendCodeLimiter == nil {
		d.SendCodeLimiter = middlewares.NewRateLimiter(5, time.Minute)
	}
	if d.LoginLimiter == nil {
		d.LoginLimiter = middlewares.NewRateLimiter(10, time.Minute)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("medcard-api"))
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(d.Log))
	r.Use(middlewares.SecurityHeaders(d.Env == "prod"))
	r.Use(middlewares.CORSMiddleware(d.CORSOrigins))

	var onLimited func(string)
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
		onLimited = d.Prom.RateLimited
	}

	h := handlers.NewHealthHandler(d.Checks)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	authMw := middlewares.NewAuthMiddleware(d.Tokens)
	authH := handlers.NewAuthHandler(d.Accounts)
	usersH := handlers.NewUsersHandler(d.Accounts, 5*time.Second)

	jsonAPI := r.Group("/", middlewares.MaxBodyBytes(jsonBodyLimit), middlewares.RequireJSON())

	authG := jsonAPI.Group("/auth")
	{
		authG.POST("/send-code",
			middlewares.RateLimit(d.SendCodeLimiter, middlewares.KeyByIP, onLimited), authH.SendCode)
		authG.POST("/verify-code", authH.Register)
		authG.POST("/register", authH.Register)
		authG.POST("/login",
			middlewares.RateLimit(d.LoginLimiter, middlewares.KeyByIP, onLimited), authH.Login)
		authG.POST("/refresh-token", authH.Refresh)
		authG.POST("/change-password", authH.ChangePassword)
		authG.POST("/change-email", authMw.RequireAuth(), authH.ChangeEmail)
	}

	protected := jsonAPI.Group("/", authMw.RequireAuth())
	{
		protected.GET("/users", usersH.List)
		protected.GET("/users/me", usersH.Me)
		protected.GET("/users/:id", usersH.GetByID)
		protected.PATCH("/users/:id", usersH.UpdateProfile)
		protected.PUT("/users/:id/role", usersH.SetRole)
		protected.POST("/users/:id/share", usersH.ShareCard)
		protected.GET("/doctors/:id/cards", usersH.SharedCards)
	}

	if d.Uploader != nil {
		filesH := handlers.NewFilesHandler(d.Uploader, d.UploadMaxBytes)
		// room for the multipart envelope on top of the file itself
		r.POST("/files",
			middlewares.MaxBodyBytes(d.UploadMaxBytes+64<<10),
			middlewares.RequireContentType("multipart/form-data"),
			authMw.RequireAuth(),
			filesH.Upload)
	}

	if d.GraphQL != nil {
		gql := gin.WrapH(d.GraphQL)
		// resolvers charge sendCode/login per field against the client address
		r.POST("/graphql",
			middlewares.MaxBodyBytes(jsonBodyLimit),
			middlewares.RequireJSON(),
			middlewares.ClientContext(),
			authMw.OptionalAuth(),
			gql)
	}

	return r
}
