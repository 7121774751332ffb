package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/lookbook/internal/api/handler"
	"github.com/timmy/lookbook/internal/api/middleware"
	"github.com/timmy/lookbook/internal/config"
	"github.com/timmy/lookbook/internal/logger"
	"github.com/timmy/lookbook/internal/service"
)

// Dependencies are the services the router exposes.
type Dependencies struct {
	Studio         *service.Studio
	Hub            *service.Hub
	Providers      []string
	StorageEnabled bool
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps Dependencies, cfg *config.ServerConfig, log *logger.Logger) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cfg.CORS))

	cors := cfg.CORS
	healthHandler := handler.NewHealthHandler(deps.Providers, deps.StorageEnabled)
	generationHandler := handler.NewGenerationHandler(deps.Studio)
	artifactHandler := handler.NewArtifactHandler(deps.Studio)
	eventsHandler := handler.NewEventsHandler(deps.Hub, func(origin string) bool {
		return len(cors.AllowedOrigins) == 0 || middleware.OriginAllowed(origin, cors)
	})

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/generations/:id", generationHandler.Get)

		ws := v1.Group("/workspaces/:workspace")
		{
			// Generations
			ws.POST("/generations", generationHandler.Create)
			ws.POST("/generations/batch", generationHandler.Batch)
			ws.GET("/generations", generationHandler.List)

			// Artifacts
			ws.GET("/artifacts", artifactHandler.List)
			ws.POST("/artifacts", artifactHandler.Register)
			ws.GET("/artifacts/:id", artifactHandler.Get)
			ws.GET("/artifacts/:id/children", artifactHandler.Children)
			ws.GET("/artifacts/:id/lineage", artifactHandler.Lineage)
			ws.DELETE("/artifacts/:id", artifactHandler.Delete)

			// Canvas
			ws.GET("/layout", artifactHandler.Layout)
			ws.GET("/events", eventsHandler.Stream)
		}
	}

	return r
}
