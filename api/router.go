package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/offline-downloads-go/api/handlers"
	"github.com/yourusername/offline-downloads-go/api/middleware"
)

// RouterDeps holds everything the HTTP surface talks to
type RouterDeps struct {
	Registry handlers.Registry
	Bus      handlers.EventSource
	Monitor  handlers.NetworkMonitor
	// Manual receives host-pushed network states. May be nil.
	Manual         handlers.NetworkSink
	AllowedOrigins []string
	Version        string
	Logger         *zap.Logger
}

// SetupRouter sets up the HTTP router
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(middleware.Logger(deps.Logger))
	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.CORS(deps.AllowedOrigins...))

	healthHandler := handlers.NewHealthHandler(deps.Registry, deps.Version)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	v1 := router.Group("/api/v1")
	{
		downloadHandler := handlers.NewDownloadHandler(deps.Registry, deps.Logger)
		downloads := v1.Group("/downloads")
		{
			downloads.GET("", downloadHandler.ListDownloads)
			downloads.POST("", downloadHandler.AddDownload)
			downloads.DELETE("", downloadHandler.RemoveDownload)
			downloads.GET("/item", downloadHandler.GetDownload)
			downloads.GET("/status", downloadHandler.GetStatus)
			downloads.POST("/resume", downloadHandler.Resume)
			downloads.POST("/pause", downloadHandler.Pause)
			downloads.POST("/restart", downloadHandler.Restart)
			downloads.POST("/start", downloadHandler.Start)
		}

		v1.PUT("/session", downloadHandler.SetSession)

		networkHandler := handlers.NewNetworkHandler(deps.Monitor, deps.Manual, deps.Logger)
		v1.GET("/network", networkHandler.GetNetwork)
		v1.PUT("/network", networkHandler.SetNetwork)

		eventsHandler := handlers.NewEventsWebSocketHandler(deps.Bus, deps.Registry, deps.Logger)
		v1.GET("/events", eventsHandler.HandleWebSocket)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}
