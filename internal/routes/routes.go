// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"device-scanner/internal/config"
	"device-scanner/internal/handler"
	"device-scanner/internal/middleware"
	"device-scanner/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config  *config.Config
	logger  *zap.Logger
	devices handler.DeviceLister
	scanner handler.ScannerStatus
	events  handler.EventLister
	db      handler.Pinger
	ws      *handler.WebSocketHandler
}

// NewRouter creates a new router instance. events and db are nil when the
// journal is disabled.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	devices handler.DeviceLister,
	scanner handler.ScannerStatus,
	events handler.EventLister,
	db handler.Pinger,
	ws *handler.WebSocketHandler,
) *Router {
	return &Router{
		config:  config,
		logger:  logger,
		devices: devices,
		scanner: scanner,
		events:  events,
		db:      db,
		ws:      ws,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	// Port ids such as /dev/ttyACM0 arrive path-escaped in :port_id
	router.UseRawPath = true
	router.UnescapePathValues = true

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Security))
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.scanner, r.devices, r.db, r.config, r.logger)
	deviceHandler := handler.NewDeviceHandler(r.devices, r.scanner, r.events, r.logger)

	healthHandler.RegisterRoutes(router)

	apiV1 := router.Group("/api/v1")
	deviceHandler.RegisterRoutes(apiV1)

	ws := router.Group("/ws")
	{
		ws.GET("/events", r.ws.HandleEventConnection)
	}

	r.logger.Info("All routes configured successfully")
}
