package httpapi

import (
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/canvas-engine/internal/bootstrap"
	"github.com/lyzr/canvas-engine/internal/server"
)

// NewRouter assembles an echo.Echo wired to every bootstrap.Components
// subsystem, grounded on the teacher's cmd/orchestrator/main.go
// setupEcho/setupMiddleware/registerRoutes split.
func NewRouter(c *bootstrap.Components) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(echomiddleware.RequestID())

	e.GET("/healthz", echo.WrapHandler(server.HealthHandler()))

	webhookHandler := NewWebhookHandler(c.Webhook)
	callbackHandler := NewCallbackHandler(c.Callback)
	runHandler := NewRunHandler(c.Engine, c.Version)
	versionHandler := NewVersionHandler(c.Version)
	flowHandler := NewFlowHandler(c.Store)

	internalSecret := c.Config.Webhook.InternalServiceSecret
	rl := c.Config.RateLimit

	webhooks := e.Group("/webhooks")
	webhooks.Use(GlobalRateLimitMiddleware(c.RateLimit, rl.GlobalLimit, rl.GlobalWindowSec, internalSecret))
	webhooks.Use(IPRateLimitMiddleware(c.RateLimit, rl.PerIPLimit, rl.PerIPWindowSec, internalSecret))
	webhooks.POST("/:slug", webhookHandler.Handle)

	e.POST("/callback/:runId/:nodeId", callbackHandler.Handle)
	e.POST("/retry/:runId/:nodeId", runHandler.Retry)

	if c.Reply != nil {
		replyHandler := NewReplyHandler(c.Reply)
		e.POST("/reply", replyHandler.Handle)
	}

	flows := e.Group("/flows")
	flows.POST("/:id/run", runHandler.Start)
	flows.PATCH("/:id", flowHandler.Patch)
	flows.POST("/:id/versions", versionHandler.Create)
	flows.GET("/:id/versions", versionHandler.List)
	flows.GET("/:id/versions/:vid", versionHandler.Get)

	if c.NotifyHub != nil {
		wsHandler := NewWSHandler(c.NotifyHub, c.Logger)
		e.GET("/ws", wsHandler.Handle)
	}

	return e
}
