package http

import (
	"github.com/gin-gonic/gin"

	"custodytrail/internal/bootstrap"
	"custodytrail/internal/transport/http/handler"
	"custodytrail/internal/transport/http/middleware"
)

type routeHandlers struct {
	captures *handler.CaptureHandler
	evidence *handler.EvidenceHandler
	timeline *handler.TimelineHandler
	profile  *handler.ProfileHandler
	blobs    *handler.BlobHandler
}

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/healthz", handler.NewHealthHandler(app).Check)

	svc := app.Services
	registerRoutes(router, app.Config.Auth.JWTSecret, routeHandlers{
		captures: handler.NewCaptureHandler(svc.Captures),
		evidence: handler.NewEvidenceHandler(svc.Captures, app.Config.Storage.MaxUploadBytes),
		timeline: handler.NewTimelineHandler(svc.Timeline),
		profile:  handler.NewProfileHandler(svc.Profiles, svc.Quota),
		blobs:    handler.NewBlobHandler(app.Blobs),
	})
	return router
}

func registerRoutes(router *gin.Engine, jwtSecret string, h routeHandlers) {
	router.GET("/blobs/:token", h.blobs.Download)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthJWT(jwtSecret))

	captures := v1.Group("/captures")
	captures.POST("", h.captures.Create)
	captures.GET("", h.captures.List)
	captures.GET("/:id", h.captures.Get)
	captures.PUT("/:id/narrative", h.captures.UpdateNarrative)
	captures.POST("/:id/evidence", h.evidence.Attach)
	captures.POST("/:id/submit", h.captures.Submit)
	captures.POST("/:id/confirm", h.captures.Confirm)
	captures.POST("/:id/cancel", h.captures.Cancel)
	captures.POST("/:id/discard", h.captures.Discard)
	captures.GET("/:id/progress", h.captures.Progress)

	v1.POST("/evidence/:id/reprocess", h.evidence.Reprocess)

	v1.GET("/timeline", h.timeline.Events)
	v1.GET("/action-items", h.timeline.ActionItems)

	v1.GET("/profile", h.profile.Get)
	v1.PUT("/profile", h.profile.Save)
	v1.GET("/quota", h.profile.Quota)
}
