package main

import (
	"voicefront/internal/callflow"
	"voicefront/internal/httpapi"
	"voicefront/internal/numbers"
	"voicefront/internal/store"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	authMW       gin.HandlerFunc
	callflow     *callflow.Handler
	numbers      *numbers.Handler
	store        store.Store
	speech       httpapi.Speech
	allocator    httpapi.Allocator
	push         httpapi.Notifier
	autoAllocate bool
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public).
	// NOTE: These endpoints should be protected by Twilio signature validation in production.
	deps.callflow.Register(r)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(deps.authMW)
	{
		httpapi.Handlers{
			Store:        deps.store,
			Speech:       deps.speech,
			Numbers:      deps.allocator,
			Push:         deps.push,
			AutoAllocate: deps.autoAllocate,
		}.Register(v1)

		deps.numbers.Register(v1)
	}
}
