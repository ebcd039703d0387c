// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// RateLimit returns middleware that bounds request throughput with a
// token bucket. A zero or negative rate disables limiting.
func RateLimit(perSecond float64) gin.HandlerFunc {
	if perSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	limiter := rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// RegisterRoutes mounts the StateVault API under the given group.
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	vault := rg.Group("/vault")
	{
		vault.GET("/health", handlers.HandleHealth)

		// Current state document
		vault.GET("/state", handlers.HandleGetState)
		vault.PUT("/state", handlers.HandleReplaceState)
		vault.DELETE("/state", handlers.HandleClearState)

		// Snapshot lifecycle
		vault.GET("/snapshots", handlers.HandleListSnapshots)
		vault.POST("/snapshots", handlers.HandleCreateSnapshot)
		vault.POST("/snapshots/:id/rollback", handlers.HandleRollback)
		vault.DELETE("/snapshots/:id", handlers.HandleDeleteSnapshot)

		// Auto-rollback guards
		vault.POST("/guards", handlers.HandleArmGuard)
		vault.POST("/guards/:id/disarm", handlers.HandleDisarmGuard)

		// Session documents
		vault.GET("/documents", handlers.HandleListDocuments)
		vault.POST("/documents", handlers.HandleCreateDocument)
		vault.GET("/documents/current", handlers.HandleCurrentDocument)
		vault.PUT("/documents/:id", handlers.HandleUpdateDocument)
		vault.DELETE("/documents/:id", handlers.HandleDeleteDocument)
		vault.PUT("/documents/:id/pin", handlers.HandlePinDocument)
	}
}

// NewRouter builds the full router with recovery, rate limiting, and the
// Prometheus metrics endpoint.
func NewRouter(handlers *Handlers, ratePerSecond float64) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RateLimit(ratePerSecond))

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}
