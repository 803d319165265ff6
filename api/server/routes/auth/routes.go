// Package auth provides the session routes
package auth

import (
	"context"

	"github.com/blacktop/ipastore/internal/appstore"
	"github.com/gin-gonic/gin"
)

// Service manages the store session
type Service interface {
	Login(ctx context.Context, creds *appstore.Credentials) (*appstore.Session, error)
	RefreshCookie(ctx context.Context) (*appstore.Session, error)
	Reset(ctx context.Context) (*appstore.ResetResult, error)
}

// AddRoutes adds the auth routes to the router
func AddRoutes(rg *gin.RouterGroup, svc Service) {
	h := &handler{svc: svc}
	// swagger:route POST /auth/login Auth postAuthLogin
	//
	// Login
	//
	// Sign in to the store; a cached session for the same account is reused.
	rg.POST("/auth/login", h.login)
	// swagger:route POST /auth/refresh Auth postAuthRefresh
	//
	// Refresh
	//
	// Sign in again with the cached credentials.
	rg.POST("/auth/refresh", h.refresh)
	// swagger:route POST /auth/reset Auth postAuthReset
	//
	// Reset
	//
	// Clear the cached session and device GUID.
	rg.POST("/auth/reset", h.reset)
}
