// Package apps provides the app information, version and purchase routes
package apps

import (
	"context"

	"github.com/blacktop/ipastore/internal/appstore"
	"github.com/gin-gonic/gin"
)

// Store is the store backend of the routes
type Store interface {
	Search(ctx context.Context, q appstore.SearchQuery) (appstore.SearchResult, error)
	AppInfo(ctx context.Context, appID, externalVersionID int64) (*appstore.AppInfo, error)
	Versions(ctx context.Context, q appstore.VersionsQuery) (*appstore.VersionsPage, error)
	Purchase(ctx context.Context, appID int64) (int64, error)
}

// Versions queries the third-party version sources
type Versions interface {
	Lookup(ctx context.Context, appID, source string) (*appstore.VersionHistory, error)
	Race(ctx context.Context, appID string, limit int) (*appstore.VersionHistory, error)
}

// AddRoutes adds the app routes to the router
func AddRoutes(rg *gin.RouterGroup, store Store, versions Versions) {
	h := &handler{store: store, versions: versions}
	// swagger:route GET /apps/{id} Apps getAppInfo
	//
	// Info
	//
	// Get the download information of an app version.
	rg.GET("/apps/:id", h.getAppInfo)
	// swagger:route GET /apps/{id}/versions Apps getAppVersions
	//
	// Versions
	//
	// Page through the version history of an app.
	rg.GET("/apps/:id/versions", h.getVersions)
	// swagger:route GET /apps/{id}/versions/legacy Apps getAppVersionsLegacy
	//
	// Legacy Versions
	//
	// Version history from the third-party sources.
	rg.GET("/apps/:id/versions/legacy", h.getLegacyVersions)
	// swagger:route POST /apps/{id}/purchase Apps postAppPurchase
	//
	// Purchase
	//
	// Acquire a license for a free app.
	rg.POST("/apps/:id/purchase", h.purchase)
	// swagger:route GET /search/{term} Apps getSearch
	//
	// Search
	//
	// Search the store.
	rg.GET("/search/:term", h.search)
	rg.GET("/apps/search/:term", h.search)
}
