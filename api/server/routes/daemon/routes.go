// Package daemon provides the daemon routes
package daemon

import (
	"net/http"
	"runtime"

	"github.com/blacktop/ipastore/api/types"
	"github.com/gin-gonic/gin"
)

// AddRoutes adds the daemon routes to the router
func AddRoutes(rg *gin.RouterGroup) {
	// swagger:route GET / Daemon getDaemonInfo
	//
	// Info
	//
	// This will return the endpoint catalog.
	rg.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, types.OK(catalog))
	})
	// swagger:route HEAD /_ping Daemon headDaemonPing
	//
	// Ping
	//
	// This will return if 200 the daemon is running.
	rg.HEAD("/_ping", pingHandler)
	// swagger:route GET /_ping Daemon getDaemonPing
	//
	// Ping
	//
	// This will return "OK" if the daemon is running.
	rg.GET("/_ping", pingHandler)
	// swagger:route GET /version Daemon getDaemonVersion
	//
	// Version
	//
	// This will return the daemon version info.
	rg.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, types.Version{
			APIVersion:     types.APIVersion,
			OSType:         runtime.GOOS,
			BuilderVersion: types.BuildVersion,
		})
	})
}

func pingHandler(c *gin.Context) {
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")

	if c.Request.Method == "HEAD" {
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.Header("Content-Length", "0")
		return
	}
	c.String(http.StatusOK, "OK")
}

var catalog = gin.H{
	"name":        "ipastore",
	"version":     types.APIVersion,
	"description": "App Store app information and purchase API",
	"endpoints": gin.H{
		"POST /auth/login": gin.H{
			"description": "User login",
			"body": gin.H{
				"appleId":  "Apple account (required)",
				"password": "Apple account password (required)",
				"code":     "Verification code (optional, required for two-factor authentication)",
			},
		},
		"POST /auth/refresh": gin.H{"description": "Refresh the session cookie"},
		"POST /auth/reset":   gin.H{"description": "Reset login state and GUID cache"},
		"GET /apps/:id": gin.H{
			"description": "Get app information (including download URL)",
			"query":       gin.H{"appVerId": "App versionId (optional, defaults to the latest version)"},
		},
		"GET /apps/:id/versions": gin.H{
			"description": "App version history from the store, merged with third-party data",
			"query": gin.H{
				"direction": "Query direction (optional, default: 'next', options: 'next' | 'prev')",
				"count":     "Number of results (optional, default: -1 for all results, page range: 1-20)",
				"appVerId":  "Starting versionId (optional, defaults to the latest version)",
			},
		},
		"GET /apps/:id/versions/legacy": gin.H{
			"description": "Third-party app version history",
			"query":       gin.H{"source": "Third-party source name (optional, default: the fastest response)"},
		},
		"POST /apps/:id/purchase": gin.H{"description": "Purchase app"},
		"GET /search/:term": gin.H{
			"description": "Search apps",
			"query": gin.H{
				"limit":   "Number of results (optional, default: 10, range 1-20)",
				"country": "Country/region to search (optional)",
			},
		},
	},
}
