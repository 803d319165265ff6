// Package routes contains all the routes for the API
package routes

import (
	"github.com/blacktop/ipastore/api/server/routes/apps"
	"github.com/blacktop/ipastore/api/server/routes/auth"
	"github.com/blacktop/ipastore/api/server/routes/daemon"
	"github.com/gin-gonic/gin"
)

// Services are the backends the routes dispatch to
type Services struct {
	Auth     auth.Service
	Store    apps.Store
	Versions apps.Versions
}

// Add adds the command routes to the router
func Add(rg *gin.RouterGroup, svc *Services) {
	daemon.AddRoutes(rg)
	auth.AddRoutes(rg, svc.Auth)
	apps.AddRoutes(rg, svc.Store, svc.Versions)
}
