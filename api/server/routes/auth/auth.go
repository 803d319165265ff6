package auth

import (
	"net/http"

	"github.com/apex/log"
	"github.com/blacktop/ipastore/api/types"
	"github.com/blacktop/ipastore/internal/appstore"
	"github.com/gin-gonic/gin"
)

type handler struct {
	svc Service
}

type loginRequest struct {
	AppleID  string `json:"appleId"`
	Password string `json:"password"`
	Code     string `json:"code"`
}

func fail(c *gin.Context, err error) {
	log.WithError(err).WithField("path", c.FullPath()).Error("API Error")
	c.AbortWithStatusJSON(types.StatusOf(err), types.Fail(err))
}

func (h *handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AppleID == "" || req.Password == "" {
		fail(c, types.Invalid("Missing required parameters: Apple ID or Password"))
		return
	}
	sess, err := h.svc.Login(c.Request.Context(), &appstore.Credentials{
		AppleID:  req.AppleID,
		Password: req.Password,
		Code:     req.Code,
	})
	if err != nil {
		fail(c, err)
		return
	}
	// the cached password never leaves the daemon
	out := *sess
	out.Password = ""
	c.JSON(http.StatusOK, types.OK(gin.H{
		"message":   "Login successful",
		"loginData": out,
	}))
}

func (h *handler) refresh(c *gin.Context) {
	if _, err := h.svc.RefreshCookie(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, types.OK(gin.H{"message": "Cookie refreshed successfully"}))
}

func (h *handler) reset(c *gin.Context) {
	res, err := h.svc.Reset(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, types.OK(res))
}
