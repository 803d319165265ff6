package apps

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/blacktop/ipastore/api/types"
	"github.com/blacktop/ipastore/internal/appstore"
	"github.com/gin-gonic/gin"
)

type handler struct {
	store    Store
	versions Versions
}

func fail(c *gin.Context, err error) {
	log.WithError(err).WithField("path", c.FullPath()).Error("API Error")
	c.AbortWithStatusJSON(types.StatusOf(err), types.Fail(err))
}

func appID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, types.Invalid("Invalid appId")
	}
	return id, nil
}

// optionalID parses an optional numeric query parameter
func optionalID(c *gin.Context, key string) (int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, types.Invalid("Invalid " + key)
	}
	return id, nil
}

func (h *handler) getAppInfo(c *gin.Context) {
	id, err := appID(c)
	if err != nil {
		fail(c, err)
		return
	}
	verID, err := optionalID(c, "appVerId")
	if err != nil {
		fail(c, err)
		return
	}
	info, err := h.store.AppInfo(c.Request.Context(), id, verID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, types.OK(gin.H{
		"appId":   c.Param("id"),
		"appInfo": info,
	}))
}

func (h *handler) getVersions(c *gin.Context) {
	id, err := appID(c)
	if err != nil {
		fail(c, err)
		return
	}
	direction := c.DefaultQuery("direction", appstore.DirectionNext)
	if direction != appstore.DirectionNext && direction != appstore.DirectionPrev {
		fail(c, types.Invalid("The direction must be 'next' or 'prev'"))
		return
	}
	count, err := strconv.Atoi(c.DefaultQuery("count", "-1"))
	if err != nil || count < -1 || count == 0 || count > appstore.AppStoreSearchLimit {
		fail(c, types.Invalid("The page size must be between 1-20"))
		return
	}
	verID, err := optionalID(c, "appVerId")
	if err != nil {
		fail(c, err)
		return
	}

	page, err := h.store.Versions(c.Request.Context(), appstore.VersionsQuery{
		AppID:          id,
		StartVersionID: verID,
		Direction:      direction,
		Count:          count,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, types.OK(gin.H{
		"appId":     c.Param("id"),
		"data":      page.Data,
		"total":     page.Total,
		"direction": direction,
		"count":     count,
		"appVerId":  c.Query("appVerId"),
	}))
}

func (h *handler) getLegacyVersions(c *gin.Context) {
	id, err := appID(c)
	if err != nil {
		fail(c, err)
		return
	}
	var hist *appstore.VersionHistory
	if source := c.Query("source"); source != "" {
		hist, err = h.versions.Lookup(c.Request.Context(), strconv.FormatInt(id, 10), source)
	} else {
		hist, err = h.versions.Race(c.Request.Context(), strconv.FormatInt(id, 10), 0)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, types.OK(hist))
}

func (h *handler) purchase(c *gin.Context) {
	id, err := appID(c)
	if err != nil {
		fail(c, err)
		return
	}
	res, err := h.store.Purchase(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, types.OK(gin.H{
		"appId":          c.Param("id"),
		"message":        "Purchase request has been submitted",
		"purchaseResult": res,
	}))
}

func (h *handler) search(c *gin.Context) {
	term := strings.TrimSpace(c.Param("term"))
	if term == "" {
		fail(c, types.Invalid("Missing required parameter: term"))
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit < 1 || limit > appstore.AppStoreSearchLimit {
		fail(c, types.Invalid("The result count limit must be between 1-20"))
		return
	}

	res, err := h.store.Search(c.Request.Context(), appstore.SearchQuery{
		Term:    term,
		Country: c.Query("country"),
		Limit:   limit,
	})
	if err != nil {
		fail(c, err)
		return
	}
	data := gin.H{}
	for k, v := range res {
		data[k] = v
	}
	data["searchTerm"] = c.Param("term")
	data["explicit"] = true
	c.JSON(http.StatusOK, types.OK(data))
}
