package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/blacktop/ipastore/api/server/routes"
	"github.com/blacktop/ipastore/internal/appstore"
	"github.com/blacktop/ipastore/internal/cache"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuth struct {
	creds *appstore.Credentials
	err   error
}

func (f *fakeAuth) Login(_ context.Context, creds *appstore.Credentials) (*appstore.Session, error) {
	f.creds = creds
	if f.err != nil {
		return nil, f.err
	}
	return &appstore.Session{AppleID: creds.AppleID, Password: creds.Password, StoreFront: "143465"}, nil
}

func (f *fakeAuth) RefreshCookie(context.Context) (*appstore.Session, error) {
	return nil, &appstore.LoginError{Reason: "Not logged in. Failed to refresh Cookie, please log in again"}
}

func (f *fakeAuth) Reset(context.Context) (*appstore.ResetResult, error) {
	return &appstore.ResetResult{Success: true, Message: "Reset successful!", ClearedKeys: []string{"AppleLogin", "AppleMac"}}, nil
}

type fakeStore struct {
	query   appstore.VersionsQuery
	search  appstore.SearchQuery
	infoErr error
}

func (f *fakeStore) Search(_ context.Context, q appstore.SearchQuery) (appstore.SearchResult, error) {
	f.search = q
	return appstore.SearchResult{"resultCount": 0, "results": []any{}}, nil
}

func (f *fakeStore) AppInfo(_ context.Context, appID, ext int64) (*appstore.AppInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return &appstore.AppInfo{AppID: appID, ExternalVersionID: ext, BuildVersion: "1.0"}, nil
}

func (f *fakeStore) Versions(_ context.Context, q appstore.VersionsQuery) (*appstore.VersionsPage, error) {
	f.query = q
	return &appstore.VersionsPage{
		Data:  []appstore.VersionResult{{ID: 3, Label: "3.0"}, {ID: 2, Err: "timeout"}},
		Total: 5,
	}, nil
}

func (f *fakeStore) Purchase(_ context.Context, appID int64) (int64, error) {
	if appID == 13 {
		return 0, &appstore.PurchaseError{FailureType: "2040", Category: "[Purchase failed] Already purchased, removed from store"}
	}
	return appID, nil
}

type fakeVersions struct {
	source string
}

func (f *fakeVersions) Lookup(_ context.Context, appID, source string) (*appstore.VersionHistory, error) {
	f.source = source
	return &appstore.VersionHistory{AppID: appID, Source: source, Data: []cache.VersionEntry{{ID: 1, Label: "1.0"}}, Total: 1}, nil
}

func (f *fakeVersions) Race(_ context.Context, appID string, _ int) (*appstore.VersionHistory, error) {
	return nil, errors.New("all sources failed")
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *string         `json:"error"`
	ErrorName string          `json:"errorName"`
	Timestamp string          `json:"timestamp"`
}

type fixture struct {
	srv      *Server
	auth     *fakeAuth
	store    *fakeStore
	versions *fakeVersions
}

func newFixture() *fixture {
	gin.SetMode(gin.TestMode)
	f := &fixture{auth: &fakeAuth{}, store: &fakeStore{}, versions: &fakeVersions{}}
	f.srv = NewServer(&Config{Services: &routes.Services{Auth: f.auth, Store: f.store, Versions: f.versions}})
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) (int, envelope) {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, r)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	assert.NotEmpty(t, env.Timestamp)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
	return w.Code, env
}

func TestRouteValidation(t *testing.T) {
	tests := []struct {
		method string
		target string
		body   string
		error  string
	}{
		{"POST", "/auth/login", `{"appleId":"a@b.c"}`, "Missing required parameters: Apple ID or Password"},
		{"POST", "/auth/login", `not json`, "Missing required parameters: Apple ID or Password"},
		{"GET", "/apps/abc", "", "Invalid appId"},
		{"GET", "/apps/1?appVerId=x", "", "Invalid appVerId"},
		{"GET", "/apps/1/versions?count=21", "", "The page size must be between 1-20"},
		{"GET", "/apps/1/versions?count=-2", "", "The page size must be between 1-20"},
		{"GET", "/apps/1/versions?count=0", "", "The page size must be between 1-20"},
		{"GET", "/apps/1/versions?direction=up", "", "The direction must be 'next' or 'prev'"},
		{"GET", "/search/maps?limit=0", "", "The result count limit must be between 1-20"},
		{"GET", "/search/maps?limit=21", "", "The result count limit must be between 1-20"},
		{"POST", "/apps/x/purchase", "", "Invalid appId"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			code, env := newFixture().do(t, tt.method, tt.target, tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.error, *env.Error)
			assert.Equal(t, "ValidationError", env.ErrorName)
			assert.Equal(t, "null", string(env.Data))
		})
	}
}

func TestLoginRoute(t *testing.T) {
	f := newFixture()
	code, env := f.do(t, "POST", "/auth/login", `{"appleId":"a@b.c","password":"pw","code":"123456"}`)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.Nil(t, env.Error)
	assert.Equal(t, "123456", f.auth.creds.Code)

	var data struct {
		Message   string         `json:"message"`
		LoginData map[string]any `json:"loginData"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "Login successful", data.Message)
	assert.Equal(t, "a@b.c", data.LoginData["appleId"])
	assert.NotContains(t, data.LoginData, "password")
}

func TestServiceErrorsAre500(t *testing.T) {
	f := newFixture()
	f.store.infoErr = &appstore.AppInfoError{Reason: "App information is empty"}

	code, env := f.do(t, "GET", "/apps/1", "")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "App information is empty", *env.Error)
	assert.Equal(t, "AppInfoError", env.ErrorName)

	code, env = f.do(t, "POST", "/auth/refresh", "")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Not logged in. Failed to refresh Cookie, please log in again", *env.Error)
	assert.Equal(t, "LoginError", env.ErrorName)

	code, env = f.do(t, "POST", "/apps/13/purchase", "")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "[Purchase failed] Already purchased, removed from store", *env.Error)
	assert.Equal(t, "buyError", env.ErrorName)

	code, env = f.do(t, "GET", "/apps/1/versions/legacy", "")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "all sources failed", *env.Error)
	assert.Empty(t, env.ErrorName)
}

func TestAppRoutes(t *testing.T) {
	f := newFixture()

	code, env := f.do(t, "GET", "/apps/42?appVerId=7", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `"42"`, string(mustField(t, env.Data, "appId")))
	appInfo := string(mustField(t, env.Data, "appInfo"))
	assert.Contains(t, appInfo, `"externalVersionId":7`)
	assert.NotContains(t, appInfo, "softwareVersionExternalIdentifier")

	code, env = f.do(t, "GET", "/apps/42/versions?direction=prev&count=2&appVerId=9", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, appstore.VersionsQuery{AppID: 42, StartVersionID: 9, Direction: "prev", Count: 2}, f.store.query)
	assert.JSONEq(t, `[[3,"3.0"],[2,"timeout"]]`, string(mustField(t, env.Data, "data")))
	assert.JSONEq(t, `5`, string(mustField(t, env.Data, "total")))
	assert.JSONEq(t, `"prev"`, string(mustField(t, env.Data, "direction")))

	code, _ = f.do(t, "GET", "/apps/42/versions", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, -1, f.store.query.Count)
	assert.Equal(t, "next", f.store.query.Direction)

	code, env = f.do(t, "GET", "/apps/42/versions/legacy?source=bilin", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "bilin", f.versions.source)
	assert.JSONEq(t, `[[1,"1.0"]]`, string(mustField(t, env.Data, "data")))

	code, env = f.do(t, "POST", "/apps/42/purchase", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `"Purchase request has been submitted"`, string(mustField(t, env.Data, "message")))
	assert.JSONEq(t, `42`, string(mustField(t, env.Data, "purchaseResult")))

	code, env = f.do(t, "GET", "/search/maps?country=US&limit=5", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, appstore.SearchQuery{Term: "maps", Country: "US", Limit: 5}, f.store.search)
	assert.JSONEq(t, `true`, string(mustField(t, env.Data, "explicit")))
	assert.JSONEq(t, `"maps"`, string(mustField(t, env.Data, "searchTerm")))
	assert.JSONEq(t, `0`, string(mustField(t, env.Data, "resultCount")))

	code, _ = f.do(t, "GET", "/apps/search/maps", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 10, f.store.search.Limit)

	code, env = f.do(t, "GET", "/", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), "/apps/:id/versions")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture()
	f.do(t, "POST", "/auth/reset", "")

	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ipastore_http_requests_total")
}

func mustField(t *testing.T, data json.RawMessage, key string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &m))
	v, ok := m[key]
	require.True(t, ok, "missing %s in %s", key, data)
	return v
}
