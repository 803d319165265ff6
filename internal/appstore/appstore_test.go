package appstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/blacktop/ipastore/internal/store"
	"github.com/blacktop/ipastore/internal/tasks"
	"github.com/blacktop/ipastore/internal/transport"
	"github.com/blacktop/ipastore/pkg/plist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	authPrefix     = "https://auth.test/"
	downloadPrefix = "https://buy.test/download"
	purchasePrefix = "https://buy.test/purchase"
	searchPrefix   = "https://search.test/"
	timbrdPrefix   = "https://timbrd.test/"
	bilinPrefix    = "https://bilin.test/"
)

type handler func(req *transport.Request, n int) (*transport.Response, error)

// fakeDoer routes requests by URL prefix and counts them
type fakeDoer struct {
	mu       sync.Mutex
	handlers map[string]handler
	calls    map[string]int
	requests []*transport.Request
}

func newFakeDoer() *fakeDoer {
	return &fakeDoer{handlers: make(map[string]handler), calls: make(map[string]int)}
}

func (f *fakeDoer) handle(prefix string, h handler) { f.handlers[prefix] = h }

func (f *fakeDoer) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[prefix]
}

func (f *fakeDoer) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	f.mu.Lock()
	var (
		h handler
		n int
	)
	for prefix, hh := range f.handlers {
		if strings.HasPrefix(req.URL, prefix) {
			f.calls[prefix]++
			h, n = hh, f.calls[prefix]
			break
		}
	}
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if h == nil {
		return nil, &transport.TransportError{Method: req.Method, URL: req.URL, Err: errors.New("no route")}
	}
	return h(req, n)
}

func plistResponse(t *testing.T, d *plist.Dict, headers http.Header) *transport.Response {
	t.Helper()
	data, err := plist.MarshalBinary(d)
	require.NoError(t, err)
	if headers == nil {
		headers = http.Header{}
	}
	return &transport.Response{Status: 200, Headers: headers, Body: data}
}

func jsonResponse(body string) *transport.Response {
	return &transport.Response{Status: 200, Headers: http.Header{}, Body: []byte(body)}
}

func requestDict(t *testing.T, req *transport.Request) *plist.Dict {
	t.Helper()
	d, err := plist.ParseDict(req.Body)
	require.NoError(t, err)
	return d
}

func loginOK(t *testing.T) handler {
	return func(req *transport.Request, _ int) (*transport.Response, error) {
		body := requestDict(t, req)
		appleID, _ := plist.String(body, "appleId")
		h := http.Header{}
		h.Add("Set-Cookie", "mz_at0=token0; Path=/; Secure")
		h.Add("Set-Cookie", "itspod=25; Path=/")
		h.Set("X-Set-Apple-Store-Front", "143465-19,29")
		return plistResponse(t, plist.DictOf(
			"accountInfo", plist.DictOf(
				"appleId", appleID,
				"address", plist.DictOf("firstName", "Tim", "lastName", "Apple"),
			),
			"passwordToken", "ptoken",
			"dsPersonId", "8675309",
		), h), nil
	}
}

func downloadItemDict(appID, externalID int64, build string, versions []int64) *plist.Dict {
	return plist.DictOf(
		"songId", appID,
		"URL", "https://iosapps.test/app.ipa",
		"artwork-urls", plist.DictOf("default", plist.DictOf("url", "https://icons.test/icon.png")),
		"sinfs", []any{plist.DictOf("id", 0, "sinf", []byte{0xde, 0xad})},
		"asset-info", plist.DictOf("file-size", 2048),
		"metadata", plist.DictOf(
			"bundleDisplayName", "Example",
			"softwareVersionBundleId", "com.example.app",
			"bundleShortVersionString", "v"+build,
			"bundleVersion", build,
			"softwareVersionExternalIdentifier", externalID,
			"softwareVersionExternalIdentifiers", versions,
			"rating", plist.DictOf("label", "12+"),
		),
	)
}

// downloadOK answers with build "<externalVersionId>.0"; the latest version is 3
func downloadOK(t *testing.T, versions []int64) handler {
	return func(req *transport.Request, _ int) (*transport.Response, error) {
		body := requestDict(t, req)
		appID, _ := body.Get("salableAdamId")
		ext := int64(3)
		if v, ok := body.Get("externalVersionId"); ok {
			ext = v.(int64)
		}
		return plistResponse(t, plist.DictOf(
			"metrics", plist.DictOf("currency", "CNY"),
			"songList", []any{downloadItemDict(appID.(int64), ext, fmt.Sprintf("%d.0", ext), versions)},
		), nil), nil
	}
}

func failure(t *testing.T, failureType, msg string) *transport.Response {
	return plistResponse(t, plist.DictOf("failureType", failureType, "customerMessage", msg), nil)
}

func testConfig() Config {
	conf := DefaultConfig()
	conf.Endpoints = Endpoints{
		Auth:     authPrefix + "fast",
		Download: downloadPrefix,
		Purchase: purchasePrefix,
		Search:   searchPrefix + "search",
		Lookup:   searchPrefix + "lookup",
	}
	conf.Concurrency = tasks.Options{ConcurrencyLimit: 2, MaxRetry: 1}
	conf.Sources = []Source{
		{Name: "timbrd", URL: timbrdPrefix + "%s", Extract: extractTimbrd},
		{Name: "bilin", URL: bilinPrefix + "%s", Extract: extractBilin},
	}
	return conf
}

func newTestClient(t *testing.T) (*Client, *fakeDoer, store.Store) {
	t.Helper()
	doer := newFakeDoer()
	kv := store.NewMemory()
	return New(testConfig(), doer, kv), doer, kv
}

var testCreds = &Credentials{AppleID: "user@example.com", Password: "hunter2"}

func TestLoginReusesSession(t *testing.T) {
	ctx := context.Background()
	c, doer, _ := newTestClient(t)
	doer.handle(authPrefix, loginOK(t))

	sess, err := c.Auth.Login(ctx, testCreds)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", sess.AccountAppleID())
	assert.Equal(t, "hunter2", sess.Password)
	assert.Equal(t, "143465", sess.StoreFront)
	assert.Equal(t, "mz_at0=token0; itspod=25", sess.Cookie)
	assert.Equal(t, "8675309", sess.DSPersonID)
	assert.Equal(t, "ptoken", sess.PasswordToken)
	assert.Equal(t, "Tim", sess.AccountInfo.FirstName)

	again, err := c.Auth.Login(ctx, &Credentials{AppleID: "USER@example.com", Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, sess.Cookie, again.Cookie)
	assert.Equal(t, 1, doer.count(authPrefix))

	cached, err := c.Auth.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ptoken", cached.PasswordToken)

	// login request shape
	body := requestDict(t, doer.requests[0])
	attempt, _ := body.Get("attempt")
	assert.Equal(t, int64(4), attempt)
	why, _ := plist.String(body, "why")
	assert.Equal(t, "signIn", why)
	guid, _ := plist.String(body, "guid")
	assert.Regexp(t, `^[0-9A-F]{12}$`, guid)
	assert.True(t, strings.HasSuffix(doer.requests[0].URL, "?guid="+guid))
}

func TestLoginSwitchesAccount(t *testing.T) {
	ctx := context.Background()
	c, doer, _ := newTestClient(t)
	doer.handle(authPrefix, loginOK(t))

	_, err := c.Auth.Login(ctx, testCreds)
	require.NoError(t, err)
	sess, err := c.Auth.Login(ctx, &Credentials{AppleID: "other@example.com", Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, "other@example.com", sess.AccountAppleID())

	_, err = c.Auth.Login(ctx, &Credentials{AppleID: "other@example.com", Password: "changed"})
	require.NoError(t, err)
	assert.Equal(t, 3, doer.count(authPrefix))
}

func TestLoginPasswordChangeDiscardsSession(t *testing.T) {
	ctx := context.Background()
	c, doer, kv := newTestClient(t)
	doer.handle(authPrefix, loginOK(t))

	_, err := c.Auth.Login(ctx, testCreds)
	require.NoError(t, err)

	doer.handle(authPrefix, func(req *transport.Request, _ int) (*transport.Response, error) {
		return failure(t, "-20101", "Your Apple ID or password was entered incorrectly."), nil
	})
	_, err = c.Auth.Login(ctx, &Credentials{AppleID: testCreds.AppleID, Password: "wrong"})
	var lerr *LoginError
	require.ErrorAs(t, err, &lerr)

	_, err = kv.Get(ctx, DefaultLoginKey)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = c.Auth.Session(ctx)
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "Not logged in, please log in first.", lerr.Error())
}

func TestLoginWithCode(t *testing.T) {
	c, doer, _ := newTestClient(t)
	doer.handle(authPrefix, loginOK(t))

	_, err := c.Auth.Login(context.Background(), &Credentials{AppleID: "a@b.c", Password: "pw", Code: "123456"})
	require.NoError(t, err)
	body := requestDict(t, doer.requests[0])
	attempt, _ := body.Get("attempt")
	assert.Equal(t, int64(2), attempt)
	pw, _ := plist.String(body, "password")
	assert.Equal(t, "pw123456", pw)
}

func TestLoginFailures(t *testing.T) {
	tests := []struct {
		name      string
		responses func(t *testing.T) handler
		calls     int
		check     func(t *testing.T, lerr *LoginError)
	}{
		{
			name: "invalid credentials retried once",
			responses: func(t *testing.T) handler {
				return func(req *transport.Request, n int) (*transport.Response, error) {
					return failure(t, FailureTypeInvalidCredentials, "Your Apple ID or password was entered incorrectly."), nil
				}
			},
			calls: 2,
			check: func(t *testing.T, lerr *LoginError) {
				assert.Equal(t, FailureTypeInvalidCredentials, lerr.FailureType)
				assert.False(t, lerr.Requires2FA)
			},
		},
		{
			name: "two factor",
			responses: func(t *testing.T) handler {
				return func(req *transport.Request, n int) (*transport.Response, error) {
					return failure(t, "", ErrLoginRequires2fa), nil
				}
			},
			calls: 1,
			check: func(t *testing.T, lerr *LoginError) {
				assert.True(t, lerr.Requires2FA)
			},
		},
		{
			name: "empty failure type",
			responses: func(t *testing.T) handler {
				return func(req *transport.Request, n int) (*transport.Response, error) {
					return failure(t, "", "Account disabled"), nil
				}
			},
			calls: 1,
			check: func(t *testing.T, lerr *LoginError) {
				assert.Equal(t, "Account disabled", lerr.CustomerMessage)
				assert.Contains(t, lerr.Error(), "Login failed")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, doer, kv := newTestClient(t)
			doer.handle(authPrefix, tt.responses(t))

			_, err := c.Auth.Login(context.Background(), testCreds)
			var lerr *LoginError
			require.ErrorAs(t, err, &lerr)
			tt.check(t, lerr)
			assert.Equal(t, tt.calls, doer.count(authPrefix))

			_, err = kv.Get(context.Background(), DefaultLoginKey)
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestLoginRecoversAfterInvalidCredentials(t *testing.T) {
	c, doer, _ := newTestClient(t)
	ok := loginOK(t)
	doer.handle(authPrefix, func(req *transport.Request, n int) (*transport.Response, error) {
		if n == 1 {
			return failure(t, FailureTypeInvalidCredentials, "try again"), nil
		}
		return ok(req, n)
	})
	_, err := c.Auth.Login(context.Background(), testCreds)
	require.NoError(t, err)
	assert.Equal(t, 2, doer.count(authPrefix))
}

func TestSessionErrors(t *testing.T) {
	ctx := context.Background()
	c, _, kv := newTestClient(t)

	_, err := c.Auth.Session(ctx)
	var lerr *LoginError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "Not logged in, please log in first.", lerr.Error())

	_, err = c.Auth.RefreshCookie(ctx)
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "Not logged in. Failed to refresh Cookie, please log in again", lerr.Error())

	require.NoError(t, kv.Set(ctx, DefaultLoginKey, `{"appleId":"a@b.c","password":"pw"}`))
	_, err = c.Auth.Session(ctx)
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "Cache data is invalid, please log in again.", lerr.Error())

	// no accountInfo in the cache, so no way to refresh
	_, err = c.Auth.RefreshCookie(ctx)
	require.ErrorAs(t, err, &lerr)
}

func TestRefreshCookie(t *testing.T) {
	ctx := context.Background()
	c, doer, _ := newTestClient(t)
	doer.handle(authPrefix, loginOK(t))

	_, err := c.Auth.Login(ctx, testCreds)
	require.NoError(t, err)
	sess, err := c.Auth.RefreshCookie(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", sess.AccountAppleID())
	assert.Equal(t, 2, doer.count(authPrefix))

	body := requestDict(t, doer.requests[1])
	pw, _ := plist.String(body, "password")
	assert.Equal(t, "hunter2", pw)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	c, doer, kv := newTestClient(t)
	doer.handle(authPrefix, loginOK(t))

	_, err := c.Auth.Login(ctx, testCreds)
	require.NoError(t, err)

	res, err := c.Auth.Reset(ctx)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{DefaultLoginKey, DefaultGUIDKey}, res.ClearedKeys)
	for _, key := range res.ClearedKeys {
		_, err := kv.Get(ctx, key)
		assert.ErrorIs(t, err, store.ErrNotFound)
	}

	// resetting twice is fine
	_, err = c.Auth.Reset(ctx)
	assert.NoError(t, err)
}

func TestDeviceGUIDIsStable(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	first, err := deviceGUID(ctx, kv, DefaultGUIDKey)
	require.NoError(t, err)
	second, err := deviceGUID(ctx, kv, DefaultGUIDKey)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 12)
}
