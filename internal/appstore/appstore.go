// Package appstore is a client for the private App Store purchase and
// download endpoints used by Apple Configurator.
package appstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/ipastore/internal/cache"
	"github.com/blacktop/ipastore/internal/store"
	"github.com/blacktop/ipastore/internal/tasks"
	"github.com/blacktop/ipastore/internal/transport"
	"github.com/blacktop/ipastore/pkg/plist"
)

// CREDIT - https://github.com/majd/ipatool

const (
	appStoreAuthURL     = "https://auth.itunes.apple.com/auth/v1/native/fast"
	appStoreDownloadURL = "https://p25-buy.itunes.apple.com/WebObjects/MZFinance.woa/wa/volumeStoreDownloadProduct"
	appStorePurchaseURL = "https://buy.itunes.apple.com/WebObjects/MZFinance.woa/wa/buyProduct"
	appStoreSearchURL   = "https://itunes.apple.com/search"
	appStoreLookupURL   = "https://itunes.apple.com/lookup"

	// AppStoreSearchLimit is the maximum number of results the API accepts
	AppStoreSearchLimit = 20

	ErrLoginRequires2fa               = "MZFinance.BadLogin.Configurator_message"
	FailureTypeInvalidCredentials     = "-5000"
	FailureTypeUnknownError           = "5002"
	FailureTypePasswordTokenExpired   = "2034"
	FailureTypeCookieExpired          = "2042"
	FailureTypeLicenseNotFound        = "9610"
	FailureTypeTemporarilyUnavailable = "2059"
)

// Default cache slot names
const (
	DefaultGUIDKey    = "AppleMac"
	DefaultLoginKey   = "AppleLogin"
	DefaultVersionKey = "AppVersions"
)

// Doer sends a request; *transport.Client implements it
type Doer interface {
	Do(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// Endpoints are the remote URLs the client talks to
type Endpoints struct {
	Auth     string
	Download string
	Purchase string
	Search   string
	Lookup   string
}

// Config configures the services
type Config struct {
	GUIDKey    string
	LoginKey   string
	VersionKey string
	// MaxAppCache is the number of apps kept in the version cache
	MaxAppCache int
	// Concurrency drives the version label resolution
	Concurrency tasks.Options
	// Country is the default search/lookup store front
	Country string
	// ResolveTimeout bounds each app info request made to resolve a version label
	ResolveTimeout time.Duration
	Endpoints      Endpoints
	Sources        []Source
}

// DefaultConfig returns the production settings
func DefaultConfig() Config {
	return Config{
		GUIDKey:        DefaultGUIDKey,
		LoginKey:       DefaultLoginKey,
		VersionKey:     DefaultVersionKey,
		MaxAppCache:    cache.DefaultCapacity,
		Concurrency:    tasks.DefaultOptions(),
		Country:        "CN",
		ResolveTimeout: 11 * time.Second,
		Endpoints: Endpoints{
			Auth:     appStoreAuthURL,
			Download: appStoreDownloadURL,
			Purchase: appStorePurchaseURL,
			Search:   appStoreSearchURL,
			Lookup:   appStoreLookupURL,
		},
		Sources: DefaultSources(),
	}
}

// Client bundles the services sharing one transport and one store
type Client struct {
	Auth     *AuthService
	Store    *StoreService
	Versions *VersionService
}

// New wires the services together
func New(conf Config, doer Doer, kv store.Store) *Client {
	auth := &AuthService{conf: conf, doer: doer, kv: kv}
	versions := NewVersionService(doer, conf.Sources...)
	return &Client{
		Auth:     auth,
		Versions: versions,
		Store: &StoreService{
			conf:     conf,
			doer:     doer,
			kv:       kv,
			auth:     auth,
			versions: versions,
		},
	}
}

// postPlist sends body as a binary plist and decodes the plist response. A
// nil dict is returned for an empty body. Error statuses are tolerated when
// the body still carries a plist, since the store reports failures there.
func postPlist(ctx context.Context, doer Doer, name, url string, body *plist.Dict, headers map[string]string, timeout time.Duration) (*plist.Dict, *transport.Response, error) {
	data, err := plist.MarshalBinary(body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode %s request: %w", name, err)
	}

	hdrs := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}
	for k, v := range headers {
		hdrs[k] = v
	}

	resp, err := doer.Do(ctx, &transport.Request{
		URL:     url,
		Method:  "POST",
		Headers: hdrs,
		Body:    data,
		Timeout: timeout,
	})
	if err != nil {
		var serr *transport.StatusError
		if !errors.As(err, &serr) || len(serr.Response.Body) == 0 {
			return nil, nil, fmt.Errorf("failed to POST %s: %w", name, err)
		}
		resp = serr.Response
	}

	log.Debugf("POST %s: (%d): %d bytes", name, resp.Status, len(resp.Body))

	if len(resp.Body) == 0 {
		return nil, resp, nil
	}
	d, err := plist.ParseDict(resp.Body)
	if err != nil {
		return nil, resp, fmt.Errorf("failed to decode %s response: %w", name, err)
	}
	return d, resp, nil
}

// stringOf renders a plist scalar as a string (ids are sometimes integers)
func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return fmt.Sprintf("%d", t)
	case uint64:
		return fmt.Sprintf("%d", t)
	default:
		return fmt.Sprint(t)
	}
}

// lookup returns d[key] rendered as a string and whether the key exists
func lookup(d *plist.Dict, key string) (string, bool) {
	if d == nil {
		return "", false
	}
	v, ok := d.Get(key)
	if !ok {
		return "", false
	}
	return stringOf(v), true
}
