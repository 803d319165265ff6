package appstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/ipastore/internal/metrics"
	"github.com/blacktop/ipastore/internal/store"
	"github.com/blacktop/ipastore/internal/transport"
	"github.com/blacktop/ipastore/pkg/plist"
)

const (
	appInfoTimeout  = 6 * time.Second
	purchaseTimeout = 6 * time.Second
	searchTimeout   = 8 * time.Second
)

// App is an iTunes search/lookup result
type App struct {
	ID             int     `json:"trackId,omitempty"`
	BundleID       string  `json:"bundleId,omitempty"`
	Name           string  `json:"trackName,omitempty"`
	SellerURL      string  `json:"sellerUrl,omitempty"`
	SellerName     string  `json:"sellerName,omitempty"`
	Version        string  `json:"version,omitempty"`
	ReleaseDate    string  `json:"currentVersionReleaseDate,omitempty"`
	Price          float64 `json:"price,omitempty"`
	FormattedPrice string  `json:"formattedPrice,omitempty"`
	Size           string  `json:"fileSizeBytes,omitempty"`
	Rating         float64 `json:"averageUserRating,omitempty"`
	RatingCount    int     `json:"userRatingCount,omitempty"`
	ArtworkUrl     string  `json:"artworkUrl512,omitempty"`
}

type Apps []App

type QueryResults struct {
	ResultCount int  `json:"resultCount,omitempty"`
	Results     Apps `json:"results,omitempty"`
}

// SearchQuery are the iTunes search parameters
type SearchQuery struct {
	Term    string
	Country string
	Entity  string
	Limit   int
}

// SearchResult is the undecoded search response body
type SearchResult map[string]any

// Apps decodes the results of the search
func (r SearchResult) Apps() (Apps, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var result QueryResults
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to deserialize search results: %v", err)
	}
	return result.Results, nil
}

// StoreService implements the search, download info and purchase calls
type StoreService struct {
	conf     Config
	doer     Doer
	kv       store.Store
	auth     *AuthService
	versions *VersionService

	// guards the persisted version cache
	mu sync.Mutex
}

// Search queries the public iTunes search API
func (s *StoreService) Search(ctx context.Context, q SearchQuery) (SearchResult, error) {
	if q.Country == "" {
		q.Country = s.conf.Country
	}
	if q.Entity == "" {
		q.Entity = "software"
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}

	v := url.Values{}
	v.Set("term", strings.TrimSpace(q.Term))
	v.Set("country", strings.ToLower(q.Country))
	v.Set("entity", q.Entity)
	v.Set("explicit", "yes")
	v.Set("limit", strconv.Itoa(q.Limit))

	body, err := s.get(ctx, "Search", s.conf.Endpoints.Search+"?"+v.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to search appstore: %w", err)
	}
	var result SearchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to deserialize response body JSON: %v", err)
	}
	return result, nil
}

// Lookup returns the store listing for a bundle ID
func (s *StoreService) Lookup(ctx context.Context, bundleID, country string) (*App, error) {
	if country == "" {
		country = s.conf.Country
	}
	v := url.Values{}
	v.Set("bundleId", bundleID)
	v.Set("country", strings.ToLower(country))
	v.Set("limit", "1")
	v.Set("entity", "software,iPadSoftware")
	v.Set("media", "software")

	body, err := s.get(ctx, "Lookup", s.conf.Endpoints.Lookup+"?"+v.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to lookup bundleID in appstore: %w", err)
	}
	var result QueryResults
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to deserialize response body JSON: %v", err)
	}
	if len(result.Results) == 0 {
		return nil, fmt.Errorf("no results found for bundleID %s", bundleID)
	}
	return &result.Results[0], nil
}

func (s *StoreService) get(ctx context.Context, name, u string) ([]byte, error) {
	resp, err := s.doer.Do(ctx, &transport.Request{
		URL:     u,
		Method:  "GET",
		Headers: map[string]string{"Content-Type": "application/json"},
		Timeout: searchTimeout,
	})
	if err != nil {
		return nil, err
	}
	log.Debugf("GET appstore %s (%d):\n%s\n", name, resp.Status, string(resp.Body))
	return resp.Body, nil
}

// AppInfo returns the download info of an app version; externalVersionID 0
// selects the latest version. An expired session is refreshed and a missing
// license is purchased, each at most once, before the request is retried.
func (s *StoreService) AppInfo(ctx context.Context, appID, externalVersionID int64) (*AppInfo, error) {
	var refreshed, purchased bool
	for {
		info, err := s.appInfo(ctx, appID, externalVersionID)
		if err == nil {
			return info, nil
		}
		var aerr *AppInfoError
		if !errors.As(err, &aerr) {
			return nil, err
		}
		switch {
		case aerr.SessionExpired() && !refreshed:
			refreshed = true
			metrics.RecordRecovery("refresh")
			log.WithField("app", appID).Debug("Session expired, refreshing cookie")
			if _, err := s.auth.RefreshCookie(ctx); err != nil {
				return nil, err
			}
		case aerr.LicenseMissing() && !purchased:
			purchased = true
			metrics.RecordRecovery("purchase")
			log.WithField("app", appID).Debug("License not found, purchasing")
			if _, err := s.Purchase(ctx, appID); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}
}

func (s *StoreService) appInfo(ctx context.Context, appID, externalVersionID int64) (*AppInfo, error) {
	sess, err := s.auth.Session(ctx)
	if err != nil {
		return nil, err
	}
	guid, err := deviceGUID(ctx, s.kv, s.conf.GUIDKey)
	if err != nil {
		return nil, err
	}

	body := plist.DictOf(
		"creditDisplay", "",
		"guid", guid,
		"salableAdamId", appID,
	)
	if externalVersionID != 0 {
		body.Set("externalVersionId", externalVersionID)
	}

	d, _, err := postPlist(ctx, s.doer, "AppInfo", s.conf.Endpoints.Download+"?guid="+guid, body, sess.headers(), appInfoTimeout)
	if err != nil {
		return nil, err
	}
	if err := validateAppInfo(d); err != nil {
		return nil, err
	}
	return formatAppInfo(d, sess.AccountAppleID())
}

func validateAppInfo(d *plist.Dict) error {
	if d == nil || d.Len() == 0 {
		return &AppInfoError{Reason: "App information is empty"}
	}
	if ft, ok := lookup(d, "failureType"); ok {
		msg, _ := lookup(d, "customerMessage")
		return &AppInfoError{
			Reason:          "Failed to retrieve app information",
			FailureType:     ft,
			CustomerMessage: msg,
		}
	}
	songs, _ := d.Get("songList")
	if list, ok := songs.([]any); !ok || len(list) == 0 {
		return &AppInfoError{Reason: "The app information for this version ID is empty"}
	}
	return nil
}

// Purchase acquires a license for a free app after refreshing the session
func (s *StoreService) Purchase(ctx context.Context, appID int64) (int64, error) {
	sess, err := s.auth.RefreshCookie(ctx)
	if err != nil {
		return 0, err
	}
	guid, err := deviceGUID(ctx, s.kv, s.conf.GUIDKey)
	if err != nil {
		return 0, err
	}

	body := plist.DictOf(
		"appExtVrsId", "0",
		"buyWithoutAuthorization", "true",
		"guid", guid,
		"hasAskedToFulfillPreorder", "true",
		"hasDoneAgeCheck", "true",
		"price", "0",
		"pricingParameters", "STDQ",
		"productType", "C",
		"salableAdamId", appID,
	)
	headers := sess.headers()
	headers["X-Token"] = sess.PasswordToken
	headers["X-Apple-Store-Front"] = sess.StoreFront

	d, _, err := postPlist(ctx, s.doer, "Purchase", s.conf.Endpoints.Purchase, body, headers, purchaseTimeout)
	if err != nil {
		return 0, err
	}
	if ft, ok := lookup(d, "failureType"); ok {
		msg, _ := lookup(d, "customerMessage")
		return 0, newPurchaseError(ft, msg)
	}
	if !plist.Has(d, "jingleDocType") {
		return 0, newPurchaseError("", "no purchase confirmation in response")
	}
	log.WithField("app", appID).Info("Purchased")
	return appID, nil
}
