package appstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/ipastore/internal/cache"
	"github.com/blacktop/ipastore/internal/metrics"
	"github.com/blacktop/ipastore/internal/transport"
	"github.com/hashicorp/go-multierror"
	"github.com/tidwall/gjson"
)

const thirdPartyTimeout = 8 * time.Second

// ErrNoSources is returned when no version source is registered
var ErrNoSources = errors.New("no available version interface")

// Source is a third-party mirror of app version histories
type Source struct {
	Name string
	// URL is a format string taking the app id
	URL string
	// Extract maps the response body to version entries, oldest first
	Extract func(body []byte) ([]cache.VersionEntry, error)
}

// DefaultSources are the known version history mirrors
func DefaultSources() []Source {
	return []Source{
		{
			Name:    "timbrd",
			URL:     "https://api.timbrd.com/apple/app-version/index.php?id=%s",
			Extract: extractTimbrd,
		},
		{
			Name:    "bilin",
			URL:     "https://apis.bilin.eu.org/history/%s",
			Extract: extractBilin,
		},
	}
}

// newest first
func extractTimbrd(body []byte) ([]cache.VersionEntry, error) {
	res := gjson.ParseBytes(body)
	if !res.IsArray() {
		return nil, fmt.Errorf("unexpected response: %.64s", body)
	}
	items := res.Array()
	out := make([]cache.VersionEntry, 0, len(items))
	for _, item := range items {
		out = append(out, cache.VersionEntry{
			ID:    item.Get("external_identifier").Int(),
			Label: item.Get("bundle_version").String(),
		})
	}
	slices.Reverse(out)
	return out, nil
}

func extractBilin(body []byte) ([]cache.VersionEntry, error) {
	data := gjson.GetBytes(body, "data")
	if !data.IsArray() {
		return nil, fmt.Errorf("unexpected response: %.64s", body)
	}
	items := data.Array()
	out := make([]cache.VersionEntry, 0, len(items))
	for _, item := range items {
		out = append(out, cache.VersionEntry{
			ID:    item.Get("external_identifier").Int(),
			Label: item.Get("bundle_version").String(),
		})
	}
	return out, nil
}

// VersionHistory is the version list of one app from a third-party source
type VersionHistory struct {
	AppID  string               `json:"appId"`
	Source string               `json:"source,omitempty"`
	Data   []cache.VersionEntry `json:"data"`
	Total  int                  `json:"total"`
}

// VersionService queries the registered third-party sources
type VersionService struct {
	doer    Doer
	sources []Source
}

// NewVersionService registers sources in priority order
func NewVersionService(doer Doer, sources ...Source) *VersionService {
	return &VersionService{doer: doer, sources: sources}
}

// Sources lists the registered source names
func (v *VersionService) Sources() []string {
	names := make([]string, 0, len(v.sources))
	for _, src := range v.sources {
		names = append(names, src.Name)
	}
	return names
}

// Lookup queries the named source; an empty name selects the first one
func (v *VersionService) Lookup(ctx context.Context, appID, name string) (*VersionHistory, error) {
	if len(v.sources) == 0 {
		return nil, ErrNoSources
	}
	if name == "" {
		return v.fetch(ctx, v.sources[0], appID)
	}
	for _, src := range v.sources {
		if strings.EqualFold(src.Name, name) {
			return v.fetch(ctx, src, appID)
		}
	}
	return nil, fmt.Errorf("unknown version source %q (available: %s)", name, strings.Join(v.Sources(), ", "))
}

// Race queries the first limit sources concurrently (all when limit <= 0)
// and returns the first successful answer. The others are cancelled.
func (v *VersionService) Race(ctx context.Context, appID string, limit int) (*VersionHistory, error) {
	sources := v.sources
	if limit > 0 && limit < len(sources) {
		sources = sources[:limit]
	}
	if len(sources) == 0 {
		return nil, ErrNoSources
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type answer struct {
		hist *VersionHistory
		err  error
	}
	answers := make(chan answer, len(sources))
	for _, src := range sources {
		go func(src Source) {
			hist, err := v.fetch(ctx, src, appID)
			answers <- answer{hist, err}
		}(src)
	}

	var errs *multierror.Error
	for range sources {
		a := <-answers
		if a.err == nil {
			return a.hist, nil
		}
		errs = multierror.Append(errs, a.err)
	}
	return nil, errs.ErrorOrNil()
}

func (v *VersionService) fetch(ctx context.Context, src Source, appID string) (hist *VersionHistory, err error) {
	u := fmt.Sprintf(src.URL, appID)
	defer func() { metrics.RecordVersionLookup(src.Name, err == nil) }()

	resp, err := v.doer.Do(ctx, &transport.Request{
		URL:     u,
		Method:  "GET",
		Timeout: thirdPartyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", u, err)
	}
	data, err := src.Extract(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", u, err)
	}
	log.WithFields(log.Fields{"source": src.Name, "app": appID, "total": len(data)}).Debug("Fetched version history")
	return &VersionHistory{
		AppID:  appID,
		Source: src.Name,
		Data:   data,
		Total:  len(data),
	}, nil
}
