package appstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/apex/log"
	"github.com/blacktop/ipastore/internal/cache"
	"github.com/blacktop/ipastore/internal/metrics"
	"github.com/blacktop/ipastore/internal/store"
	"github.com/blacktop/ipastore/internal/tasks"
	"golang.org/x/sync/errgroup"
)

// Page directions
const (
	DirectionNext = "next"
	DirectionPrev = "prev"
)

// VersionsQuery selects a page of the version history of an app. A Count
// of -1 returns the whole history without resolving labels.
type VersionsQuery struct {
	AppID          int64
	StartVersionID int64
	Direction      string
	Count          int
}

// VersionResult is a resolved page entry, encoded as [id, label] or
// [id, error message]
type VersionResult struct {
	ID    int64
	Label string
	Err   string
}

func (r VersionResult) MarshalJSON() ([]byte, error) {
	if r.Err != "" {
		return json.Marshal([]any{r.ID, r.Err})
	}
	return json.Marshal([]any{r.ID, r.Label})
}

// VersionsPage is one page of a version history
type VersionsPage struct {
	Data  []VersionResult `json:"data"`
	Total int             `json:"total"`
}

// Versions returns a page of the version history of an app. Entries whose
// build label is unknown are resolved through AppInfo; failed resolutions
// are reported in place with their error message.
func (s *StoreService) Versions(ctx context.Context, q VersionsQuery) (*VersionsPage, error) {
	list, err := s.versionList(ctx, q.AppID, q.StartVersionID)
	if err != nil {
		return nil, err
	}

	if q.Count == -1 {
		entries := list.Entries()
		page := &VersionsPage{Data: make([]VersionResult, 0, len(entries)), Total: len(entries)}
		for _, e := range entries {
			page.Data = append(page.Data, VersionResult{ID: e.ID, Label: e.Label})
		}
		return page, nil
	}

	index := max(list.IndexOf(q.StartVersionID), 0)
	if q.Direction == DirectionPrev {
		index = max(index-q.Count, 0)
	}
	entries := list.Page(index, q.Count)

	jobs := make([]tasks.Task[cache.VersionEntry], 0, len(entries))
	for _, e := range entries {
		jobs = append(jobs, func(ctx context.Context, _ *tasks.Control) (cache.VersionEntry, error) {
			if !e.Unknown() {
				return e, nil
			}
			if s.conf.ResolveTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, s.conf.ResolveTimeout)
				defer cancel()
			}
			info, err := s.AppInfo(ctx, q.AppID, e.ID)
			if err != nil {
				return e, err
			}
			list.SetLabel(e.ID, info.BuildVersion)
			return cache.VersionEntry{ID: e.ID, Label: info.BuildVersion}, nil
		})
	}

	res, err := tasks.NewRunner[cache.VersionEntry](s.conf.Concurrency).Run(ctx, jobs)
	if err != nil {
		return nil, err
	}

	page := &VersionsPage{Data: make([]VersionResult, 0, len(entries)), Total: list.Len()}
	for i, e := range entries {
		if v, ok := res.Fulfilled[i]; ok {
			page.Data = append(page.Data, VersionResult{ID: v.ID, Label: v.Label})
		} else if terr, ok := res.Rejected[i]; ok {
			page.Data = append(page.Data, VersionResult{ID: e.ID, Err: terr.Error()})
		}
	}

	if err := s.updateVersionCache(ctx, q.AppID, list); err != nil {
		return nil, err
	}
	return page, nil
}

// versionList returns the cached history of an app, building it from the
// store and the third-party sources on a miss
func (s *StoreService) versionList(ctx context.Context, appID, startVersionID int64) (*cache.VersionList, error) {
	s.mu.Lock()
	vc, err := s.loadVersionCache(ctx)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	list, ok := vc.Get(appID)
	if ok {
		// the lookup promoted the app
		err = s.saveVersionCache(ctx, vc)
	}
	s.mu.Unlock()
	if ok {
		return list, err
	}

	var (
		official []cache.VersionEntry
		legacy   *VersionHistory
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		official, err = s.officialVersions(gctx, appID, startVersionID)
		return err
	})
	g.Go(func() error {
		hist, err := s.versions.Race(gctx, strconv.FormatInt(appID, 10), 0)
		if err != nil {
			log.WithError(err).WithField("app", appID).Warn("Third-party version lookup failed")
			hist = &VersionHistory{Data: []cache.VersionEntry{}}
		}
		legacy = hist
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	list = cache.NewVersionList(MergeVersions(official, legacy.Data))
	if err := s.updateVersionCache(ctx, appID, list); err != nil {
		return nil, err
	}
	return list, nil
}

// officialVersions lists the version ids the store reports, newest first
func (s *StoreService) officialVersions(ctx context.Context, appID, startVersionID int64) ([]cache.VersionEntry, error) {
	info, err := s.AppInfo(ctx, appID, startVersionID)
	if err != nil {
		return nil, err
	}
	if len(info.ExternalVersionIDList) == 0 {
		return []cache.VersionEntry{{ID: info.ExternalVersionID, Label: info.DisplayVersion}}, nil
	}
	out := make([]cache.VersionEntry, 0, len(info.ExternalVersionIDList))
	for _, id := range slices.Backward(info.ExternalVersionIDList) {
		out = append(out, cache.VersionEntry{ID: id, Label: cache.UnknownLabel})
	}
	return out, nil
}

// MergeVersions prefers the store's list when it is at least as long as the
// third-party one, filling its unknown labels from it; otherwise the
// third-party list is used as is.
func MergeVersions(official, thirdParty []cache.VersionEntry) []cache.VersionEntry {
	if len(official) < len(thirdParty) {
		return thirdParty
	}
	labels := make(map[int64]string, len(thirdParty))
	for _, e := range thirdParty {
		if _, ok := labels[e.ID]; !ok {
			labels[e.ID] = e.Label
		}
	}
	merged := make([]cache.VersionEntry, len(official))
	for i, e := range official {
		if label, ok := labels[e.ID]; ok && e.Label == cache.UnknownLabel {
			e.Label = label
		}
		merged[i] = e
	}
	return merged
}

func (s *StoreService) loadVersionCache(ctx context.Context) (*cache.VersionCache, error) {
	data, err := s.kv.Get(ctx, s.conf.VersionKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return cache.NewVersionCache(s.conf.MaxAppCache)
		}
		return nil, fmt.Errorf("failed to load version cache: %w", err)
	}
	vc, err := cache.LoadVersionCache(s.conf.MaxAppCache, []byte(data))
	if err != nil {
		log.WithError(err).Warn("Discarding unreadable version cache")
		return cache.NewVersionCache(s.conf.MaxAppCache)
	}
	return vc, nil
}

// updateVersionCache stores list as the most recently used app and persists
// the cache
func (s *StoreService) updateVersionCache(ctx context.Context, appID int64, list *cache.VersionList) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vc, err := s.loadVersionCache(ctx)
	if err != nil {
		return err
	}
	vc.Put(appID, list)
	return s.saveVersionCache(ctx, vc)
}

func (s *StoreService) saveVersionCache(ctx context.Context, vc *cache.VersionCache) error {
	data, err := json.Marshal(vc)
	if err != nil {
		return fmt.Errorf("failed to encode version cache: %w", err)
	}
	if err := s.kv.Set(ctx, s.conf.VersionKey, string(data)); err != nil {
		return fmt.Errorf("failed to save version cache: %w", err)
	}
	metrics.SetCachedApps(vc.Len())
	return nil
}
