package appstore

import (
	"fmt"
	"strings"

	"github.com/blacktop/ipastore/pkg/plist"
	"github.com/dustin/go-humanize"
	"github.com/go-viper/mapstructure/v2"
)

// AppInfo is the download ticket of one app version
type AppInfo struct {
	AppID                 int64   `json:"appId"`
	Name                  string  `json:"name"`
	BundleID              string  `json:"bundleId"`
	DisplayVersion        string  `json:"displayVersion"`
	BuildVersion          string  `json:"buildVersion"`
	ExternalVersionID     int64   `json:"externalVersionId"`
	ExternalVersionIDList []int64 `json:"externalVersionIdList"`
	MinimumOSVersion      string  `json:"minimumOsVersion"`
	URL                   string  `json:"url"`
	Icon                  string  `json:"icon"`
	Sinf                  []byte  `json:"sinf"`
	FileSize              int64   `json:"fileSize"`
	FileSizeHuman         string  `json:"formattedSize"`
	Currency              string  `json:"currency"`
	// Metadata is the iTunesMetadata.plist content as an XML plist
	Metadata string `json:"metadata"`
	AppleID  string `json:"appleId"`
}

type downloadResponse struct {
	Metrics struct {
		Currency string `mapstructure:"currency"`
	} `mapstructure:"metrics"`
	SongList []downloadItem `mapstructure:"songList"`
}

type downloadItem struct {
	SongID  int64  `mapstructure:"songId"`
	URL     string `mapstructure:"URL"`
	Artwork struct {
		Default struct {
			URL string `mapstructure:"url"`
		} `mapstructure:"default"`
	} `mapstructure:"artwork-urls"`
	Sinfs []struct {
		Sinf []byte `mapstructure:"sinf"`
	} `mapstructure:"sinfs"`
	AssetInfo struct {
		FileSize int64 `mapstructure:"file-size"`
	} `mapstructure:"asset-info"`
	Metadata map[string]any `mapstructure:"metadata"`
}

type itemMetadata struct {
	BundleDisplayName                  string  `mapstructure:"bundleDisplayName"`
	SoftwareVersionBundleID            string  `mapstructure:"softwareVersionBundleId"`
	BundleShortVersionString           string  `mapstructure:"bundleShortVersionString"`
	BundleVersion                      string  `mapstructure:"bundleVersion"`
	SoftwareVersionExternalIdentifier  int64   `mapstructure:"softwareVersionExternalIdentifier"`
	SoftwareVersionExternalIdentifiers []int64 `mapstructure:"softwareVersionExternalIdentifiers"`
	Rating                             *struct {
		Label *string `mapstructure:"label"`
	} `mapstructure:"rating"`
}

func decode(input, output any, strict bool) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		WeaklyTypedInput: true,
		ErrorUnset:       strict,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// formatAppInfo flattens a validated download response. The structural
// fields must all be present; most metadata keys are optional.
func formatAppInfo(d *plist.Dict, appleID string) (*AppInfo, error) {
	var raw downloadResponse
	if err := decode(plist.ToNative(d), &raw, true); err != nil {
		return nil, fmt.Errorf("failed to parse app information: %w", err)
	}
	if len(raw.SongList) == 0 {
		return nil, fmt.Errorf("failed to parse app information: empty songList")
	}
	item := raw.SongList[0]
	if len(item.Sinfs) == 0 {
		return nil, fmt.Errorf("failed to parse app information: missing sinfs")
	}

	var meta itemMetadata
	if err := decode(item.Metadata, &meta, false); err != nil {
		return nil, fmt.Errorf("failed to parse app metadata: %w", err)
	}
	if meta.Rating == nil || meta.Rating.Label == nil {
		return nil, fmt.Errorf("failed to parse app metadata: missing rating label")
	}

	// re-encode from the ordered dict so the key order survives
	metadata, err := itemMetadataXML(d)
	if err != nil {
		return nil, err
	}

	return &AppInfo{
		AppID:                 item.SongID,
		Name:                  meta.BundleDisplayName,
		BundleID:              meta.SoftwareVersionBundleID,
		DisplayVersion:        meta.BundleShortVersionString,
		BuildVersion:          meta.BundleVersion,
		ExternalVersionID:     meta.SoftwareVersionExternalIdentifier,
		ExternalVersionIDList: meta.SoftwareVersionExternalIdentifiers,
		MinimumOSVersion:      strings.Replace(*meta.Rating.Label, "+", "", 1),
		URL:                   item.URL,
		Icon:                  item.Artwork.Default.URL,
		Sinf:                  item.Sinfs[0].Sinf,
		FileSize:              item.AssetInfo.FileSize,
		FileSizeHuman:         humanize.IBytes(uint64(max(item.AssetInfo.FileSize, 0))),
		Currency:              raw.Metrics.Currency,
		Metadata:              metadata,
		AppleID:               appleID,
	}, nil
}

func itemMetadataXML(d *plist.Dict) (string, error) {
	songs, _ := d.Get("songList")
	list, _ := songs.([]any)
	if len(list) == 0 {
		return "", fmt.Errorf("failed to parse app information: empty songList")
	}
	item, _ := list[0].(*plist.Dict)
	md, _ := item.Get("metadata")
	data, err := plist.Build(md, plist.BuildOptions{Format: plist.XMLFormat})
	if err != nil {
		return "", fmt.Errorf("failed to encode app metadata: %w", err)
	}
	return string(data), nil
}
