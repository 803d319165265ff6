package appstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/blacktop/ipastore/internal/store"
)

// deviceGUID returns the 12 hex digit device identifier, generating and
// caching it on first use
func deviceGUID(ctx context.Context, kv store.Store, key string) (string, error) {
	guid, err := kv.Get(ctx, key)
	if err == nil && guid != "" {
		return guid, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("failed to load device guid: %w", err)
	}

	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate device guid: %w", err)
	}
	guid = strings.ToUpper(hex.EncodeToString(b))
	if err := kv.Set(ctx, key, guid); err != nil {
		return "", fmt.Errorf("failed to save device guid: %w", err)
	}
	return guid, nil
}
