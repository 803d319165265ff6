package store

import (
	"context"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"
)

var validKey = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Local stores one file per key inside Folder
type Local struct {
	Folder string
}

// NewLocal creates the folder if needed
func NewLocal(folder string) (*Local, error) {
	if folder == "" {
		return nil, errors.New("'path' is required")
	}
	if err := os.MkdirAll(folder, 0o750); err != nil {
		return nil, errors.Wrapf(err, "failed to create store folder %s", folder)
	}
	return &Local{Folder: folder}, nil
}

func (l *Local) path(key string) (string, error) {
	if !validKey.MatchString(key) {
		return "", errors.Errorf("invalid key %q", key)
	}
	return filepath.Join(l.Folder, key), nil
}

func (l *Local) Get(_ context.Context, key string) (string, error) {
	p, err := l.path(key)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", errors.Wrapf(err, "failed to read %s", key)
	}
	return string(data), nil
}

// Set writes through a temp file so readers never see a partial value
func (l *Local) Set(_ context.Context, key, value string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(l.Folder, "."+key+".*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to write %s", key)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to write %s", key)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return errors.Wrapf(err, "failed to write %s", key)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), p), "failed to write %s", key)
}

func (l *Local) Remove(_ context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove %s", key)
	}
	return nil
}

func (l *Local) Close() error { return nil }
