package store

import (
	"context"

	"github.com/99designs/keyring"
	"github.com/pkg/errors"
)

const (
	// KeychainServiceName is the service the items are filed under
	KeychainServiceName = "ipastore"
	// AppName labels the keychain items
	AppName = "io.blacktop.ipastore"
)

// Keyring stores values in the OS credential vault (macOS keychain, secret
// service, wincred) with an encrypted file fallback in folder
type Keyring struct {
	vault keyring.Keyring
}

// NewKeyring opens the credential vault
func NewKeyring(folder, password string, prompt func(string) (string, error)) (*Keyring, error) {
	vault, err := keyring.Open(keyring.Config{
		ServiceName:                    KeychainServiceName,
		KeychainSynchronizable:         false,
		KeychainAccessibleWhenUnlocked: true,
		KeychainTrustApplication:       true,
		FileDir:                        folder,
		FilePasswordFunc: func(msg string) (string, error) {
			if password != "" {
				return password, nil
			}
			if prompt == nil {
				return "", errors.New("a password is required to unlock the credentials vault")
			}
			return prompt(msg)
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open vault")
	}
	return &Keyring{vault: vault}, nil
}

func (k *Keyring) Get(_ context.Context, key string) (string, error) {
	item, err := k.vault.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", ErrNotFound
		}
		return "", errors.Wrapf(err, "failed to get %s from vault", key)
	}
	return string(item.Data), nil
}

func (k *Keyring) Set(_ context.Context, key, value string) error {
	return errors.Wrapf(k.vault.Set(keyring.Item{
		Key:         key,
		Data:        []byte(value),
		Label:       AppName,
		Description: "ipastore " + key,
	}), "failed to save %s to vault", key)
}

func (k *Keyring) Remove(_ context.Context, key string) error {
	if err := k.vault.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return errors.Wrapf(err, "failed to remove %s from vault", key)
	}
	return nil
}

func (k *Keyring) Close() error { return nil }
