package appstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/ipastore/internal/metrics"
	"github.com/blacktop/ipastore/internal/store"
	"github.com/blacktop/ipastore/internal/transport"
	"github.com/blacktop/ipastore/pkg/plist"
)

const loginTimeout = 6 * time.Second

// Credentials are the sign in parameters. Code is the optional two-factor
// verification code.
type Credentials struct {
	AppleID  string `json:"appleId"`
	Password string `json:"password"`
	Code     string `json:"code,omitempty"`
}

// ResetResult describes a cleared session
type ResetResult struct {
	Success     bool     `json:"success"`
	Message     string   `json:"message"`
	ClearedKeys []string `json:"clearedKeys"`
}

// AuthService manages the cached store session
type AuthService struct {
	conf Config
	doer Doer
	kv   store.Store

	mu sync.Mutex
}

// Login returns a session for creds. A cached session for the same account
// and password is reused; a different account or password clears it first. A nil
// creds only validates and returns the cached session.
func (a *AuthService) Login(ctx context.Context, creds *Credentials) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cached, err := a.load(ctx)
	if err != nil {
		return nil, err
	}

	if creds != nil {
		switch {
		case cached == nil:
			return a.signIn(ctx, creds)
		case !strings.EqualFold(creds.AppleID, cached.AccountAppleID()),
			creds.Password != cached.Password:
			log.WithField("account", cached.AccountAppleID()).Debug("Credentials changed, discarding cached session")
			if err := a.kv.Remove(ctx, a.conf.LoginKey); err != nil {
				return nil, fmt.Errorf("failed to clear cached session: %w", err)
			}
			return a.signIn(ctx, creds)
		}
	}

	if cached == nil {
		return nil, &LoginError{Reason: "Not logged in, please log in first."}
	}
	if err := cached.validate(); err != nil {
		return nil, err
	}
	return cached, nil
}

// Session returns the validated cached session
func (a *AuthService) Session(ctx context.Context) (*Session, error) {
	return a.Login(ctx, nil)
}

// RefreshCookie signs in again with the cached credentials
func (a *AuthService) RefreshCookie(ctx context.Context) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cached, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	if cached == nil || cached.AccountInfo == nil || cached.AccountInfo.AppleID == "" || cached.Password == "" {
		return nil, &LoginError{Reason: "Not logged in. Failed to refresh Cookie, please log in again"}
	}
	log.WithField("account", cached.AccountInfo.AppleID).Debug("Refreshing cookie")
	return a.signIn(ctx, &Credentials{
		AppleID:  cached.AccountInfo.AppleID,
		Password: cached.Password,
	})
}

// Reset clears the cached session and the device GUID
func (a *AuthService) Reset(ctx context.Context) (*ResetResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	keys := []string{a.conf.LoginKey, a.conf.GUIDKey}
	for _, key := range keys {
		if err := a.kv.Remove(ctx, key); err != nil {
			return nil, fmt.Errorf("failed to clear %s: %w", key, err)
		}
	}
	return &ResetResult{
		Success:     true,
		Message:     "Reset successful! Login information and GUID cache have been cleared",
		ClearedKeys: keys,
	}, nil
}

func (a *AuthService) load(ctx context.Context) (*Session, error) {
	data, err := a.kv.Get(ctx, a.conf.LoginKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load cached session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		log.WithError(err).Warn("Discarding unreadable cached session")
		return nil, nil
	}
	return &sess, nil
}

func (a *AuthService) save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := a.kv.Set(ctx, a.conf.LoginKey, string(data)); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// signIn authenticates against the store and caches the new session
func (a *AuthService) signIn(ctx context.Context, creds *Credentials) (sess *Session, err error) {
	defer func() { metrics.RecordLogin(err == nil) }()

	guid, err := deviceGUID(ctx, a.kv, a.conf.GUIDKey)
	if err != nil {
		return nil, err
	}

	attempt := 4
	if creds.Code != "" {
		attempt = 2
	}

	body := plist.DictOf(
		"attempt", attempt,
		"createSession", "true",
		"guid", guid,
		"rmp", 0,
		"why", "signIn",
		"appleId", creds.AppleID,
		"password", creds.Password+creds.Code,
	)

	var (
		d    *plist.Dict
		resp *transport.Response
	)
	for try := 0; try < 2; try++ {
		d, resp, err = postPlist(ctx, a.doer, "Login", a.conf.Endpoints.Auth+"?guid="+guid, body, nil, loginTimeout)
		if err != nil {
			return nil, err
		}
		if d == nil {
			return nil, &LoginError{Reason: "Login failed: empty response"}
		}
		// the first sign in from a new GUID is sometimes rejected
		if ft, _ := lookup(d, "failureType"); ft != FailureTypeInvalidCredentials {
			break
		}
		log.Debug("Retrying login")
	}

	sess, err = newSession(d, resp, creds)
	if err != nil {
		return nil, err
	}
	if sess.CustomerMessage == ErrLoginRequires2fa {
		ft := ""
		if sess.FailureType != nil {
			ft = *sess.FailureType
		}
		return nil, &LoginError{
			Reason:          "Login failed: a two-factor verification code is required",
			FailureType:     ft,
			CustomerMessage: sess.CustomerMessage,
			Requires2FA:     true,
		}
	}
	if err := sess.validate(); err != nil {
		return nil, err
	}
	if err := a.save(ctx, sess); err != nil {
		return nil, err
	}
	log.WithField("account", sess.AccountAppleID()).Info("Logged in")
	return sess, nil
}
