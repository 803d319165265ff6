package appstore

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/blacktop/ipastore/internal/transport"
	"github.com/blacktop/ipastore/pkg/plist"
)

// AccountInfo is the account section of a login response
type AccountInfo struct {
	AppleID   string `json:"appleId"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// Session is a cached login
type Session struct {
	AppleID string `json:"appleId"`
	// Password is the plain password the session was created with; it is
	// needed to refresh the cookie without asking again
	Password        string          `json:"password,omitempty"`
	Cookie          string          `json:"cookie"`
	StoreFront      string          `json:"storeFront"`
	DSPersonID      string          `json:"dsPersonId"`
	PasswordToken   string          `json:"passwordToken"`
	AccountInfo     *AccountInfo    `json:"accountInfo,omitempty"`
	CustomerMessage string          `json:"customerMessage,omitempty"`
	FailureType     *string         `json:"failureType,omitempty"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}

// AccountAppleID is the Apple ID the store reported for the session
func (s *Session) AccountAppleID() string {
	if s.AccountInfo != nil && s.AccountInfo.AppleID != "" {
		return s.AccountInfo.AppleID
	}
	return s.AppleID
}

// headers are the authentication headers of download requests
func (s *Session) headers() map[string]string {
	return map[string]string{
		"Cookie":      s.Cookie,
		"X-Dsid":      s.DSPersonID,
		"iCloud-DSID": s.DSPersonID,
	}
}

// validate checks that a cached session is usable
func (s *Session) validate() error {
	if s.AccountInfo == nil && s.CustomerMessage == "" {
		return &LoginError{Reason: "Cache data is invalid, please log in again."}
	}
	if s.FailureType != nil {
		return &LoginError{
			Reason:          "Login failed",
			FailureType:     *s.FailureType,
			CustomerMessage: s.CustomerMessage,
		}
	}
	return nil
}

// newSession builds a session from a login response
func newSession(d *plist.Dict, resp *transport.Response, creds *Credentials) (*Session, error) {
	sess := &Session{
		AppleID:    creds.AppleID,
		Password:   creds.Password,
		Cookie:     cookieHeader(resp),
		StoreFront: storeFront(resp),
	}
	sess.DSPersonID, _ = lookup(d, "dsPersonId")
	sess.PasswordToken, _ = lookup(d, "passwordToken")
	sess.CustomerMessage, _ = lookup(d, "customerMessage")
	if ft, ok := lookup(d, "failureType"); ok {
		sess.FailureType = &ft
	}
	if v, ok := d.Get("accountInfo"); ok {
		if info, ok := v.(*plist.Dict); ok {
			sess.AccountInfo = &AccountInfo{}
			sess.AccountInfo.AppleID, _ = lookup(info, "appleId")
			if addr, ok := info.Get("address"); ok {
				if addr, ok := addr.(*plist.Dict); ok {
					sess.AccountInfo.FirstName, _ = lookup(addr, "firstName")
					sess.AccountInfo.LastName, _ = lookup(addr, "lastName")
				}
			}
		}
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode login response: %w", err)
	}
	sess.Raw = raw
	return sess, nil
}

// cookieHeader joins the Set-Cookie name=value pairs into a Cookie header
func cookieHeader(resp *transport.Response) string {
	if resp == nil {
		return ""
	}
	var pairs []string
	for _, c := range resp.Cookies() {
		pairs = append(pairs, (&http.Cookie{Name: c.Name, Value: c.Value}).String())
	}
	if len(pairs) == 0 {
		return strings.Join(resp.Headers.Values("Set-Cookie"), "; ")
	}
	return strings.Join(pairs, "; ")
}

// storeFront is the storefront id from e.g. "143465-19,29"
func storeFront(resp *transport.Response) string {
	if resp == nil {
		return ""
	}
	sf, _, _ := strings.Cut(resp.Headers.Get("X-Set-Apple-Store-Front"), "-")
	return sf
}
