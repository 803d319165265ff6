package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoPostsBodyAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "application/x-apple-plist", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "payload", string(body))

		http.SetCookie(w, &http.Cookie{Name: "mz_at0", Value: "abc"})
		http.SetCookie(w, &http.Cookie{Name: "itspod", Value: "25"})
		w.Header().Set("x-set-apple-store-front", "143465-19,29")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := newClient(Config{}, http.DefaultTransport)
	resp, err := c.Do(context.Background(), &Request{
		URL:     srv.URL,
		Method:  http.MethodPost,
		Headers: map[string]string{"Content-Type": "application/x-apple-plist"},
		Body:    []byte("payload"),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "ok", string(resp.Body))
	assert.Equal(t, "143465-19,29", resp.Headers.Get("X-Set-Apple-Store-Front"))

	cookies := resp.Cookies()
	require.Len(t, cookies, 2)
	assert.Equal(t, "mz_at0", cookies[0].Name)
	assert.Equal(t, "25", cookies[1].Value)
}

func TestDoStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("denied"))
	}))
	defer srv.Close()

	c := newClient(Config{}, http.DefaultTransport)
	resp, err := c.Do(context.Background(), &Request{URL: srv.URL})
	require.Error(t, err)

	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusForbidden, serr.Response.Status)
	assert.Equal(t, "denied", string(resp.Body))

	var terr *TransportError
	assert.False(t, errors.As(err, &terr))
}

func TestDoTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := newClient(Config{}, http.DefaultTransport)
	_, err := c.Do(context.Background(), &Request{URL: srv.URL, Timeout: 20 * time.Millisecond})
	require.Error(t, err)

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "TransportError", terr.Name())

	var serr *StatusError
	assert.False(t, errors.As(err, &serr))
}

func TestDoRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := newClient(Config{RateLimit: 0.001}, http.DefaultTransport)
	_, err := c.Do(context.Background(), &Request{URL: srv.URL})
	require.NoError(t, err)

	// the second call would have to wait far beyond the deadline
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Do(ctx, &Request{URL: srv.URL})
	var terr *TransportError
	assert.True(t, errors.As(err, &terr))
}

func TestNewClientCAFile(t *testing.T) {
	_, err := NewClient(Config{CAFile: filepath.Join(t.TempDir(), "missing.pem")})
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a cert"), 0o600))
	_, err = NewClient(Config{CAFile: bad})
	assert.Error(t, err)

	c, err := NewClient(Config{Insecure: true, Proxy: "http://127.0.0.1:3128"})
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestGetProxy(t *testing.T) {
	proxy := GetProxy("http://127.0.0.1:3128")
	req, _ := http.NewRequest(http.MethodGet, "https://itunes.apple.com", nil)
	u, err := proxy(req)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:3128", u.Host)
}
