package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/apex/log"
	"golang.org/x/net/http/httpproxy"
)

var proxyEnvVars = [...]string{
	"HTTPS_PROXY",
	"https_proxy",
	"HTTP_PROXY",
	"http_proxy",
	"ALL_PROXY",
	"all_proxy",
}

// GetProxy returns the proxy selector for an explicit proxy URL, falling back
// to the environment
func GetProxy(proxy string) func(*http.Request) (*url.URL, error) {
	if len(proxy) > 0 {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			log.WithError(err).Error("bad proxy url")
			return http.ProxyFromEnvironment
		}
		log.Debugf("proxy set to: %s", proxyURL)

		return http.ProxyURL(proxyURL)
	}

	conf := httpproxy.FromEnvironment()
	if len(conf.HTTPProxy) > 0 || len(conf.HTTPSProxy) > 0 {
		log.WithFields(log.Fields{
			"http_proxy":  conf.HTTPProxy,
			"https_proxy": conf.HTTPSProxy,
			"no_proxy":    conf.NoProxy,
		}).Debugf("proxy info from environment")
	}

	return http.ProxyFromEnvironment
}

func newAppleHTTPTransport(proxy string, insecure bool, caFile string) (*http.Transport, error) {
	transport := &http.Transport{
		Proxy: GetProxy(proxy),
	}

	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		return transport, nil
	}

	certPool, err := x509.SystemCertPool()
	if err != nil {
		if caFile == "" && hasConfiguredProxy(proxy) {
			log.WithError(err).Warn("failed to load system cert pool with proxy configured; using platform/default TLS trust")
			transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			return transport, nil
		}
		log.WithError(err).Warn("failed to load system cert pool")
		certPool = x509.NewCertPool()
	} else if certPool == nil {
		certPool = x509.NewCertPool()
	}

	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %s: %w", caFile, err)
		}
		if !certPool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in CA file %s", caFile)
		}
	}

	transport.TLSClientConfig = &tls.Config{
		RootCAs:    certPool,
		MinVersion: tls.VersionTLS12,
	}

	return transport, nil
}

func hasConfiguredProxy(proxy string) bool {
	if strings.TrimSpace(proxy) != "" {
		return true
	}

	for _, key := range proxyEnvVars {
		if strings.TrimSpace(os.Getenv(key)) != "" {
			return true
		}
	}

	return false
}
