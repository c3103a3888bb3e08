package gemini

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// ProxyConfig routes outbound traffic. URL is a single proxy for all schemes
// (http, https, or socks5); PerScheme maps a request scheme to its own proxy
// URL. When both are set, PerScheme wins for matching schemes.
type ProxyConfig struct {
	URL       string
	PerScheme map[string]string
}

func (p ProxyConfig) empty() bool { return p.URL == "" && len(p.PerScheme) == 0 }

type httpOptions struct {
	Proxy           ProxyConfig
	Insecure        bool
	FollowRedirects bool
	Timeout         time.Duration
}

// newHTTPClient builds an http.Client with proxy, TLS, and redirect behavior
// shared by every outbound call.
func newHTTPClient(opts httpOptions) *http.Client {
	transport := &http.Transport{}
	configureProxy(transport, opts.Proxy)
	if opts.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	jar, _ := cookiejar.New(nil)
	client := &http.Client{Transport: transport, Timeout: timeout, Jar: jar}
	if !opts.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

// configureProxy wires HTTP, HTTPS, and SOCKS5 proxies into the transport.
func configureProxy(transport *http.Transport, cfg ProxyConfig) {
	if cfg.empty() {
		return
	}
	if cfg.URL != "" && len(cfg.PerScheme) == 0 {
		proxyURL, err := url.Parse(cfg.URL)
		if err != nil {
			log.Errorf("invalid proxy url %q: %v", cfg.URL, err)
			return
		}
		if proxyURL.Scheme == "socks5" {
			username := proxyURL.User.Username()
			password, _ := proxyURL.User.Password()
			var auth *proxy.Auth
			if username != "" {
				auth = &proxy.Auth{User: username, Password: password}
			}
			dialer, errSOCKS5 := proxy.SOCKS5("tcp", proxyURL.Host, auth, proxy.Direct)
			if errSOCKS5 != nil {
				log.Errorf("create SOCKS5 dialer failed: %v", errSOCKS5)
				return
			}
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
			return
		}
		transport.Proxy = http.ProxyURL(proxyURL)
		return
	}
	perScheme := make(map[string]*url.URL, len(cfg.PerScheme))
	for scheme, raw := range cfg.PerScheme {
		pu, err := url.Parse(raw)
		if err != nil {
			log.Errorf("invalid proxy url %q for scheme %s: %v", raw, scheme, err)
			continue
		}
		perScheme[strings.ToLower(scheme)] = pu
	}
	var fallback *url.URL
	if cfg.URL != "" {
		fallback, _ = url.Parse(cfg.URL)
	}
	transport.Proxy = func(req *http.Request) (*url.URL, error) {
		if pu, ok := perScheme[strings.ToLower(req.URL.Scheme)]; ok {
			return pu, nil
		}
		return fallback, nil
	}
}

func applyHeaders(req *http.Request, headers http.Header) {
	for k, v := range headers {
		for _, vv := range v {
			req.Header.Add(k, vv)
		}
	}
}

func applyCookies(req *http.Request, cookies map[string]string) {
	for k, v := range cookies {
		req.AddCookie(&http.Cookie{Name: k, Value: v})
	}
}

// buildCookieHeader renders cookies as a raw Cookie header value with stable
// ordering, for requests that must carry them across cross-domain redirects.
func buildCookieHeader(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, m[k]))
	}
	return strings.Join(parts, "; ")
}
