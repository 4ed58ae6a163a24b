package utils

import (
	"net/http"
	"net/url"
	"time"
)

// HTTPDoer is the contract the transfer executor needs from the HTTP
// collaborator: issue a request with arbitrary headers and stream the
// response. Tests substitute their own implementation.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RekkuHTTPClient wraps net/http with the run's header set, user agent
// and proxy. Redirects and connection pooling stay with the transport.
type RekkuHTTPClient struct {
	client *http.Client
	config Config
}

func NewRekkuHTTPClient(cfg Config) *RekkuHTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Minute
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 90 * time.Second
	}
	transport := &http.Transport{
		IdleConnTimeout:     cfg.KATimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		DisableCompression:  true,
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err == nil {
			if cfg.ProxyUsername != "" {
				if cfg.ProxyPassword != "" {
					proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
				} else {
					proxyURL.User = url.User(cfg.ProxyUsername)
				}
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return &RekkuHTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		config: cfg,
	}
}

// Do applies the configured headers and user agent before sending. The
// same set is applied to every request for an item, probes included, so
// servers requiring auth to resume receive it there too.
func (r *RekkuHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if r.config.UserAgent != "" {
		req.Header.Set("User-Agent", r.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", ToolUserAgent)
	}
	for k, v := range r.config.Headers {
		req.Header.Set(k, v)
	}
	return r.client.Do(req)
}
