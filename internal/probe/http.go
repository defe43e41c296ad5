package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tcnksm/go-httpstat"

	"github.com/hamed0406/loadprobe/internal/config"
)

// HTTPProbe issues one GET per attempt through a client and transport that
// belong to this probe alone, so connection reuse never crosses workers.
type HTTPProbe struct {
	URL       string
	Client    *http.Client
	Transport *http.Transport
}

func NewHTTPProbe(cfg config.Config) (*HTTPProbe, error) {
	target, err := parseHTTPURL(cfg.URL)
	if err != nil {
		return nil, &config.Error{Option: "url", Err: err}
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		IdleConnTimeout:     cfg.PoolIdleTimeout,
		MaxIdleConnsPerHost: cfg.PoolMaxIdlePerHost,
		DisableKeepAlives:   cfg.PoolMaxIdlePerHost == 0,
		ForceAttemptHTTP2:   true,
	}
	return &HTTPProbe{
		URL:       target,
		Transport: tr,
		Client:    &http.Client{Transport: tr, Timeout: cfg.Timeout},
	}, nil
}

// Attempt succeeds whenever a full response is exchanged, whatever its status:
// only transport, protocol and timeout failures count as errors.
func (h *HTTPProbe) Attempt(ctx context.Context) (Result, error) {
	start := time.Now()

	var stat httpstat.Result
	req, err := http.NewRequestWithContext(httpstat.WithHTTPStat(ctx, &stat), http.MethodGet, h.URL, nil)
	if err != nil {
		return Result{}, fail("http_get", start, err)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{}, fail("http_get", start, err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return Result{}, fail("http_read", start, err)
	}
	stat.End(time.Now())

	return Result{
		StatusCode:       resp.StatusCode,
		Latency:          time.Since(start),
		Connect:          stat.TCPConnection,
		TLSHandshake:     stat.TLSHandshake,
		ServerProcessing: stat.ServerProcessing,
	}, nil
}

func (h *HTTPProbe) Close() error {
	h.Transport.CloseIdleConnections()
	return nil
}

func parseHTTPURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("target URL is required")
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", raw)
	}
	return u.String(), nil
}
