package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vfaronov/httpheader"
	"golang.org/x/net/proxy"

	"github.com/blive-rec/blive/internal/engine/types"
	"github.com/blive-rec/blive/internal/utils"
)

// NewClient builds the HTTP client shared by both fetchers. There is no
// overall timeout: continuous responses live for hours, and each operation
// bounds itself instead.
func NewClient(runtime *types.RuntimeConfig) *http.Client {
	dialer := &net.Dialer{
		Timeout:   types.DialTimeout,
		KeepAlive: types.KeepAliveDuration,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          types.DefaultMaxIdleConns,
		IdleConnTimeout:       types.DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   types.DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: types.DefaultResponseHeaderTimeout,
		ExpectContinueTimeout: types.DefaultExpectContinueTimeout,
		ForceAttemptHTTP2:     true,
	}

	if runtime != nil && runtime.ProxyURL != "" {
		parsedURL, err := url.Parse(runtime.ProxyURL)
		if err != nil {
			utils.Debug("Fetch client: Invalid proxy URL %s: %v", runtime.ProxyURL, err)
			transport.Proxy = http.ProxyFromEnvironment
		} else if strings.HasPrefix(parsedURL.Scheme, "socks5") {
			utils.Debug("Fetch client: Using SOCKS5 proxy: %s", parsedURL.Host)
			var auth *proxy.Auth
			if parsedURL.User != nil {
				pass, _ := parsedURL.User.Password()
				auth = &proxy.Auth{User: parsedURL.User.Username(), Password: pass}
			}
			socks, dialErr := proxy.SOCKS5("tcp", parsedURL.Host, auth, dialer)
			if dialErr != nil {
				utils.Debug("Fetch client: Failed to create SOCKS5 dialer: %v", dialErr)
				transport.Proxy = http.ProxyFromEnvironment
			} else if cd, ok := socks.(proxy.ContextDialer); ok {
				transport.DialContext = cd.DialContext
			} else {
				transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
					return socks.Dial(network, addr)
				}
			}
		} else {
			transport.Proxy = http.ProxyURL(parsedURL)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	if runtime != nil && runtime.SkipTLSVerification {
		utils.Debug("Fetch client: TLS verification disabled")
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	return &http.Client{
		Timeout:   0,
		Transport: transport,
	}
}

func newRequest(ctx context.Context, rawurl string, runtime *types.RuntimeConfig) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", runtime.GetUserAgent())
	if ref := runtime.GetReferer(); ref != "" {
		req.Header.Set("Referer", ref)
	}
	return req, nil
}

// StatusError is a non-2xx upstream response.
type StatusError struct {
	URL        string
	StatusCode int
	RetryAfter time.Duration // zero when the server gave no hint
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s", e.StatusCode, e.URL)
}

func newStatusError(rawurl string, resp *http.Response) *StatusError {
	se := &StatusError{URL: rawurl, StatusCode: resp.StatusCode}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if at := httpheader.RetryAfter(resp.Header); !at.IsZero() {
			delay := time.Until(at)
			if delay > types.MaxRetryAfter {
				delay = types.MaxRetryAfter
			}
			if delay > 0 {
				se.RetryAfter = delay
			}
		}
	}
	return se
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// sleepCtx waits d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
