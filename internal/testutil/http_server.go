package testutil

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

// NewHTTPServerT starts an httptest server bound to IPv4 (sandboxed
// environments often lack an IPv6 listener) and skips the test if binding
// fails. Handlers that panic with http.ErrAbortHandler drop the connection
// without a log line.
func NewHTTPServerT(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("tcp4 listener unavailable: %v", err)
		return nil
	}

	srv := &httptest.Server{
		Listener: ln,
		Config: &http.Server{
			Handler: handler,
		},
	}
	srv.Start()
	return srv
}
