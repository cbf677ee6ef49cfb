// Package testutil provides testing utilities for the blive recorder.
package testutil

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// FLVHeader is a minimal FLV file header (audio+video) followed by PreviousTagSize0.
var FLVHeader = []byte{'F', 'L', 'V', 0x01, 0x05, 0x00, 0x00, 0x00, 0x09, 0x00, 0x00, 0x00, 0x00}

// StreamResponse scripts one request to a MockServer.
type StreamResponse struct {
	Status     int    // 0 means 200
	RetryAfter string // Retry-After header for error statuses
	Data       []byte // nil means the server payload
	Abort      bool   // drop the connection after Data instead of ending the body
	Hold       bool   // keep the connection open after Data until the client leaves
}

// MockServer is a configurable HTTP test server that serves a continuous
// live stream (FLV/TS over one long response).
type MockServer struct {
	Server *httptest.Server

	// Configuration
	ChunkSize        int           // Bytes written per flush
	ChunkDelay       time.Duration // Delay after each flush
	Latency          time.Duration // Artificial latency before the response headers
	FailAfterBytes   int64         // Abort the connection after this many bytes (0 = no fail)
	FailOnNthRequest int           // Answer the Nth request with 500 (0 = don't fail)
	ContentType      string
	Responses        []StreamResponse // per-request script, the last entry repeats

	// Tracking
	RequestCount   atomic.Int64
	BytesServed    atomic.Int64
	ActiveRequests atomic.Int64
	FailedRequests atomic.Int64
	UserAgents     sync.Map // request number -> User-Agent
	Referers       sync.Map // request number -> Referer

	// Internal
	data          []byte
	done          chan struct{}
	closeOnce     sync.Once
	CustomHandler http.HandlerFunc
}

// MockServerOption is a function that configures a MockServer.
type MockServerOption func(*MockServer)

// WithHandler sets a custom request handler.
func WithHandler(h http.HandlerFunc) MockServerOption {
	return func(m *MockServer) {
		m.CustomHandler = h
	}
}

// WithPayload sets the bytes served for each request.
func WithPayload(data []byte) MockServerOption {
	return func(m *MockServer) {
		m.data = data
	}
}

// WithFLVPayload serves an FLV header followed by random bytes, size in total.
func WithFLVPayload(size int) MockServerOption {
	return func(m *MockServer) {
		m.data = FLVPayload(size)
	}
}

// WithChunkSize sets the number of bytes written per flush.
func WithChunkSize(n int) MockServerOption {
	return func(m *MockServer) {
		m.ChunkSize = n
	}
}

// WithChunkDelay pauses after each flushed chunk.
func WithChunkDelay(d time.Duration) MockServerOption {
	return func(m *MockServer) {
		m.ChunkDelay = d
	}
}

// WithLatency adds artificial latency per request.
func WithLatency(d time.Duration) MockServerOption {
	return func(m *MockServer) {
		m.Latency = d
	}
}

// WithFailAfterBytes drops the connection after serving N bytes.
func WithFailAfterBytes(n int64) MockServerOption {
	return func(m *MockServer) {
		m.FailAfterBytes = n
	}
}

// WithFailOnNthRequest causes the Nth request to fail.
func WithFailOnNthRequest(n int) MockServerOption {
	return func(m *MockServer) {
		m.FailOnNthRequest = n
	}
}

// WithContentType sets the Content-Type header.
func WithContentType(ct string) MockServerOption {
	return func(m *MockServer) {
		m.ContentType = ct
	}
}

// WithResponses scripts successive requests.
func WithResponses(rs ...StreamResponse) MockServerOption {
	return func(m *MockServer) {
		m.Responses = rs
	}
}

// FLVPayload returns size bytes starting with FLVHeader.
func FLVPayload(size int) []byte {
	if size < len(FLVHeader) {
		size = len(FLVHeader)
	}
	data := make([]byte, size)
	copy(data, FLVHeader)
	_, _ = rand.Read(data[len(FLVHeader):])
	return data
}

// NewMockServerT creates a new mock stream server and skips the test if binding fails.
// The server is closed when the test ends.
func NewMockServerT(t *testing.T, opts ...MockServerOption) *MockServer {
	t.Helper()
	m := &MockServer{
		ChunkSize:   32 * 1024,
		ContentType: "video/x-flv",
		done:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}
	if m.data == nil {
		m.data = FLVPayload(256 * 1024)
	}

	m.Server = NewHTTPServerT(t, http.HandlerFunc(m.handleRequest))
	t.Cleanup(m.Close)
	return m
}

// URL returns the stream URL.
func (m *MockServer) URL() string {
	return m.Server.URL + "/live/stream.flv"
}

// Payload returns the bytes served per request.
func (m *MockServer) Payload() []byte {
	return m.data
}

// Close releases held connections and shuts down the server.
func (m *MockServer) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		if m.Server != nil {
			m.Server.Close()
		}
	})
}

// Stats returns a summary of server statistics.
func (m *MockServer) Stats() MockServerStats {
	return MockServerStats{
		TotalRequests:  m.RequestCount.Load(),
		BytesServed:    m.BytesServed.Load(),
		FailedRequests: m.FailedRequests.Load(),
	}
}

// MockServerStats contains server statistics.
type MockServerStats struct {
	TotalRequests  int64
	BytesServed    int64
	FailedRequests int64
}

func (m *MockServer) script(reqNum int) StreamResponse {
	if len(m.Responses) == 0 {
		return StreamResponse{}
	}
	if reqNum > len(m.Responses) {
		return m.Responses[len(m.Responses)-1]
	}
	return m.Responses[reqNum-1]
}

func (m *MockServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	if m.CustomHandler != nil {
		m.CustomHandler(w, r)
		return
	}

	reqNum := int(m.RequestCount.Add(1))
	m.ActiveRequests.Add(1)
	defer m.ActiveRequests.Add(-1)

	m.UserAgents.Store(reqNum, r.Header.Get("User-Agent"))
	m.Referers.Store(reqNum, r.Header.Get("Referer"))

	if m.FailOnNthRequest > 0 && reqNum == m.FailOnNthRequest {
		m.FailedRequests.Add(1)
		http.Error(w, "Simulated failure", http.StatusInternalServerError)
		return
	}

	if m.Latency > 0 {
		time.Sleep(m.Latency)
	}

	resp := m.script(reqNum)
	if resp.Status != 0 && resp.Status != http.StatusOK {
		m.FailedRequests.Add(1)
		if resp.RetryAfter != "" {
			w.Header().Set("Retry-After", resp.RetryAfter)
		}
		http.Error(w, "Scripted failure", resp.Status)
		return
	}

	data := resp.Data
	if data == nil {
		data = m.data
	}
	abortAt := int64(-1)
	if resp.Abort {
		abortAt = int64(len(data))
	}
	if m.FailAfterBytes > 0 && (abortAt < 0 || m.FailAfterBytes < abortAt) {
		abortAt = m.FailAfterBytes
	}

	w.Header().Set("Content-Type", m.ContentType)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	chunk := m.ChunkSize
	if chunk <= 0 {
		chunk = len(data)
	}

	var written int64
	for written < int64(len(data)) {
		if abortAt >= 0 && written >= abortAt {
			break
		}
		end := written + int64(chunk)
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		if abortAt >= 0 && end > abortAt {
			end = abortAt
		}
		n, err := w.Write(data[written:end])
		if err != nil {
			return // Client disconnected
		}
		written += int64(n)
		m.BytesServed.Add(int64(n))
		if flusher != nil {
			flusher.Flush()
		}
		if m.ChunkDelay > 0 {
			select {
			case <-time.After(m.ChunkDelay):
			case <-r.Context().Done():
				return
			case <-m.done:
				return
			}
		}
	}

	if abortAt >= 0 {
		m.FailedRequests.Add(1)
		// Abruptly drop the connection; the client sees an unexpected EOF.
		panic(http.ErrAbortHandler)
	}

	if resp.Hold {
		select {
		case <-r.Context().Done():
		case <-m.done:
		}
	}
}

// =============================================================================
// HLS
// =============================================================================

// HLSSegment describes one entry of a generated media playlist.
type HLSSegment struct {
	URI           string
	Duration      float64
	Discontinuity bool
}

// MediaPlaylist renders a live media playlist. initURI adds an EXT-X-MAP.
func MediaPlaylist(mediaSeq uint64, segments []HLSSegment, initURI string, ended bool) string {
	b := fmt.Sprintf("#EXTM3U\n#EXT-X-VERSION:7\n#EXT-X-TARGETDURATION:1\n#EXT-X-MEDIA-SEQUENCE:%d\n", mediaSeq)
	if initURI != "" {
		b += fmt.Sprintf("#EXT-X-MAP:URI=\"%s\"\n", initURI)
	}
	for _, s := range segments {
		if s.Discontinuity {
			b += "#EXT-X-DISCONTINUITY\n"
		}
		d := s.Duration
		if d == 0 {
			d = 1
		}
		b += "#EXTINF:" + strconv.FormatFloat(d, 'f', 3, 64) + ",\n" + s.URI + "\n"
	}
	if ended {
		b += "#EXT-X-ENDLIST\n"
	}
	return b
}

type segmentFailure struct {
	remaining  int
	status     int
	retryAfter string
}

// HLSServer serves scripted playlist polls and media segments.
type HLSServer struct {
	Server *httptest.Server

	mu        sync.Mutex
	master    string
	playlists []string
	polls     int
	segments  map[string][]byte
	failures  map[string]*segmentFailure
	requests  map[string]int
	failPolls map[int]int // poll number -> status
}

// NewHLSServerT starts an HLS server and skips the test if binding fails.
func NewHLSServerT(t *testing.T) *HLSServer {
	t.Helper()
	h := &HLSServer{
		segments:  make(map[string][]byte),
		failures:  make(map[string]*segmentFailure),
		requests:  make(map[string]int),
		failPolls: make(map[int]int),
	}
	h.Server = NewHTTPServerT(t, http.HandlerFunc(h.handle))
	t.Cleanup(h.Server.Close)
	return h
}

// PlaylistURL is the media playlist URL.
func (h *HLSServer) PlaylistURL() string { return h.Server.URL + "/live/index.m3u8" }

// MasterURL is the master playlist URL, valid after SetMaster.
func (h *HLSServer) MasterURL() string { return h.Server.URL + "/live/master.m3u8" }

// SetPlaylists sets the successive media playlist responses; the last repeats.
func (h *HLSServer) SetPlaylists(pls ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playlists = pls
	h.polls = 0
}

// SetMaster serves body as the master playlist.
func (h *HLSServer) SetMaster(body string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.master = body
}

// AddSegment registers the body served for /live/<name>.
func (h *HLSServer) AddSegment(name string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.segments[name] = data
}

// FailSegment answers the next times requests for name with status.
func (h *HLSServer) FailSegment(name string, times, status int, retryAfter string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures[name] = &segmentFailure{remaining: times, status: status, retryAfter: retryAfter}
}

// FailPoll answers media playlist poll n (1-based) with status.
func (h *HLSServer) FailPoll(n, status int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failPolls[n] = status
}

// Requests returns how often /live/<name> was requested.
func (h *HLSServer) Requests(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.requests[name]
}

// Polls returns the number of media playlist requests.
func (h *HLSServer) Polls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.polls
}

func (h *HLSServer) handle(w http.ResponseWriter, r *http.Request) {
	const prefix = "/live/"
	if len(r.URL.Path) <= len(prefix) || r.URL.Path[:len(prefix)] != prefix {
		http.NotFound(w, r)
		return
	}
	name := r.URL.Path[len(prefix):]

	h.mu.Lock()
	h.requests[name]++

	switch name {
	case "master.m3u8":
		body := h.master
		h.mu.Unlock()
		if body == "" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = w.Write([]byte(body))
		return

	case "index.m3u8":
		h.polls++
		poll := h.polls
		if status, ok := h.failPolls[poll]; ok {
			h.mu.Unlock()
			http.Error(w, "Scripted playlist failure", status)
			return
		}
		if len(h.playlists) == 0 {
			h.mu.Unlock()
			http.NotFound(w, r)
			return
		}
		idx := poll - 1
		if idx >= len(h.playlists) {
			idx = len(h.playlists) - 1
		}
		body := h.playlists[idx]
		h.mu.Unlock()
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = w.Write([]byte(body))
		return
	}

	if f, ok := h.failures[name]; ok && f.remaining > 0 {
		f.remaining--
		h.mu.Unlock()
		if f.retryAfter != "" {
			w.Header().Set("Retry-After", f.retryAfter)
		}
		http.Error(w, "Scripted segment failure", f.status)
		return
	}
	data, ok := h.segments[name]
	h.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}
