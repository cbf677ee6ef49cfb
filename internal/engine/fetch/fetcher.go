package fetch

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/blive-rec/blive/internal/engine/types"
)

// Kind selects one of the two fetcher variants.
type Kind int

const (
	// Continuous reads one long-lived HTTP response (FLV/TS).
	Continuous Kind = iota
	// Segmented polls an HLS playlist and downloads its segments.
	Segmented
)

func (k Kind) String() string {
	if k == Segmented {
		return "segmented"
	}
	return "continuous"
}

// KindFor picks the variant for a resolved session.
func KindFor(s types.StreamSession) Kind {
	if s.Protocol == types.ProtocolHTTPHLS {
		return Segmented
	}
	if s.Protocol == "" && len(s.URLs) > 0 && isPlaylistURL(s.URLs[0]) {
		return Segmented
	}
	return Continuous
}

func isPlaylistURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.Contains(raw, ".m3u8")
	}
	return strings.EqualFold(path.Ext(u.Path), ".m3u8")
}

// Stream is a lazy, ordered sequence of chunks from one Open call.
// Next returns io.EOF when upstream ended cleanly. A Stream is never resumed
// after an error; open a new one instead.
type Stream interface {
	Next(ctx context.Context) (types.Chunk, error)
	Close() error
}

// Fetcher opens streams for a session.
type Fetcher interface {
	Open(ctx context.Context, session types.StreamSession) (Stream, error)
}

// New returns the fetcher variant for kind.
func New(kind Kind, client *http.Client, runtime *types.RuntimeConfig) Fetcher {
	if kind == Segmented {
		return &SegmentedFetcher{Client: client, Runtime: runtime}
	}
	return &ContinuousFetcher{Client: client, Runtime: runtime}
}
