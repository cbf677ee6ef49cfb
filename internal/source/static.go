package source

import (
	"context"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/blive-rec/blive/internal/engine/types"
)

// Stream is one playable variant of a room.
type Stream struct {
	Quality   types.Quality
	Codec     types.Codec
	Container types.Container
	Protocol  types.Protocol
	URLs      []string // ranked candidates
}

// Guess builds a Stream from bare URLs, inferring protocol and container
// from the first URL's extension.
func Guess(quality types.Quality, urls ...string) Stream {
	s := Stream{Quality: quality, Protocol: types.ProtocolHTTPStream, Container: types.ContainerFLV, URLs: urls}
	if len(urls) == 0 {
		return s
	}
	p := urls[0]
	if u, err := url.Parse(urls[0]); err == nil {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".m3u8":
		s.Protocol = types.ProtocolHTTPHLS
		s.Container = types.ContainerTS
	case ".ts":
		s.Container = types.ContainerTS
	}
	return s
}

type entry struct {
	room    types.Room
	streams []Stream
}

// Static resolves rooms from a table filled by the caller. It is the
// resolver behind the CLI, where stream URLs are given on the command line.
type Static struct {
	// Strategy orders candidate protocols: LowCost tries the continuous
	// stream first, PriorityConfig tries HLS first.
	Strategy types.Strategy

	mu    sync.RWMutex
	rooms map[string]*entry
}

// NewStatic returns an empty resolver.
func NewStatic(strategy types.Strategy) *Static {
	return &Static{Strategy: strategy, rooms: make(map[string]*entry)}
}

// SetRoom adds or replaces a room and its streams.
func (s *Static) SetRoom(room types.Room, streams ...Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = &entry{room: room, streams: streams}
}

// SetLive flips the live flag of a known room.
func (s *Static) SetLive(roomID string, live bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rooms[roomID]
	if !ok {
		return types.ErrUnknownRoom
	}
	e.room.Live = live
	return nil
}

func (s *Static) RoomStatus(ctx context.Context, roomID string) (types.Room, error) {
	if err := ctx.Err(); err != nil {
		return types.Room{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.rooms[roomID]
	if !ok {
		return types.Room{}, types.ErrUnknownRoom
	}
	return e.room, nil
}

// PlaySession returns the first stream matching quality, codec and
// container, where zero values match anything. Candidates are ordered by
// the resolver strategy, otherwise by declaration order.
func (s *Static) PlaySession(ctx context.Context, roomID string, quality types.Quality, codec types.Codec, container types.Container) (types.StreamSession, error) {
	if err := ctx.Err(); err != nil {
		return types.StreamSession{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.rooms[roomID]
	if !ok {
		return types.StreamSession{}, types.ErrUnknownRoom
	}
	if !e.room.Live {
		return types.StreamSession{}, types.ErrRoomOffline
	}

	var matches []Stream
	for _, st := range e.streams {
		if len(st.URLs) == 0 {
			continue
		}
		if quality != types.QualityAny && st.Quality != quality {
			continue
		}
		if codec != types.CodecAny && st.Codec != codec {
			continue
		}
		if container != types.ContainerAny && st.Container != container {
			continue
		}
		matches = append(matches, st)
	}
	if len(matches) == 0 {
		return types.StreamSession{}, types.ErrNoMatchingPlay
	}

	preferred := types.ProtocolHTTPStream
	if s.Strategy == types.StrategyPriorityConfig {
		preferred = types.ProtocolHTTPHLS
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Protocol == preferred && matches[j].Protocol != preferred
	})

	best := matches[0]
	return types.StreamSession{
		RoomID:    roomID,
		Quality:   best.Quality,
		Codec:     best.Codec,
		Container: best.Container,
		Protocol:  best.Protocol,
		URLs:      append([]string(nil), best.URLs...),
	}, nil
}
