package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/grafov/m3u8"

	"github.com/blive-rec/blive/internal/engine/types"
	"github.com/blive-rec/blive/internal/utils"
)

// maxManifestSize bounds a playlist body.
const maxManifestSize = 4 * types.MB

var errStalled = errors.New("playlist produced no new segments")

// SegmentedFetcher records an HLS stream by polling its media playlist.
type SegmentedFetcher struct {
	Client  *http.Client
	Runtime *types.RuntimeConfig
}

// Open fetches the playlist from the first candidate that serves a valid
// one. A master playlist is followed to its highest-bandwidth variant.
// A resuming session skips segments up to session.LastMediaSeq unless the
// whole playlist lies below it, which means the sequence was restarted.
func (f *SegmentedFetcher) Open(ctx context.Context, session types.StreamSession) (Stream, error) {
	if err := session.Validate(); err != nil {
		return nil, types.NewError(types.KindAPI, "open playlist", err)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	var lastErr error
	for i, raw := range session.URLs {
		s := &segmentedStream{
			client:   client,
			runtime:  f.Runtime,
			roomID:   session.RoomID,
			seenMaps: make(map[string]bool),
		}
		pl, err := s.resolve(ctx, raw)
		if err == nil {
			s.resumeAfter(session, pl)
			_, err = s.enqueue(pl)
		}
		if err == nil {
			s.lastPoll = time.Now()
			if pl.Closed {
				s.ended = true
			}
			if i > 0 {
				utils.Debug("Segmented: room %s using candidate %d/%d", session.RoomID, i+1, len(session.URLs))
			}
			return s, nil
		}
		if ctx.Err() != nil {
			return nil, types.NewError(types.KindCancelled, "fetch playlist", ctx.Err())
		}
		utils.Debug("Segmented: candidate %d/%d failed: %v", i+1, len(session.URLs), err)
		lastErr = err
	}
	return nil, lastErr
}

type queuedItem struct {
	uri           string
	mediaSeq      uint64
	init          bool
	discontinuity bool
}

type segmentedStream struct {
	client  *http.Client
	runtime *types.RuntimeConfig
	roomID  string

	playlistURL *url.URL
	queue       []queuedItem

	// high-water mark of media sequence numbers already queued
	hwm    uint64
	hasHWM bool

	seenMaps  map[string]bool
	lastPoll  time.Time
	emptyPoll int
	ended     bool
	seq       uint64
}

// resolve fetches raw and, for a master playlist, the chosen variant.
func (s *segmentedStream) resolve(ctx context.Context, raw string) (*m3u8.MediaPlaylist, error) {
	base, err := url.Parse(raw)
	if err != nil {
		return nil, types.NewError(types.KindManifest, "parse playlist url", err)
	}
	pl, kind, err := s.fetchPlaylist(ctx, base)
	if err != nil {
		return nil, err
	}

	switch kind {
	case m3u8.MEDIA:
		s.playlistURL = base
		return pl.(*m3u8.MediaPlaylist), nil
	case m3u8.MASTER:
		variant := bestVariant(pl.(*m3u8.MasterPlaylist))
		if variant == nil {
			return nil, types.NewError(types.KindManifest, "select variant", errors.New("master playlist has no variants"))
		}
		ref, err := base.Parse(variant.URI)
		if err != nil {
			return nil, types.NewError(types.KindManifest, "select variant", err)
		}
		utils.Debug("Segmented: room %s variant %d bps", s.roomID, variant.Bandwidth)
		media, mkind, err := s.fetchPlaylist(ctx, ref)
		if err != nil {
			return nil, err
		}
		if mkind != m3u8.MEDIA {
			return nil, types.NewError(types.KindManifest, "select variant", errors.New("variant is not a media playlist"))
		}
		s.playlistURL = ref
		return media.(*m3u8.MediaPlaylist), nil
	}
	return nil, types.NewError(types.KindManifest, "decode playlist", fmt.Errorf("unknown playlist type %v", kind))
}

func (s *segmentedStream) resumeAfter(session types.StreamSession, pl *m3u8.MediaPlaylist) {
	if !session.Resuming {
		return
	}
	if n := uint64(pl.Count()); n > 0 && pl.SeqNo+n-1 < session.LastMediaSeq {
		utils.Debug("Segmented: room %s sequence restarted at %d (recorded up to %d)", s.roomID, pl.SeqNo, session.LastMediaSeq)
		return
	}
	s.hwm, s.hasHWM = session.LastMediaSeq, true
}

func bestVariant(master *m3u8.MasterPlaylist) *m3u8.Variant {
	var best *m3u8.Variant
	for _, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best
}

func (s *segmentedStream) fetchPlaylist(ctx context.Context, u *url.URL) (m3u8.Playlist, m3u8.ListType, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.runtime.GetManifestTimeout())
	defer cancel()

	body, err := s.get(reqCtx, u.String(), maxManifestSize)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, types.NewError(types.KindCancelled, "fetch playlist", ctx.Err())
		}
		return nil, 0, types.NewError(types.KindManifest, "fetch playlist", err)
	}
	pl, kind, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		return nil, 0, types.NewError(types.KindManifest, "decode playlist", err)
	}
	return pl, kind, nil
}

func (s *segmentedStream) get(ctx context.Context, rawurl string, limit int64) ([]byte, error) {
	req, err := newRequest(ctx, rawurl, s.runtime)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			utils.Debug("Error closing response body: %v", err)
		}
	}()

	if !isSuccess(resp.StatusCode) {
		return nil, newStatusError(utils.RedactURL(rawurl), resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response from %s exceeds %d bytes", utils.RedactURL(rawurl), limit)
	}
	if resp.ContentLength > 0 && int64(len(data)) != resp.ContentLength {
		return nil, io.ErrUnexpectedEOF
	}
	return data, nil
}

// enqueue appends segments newer than the high-water mark in ascending
// order and returns how many were added. A segment that cannot be
// addressed fails the playlist rather than leaving a hole.
func (s *segmentedStream) enqueue(pl *m3u8.MediaPlaylist) (int, error) {
	added := 0
	discontinuity := false
	for i := 0; i < int(pl.Count()) && i < len(pl.Segments); i++ {
		seg := pl.Segments[i]
		if seg == nil {
			continue
		}
		seqNo := pl.SeqNo + uint64(i)
		if s.hasHWM && seqNo <= s.hwm {
			continue
		}
		if seg.Discontinuity {
			discontinuity = true
		}
		if s.hasHWM && seqNo > s.hwm+1 {
			utils.Debug("Segmented: room %s skipped segments %d..%d", s.roomID, s.hwm+1, seqNo-1)
			discontinuity = true
		}

		ref, err := s.playlistURL.Parse(seg.URI)
		if err != nil {
			return added, types.NewError(types.KindManifest, "parse segment uri",
				fmt.Errorf("segment %d: %w", seqNo, err))
		}

		xmap := seg.Map
		if xmap == nil {
			xmap = pl.Map
		}
		if xmap != nil && xmap.URI != "" {
			mref, err := s.playlistURL.Parse(xmap.URI)
			if err != nil {
				return added, types.NewError(types.KindManifest, "parse map uri", err)
			}
			if !s.seenMaps[mref.String()] {
				s.seenMaps[mref.String()] = true
				s.queue = append(s.queue, queuedItem{uri: mref.String(), mediaSeq: seqNo, init: true, discontinuity: discontinuity})
				discontinuity = false
			}
		}

		s.queue = append(s.queue, queuedItem{uri: ref.String(), mediaSeq: seqNo, discontinuity: discontinuity})
		discontinuity = false
		s.hwm = seqNo
		s.hasHWM = true
		added++
	}
	return added, nil
}

func (s *segmentedStream) Next(ctx context.Context) (types.Chunk, error) {
	for {
		if err := ctx.Err(); err != nil {
			return types.Chunk{}, types.NewError(types.KindCancelled, "next segment", err)
		}

		if len(s.queue) > 0 {
			item := s.queue[0]
			data, err := s.fetchSegment(ctx, item.uri)
			if err != nil {
				return types.Chunk{}, err
			}
			s.queue = s.queue[1:]
			s.seq++
			return types.Chunk{
				Data:          data,
				Seq:           s.seq,
				Boundary:      true,
				Discontinuity: item.discontinuity,
				Segment:       !item.init,
				MediaSeq:      item.mediaSeq,
			}, nil
		}

		if s.ended {
			return types.Chunk{}, io.EOF
		}

		if err := sleepCtx(ctx, time.Until(s.lastPoll.Add(s.runtime.GetHLSPollInterval()))); err != nil {
			return types.Chunk{}, types.NewError(types.KindCancelled, "poll playlist", err)
		}
		s.lastPoll = time.Now()

		pl, kind, err := s.fetchPlaylist(ctx, s.playlistURL)
		if err != nil {
			return types.Chunk{}, err
		}
		if kind != m3u8.MEDIA {
			return types.Chunk{}, types.NewError(types.KindManifest, "poll playlist", errors.New("playlist changed to a master playlist"))
		}
		media := pl.(*m3u8.MediaPlaylist)

		added, err := s.enqueue(media)
		if err != nil {
			return types.Chunk{}, err
		}
		if added == 0 && !media.Closed {
			s.emptyPoll++
			if s.emptyPoll > s.runtime.GetHLSMaxEmptyPolls() {
				return types.Chunk{}, types.NewError(types.KindNetwork, "poll playlist",
					fmt.Errorf("%w after %d polls", errStalled, s.emptyPoll))
			}
		} else {
			s.emptyPoll = 0
		}
		if media.Closed {
			s.ended = true
		}
	}
}

// fetchSegment downloads one segment, retrying a bounded number of times.
func (s *segmentedStream) fetchSegment(ctx context.Context, rawurl string) ([]byte, error) {
	retries := s.runtime.GetSegmentRetries()
	var lastErr error
	var delay time.Duration

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, types.NewError(types.KindCancelled, "fetch segment", err)
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, s.runtime.GetSegmentTimeout())
		data, err := s.get(reqCtx, rawurl, maxSegmentSize)
		cancel()
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, types.NewError(types.KindCancelled, "fetch segment", ctx.Err())
		}

		lastErr = err
		delay = types.RetryBaseDelay << attempt
		var se *StatusError
		if errors.As(err, &se) && se.RetryAfter > 0 {
			delay = se.RetryAfter
		}
		utils.Debug("Segmented: segment %s attempt %d/%d failed: %v", utils.RedactURL(rawurl), attempt+1, retries+1, err)
	}

	return nil, types.NewError(types.KindSegment, "fetch segment",
		fmt.Errorf("%s after %d attempts: %w", utils.RedactURL(rawurl), retries+1, lastErr))
}

func (s *segmentedStream) Close() error {
	s.queue = nil
	s.ended = true
	return nil
}

// maxSegmentSize bounds one media segment.
const maxSegmentSize = 256 * types.MB
