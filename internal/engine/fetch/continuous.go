package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/h2non/filetype"

	"github.com/blive-rec/blive/internal/engine/types"
	"github.com/blive-rec/blive/internal/utils"
)

const tsSyncByte = 0x47

var errReadIdle = errors.New("no data received within read timeout")

// ContinuousFetcher reads an FLV/TS stream from one long-lived response.
type ContinuousFetcher struct {
	Client  *http.Client
	Runtime *types.RuntimeConfig
}

// Open connects to the first candidate that answers. It moves to the next
// candidate only when connecting fails; once a response is accepted there is
// no mid-stream failover.
func (f *ContinuousFetcher) Open(ctx context.Context, session types.StreamSession) (Stream, error) {
	if err := session.Validate(); err != nil {
		return nil, types.NewError(types.KindAPI, "open stream", err)
	}

	var lastErr error
	for i, u := range session.URLs {
		s, err := f.connect(ctx, u, session.Container)
		if err == nil {
			if i > 0 {
				utils.Debug("Continuous: room %s connected to candidate %d/%d", session.RoomID, i+1, len(session.URLs))
			}
			return s, nil
		}
		if ctx.Err() != nil {
			return nil, types.NewError(types.KindCancelled, "connect", ctx.Err())
		}
		utils.Debug("Continuous: candidate %d/%d failed: %v", i+1, len(session.URLs), err)
		lastErr = err
	}
	return nil, types.NewError(types.KindNetwork, "connect", lastErr)
}

func (f *ContinuousFetcher) connect(ctx context.Context, rawurl string, container types.Container) (*continuousStream, error) {
	reqCtx, cancel := context.WithCancel(ctx)

	req, err := newRequest(reqCtx, rawurl, f.Runtime)
	if err != nil {
		cancel()
		return nil, err
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if !isSuccess(resp.StatusCode) {
		_ = resp.Body.Close()
		cancel()
		return nil, newStatusError(rawurl, resp)
	}

	s := &continuousStream{
		url:       rawurl,
		body:      resp.Body,
		cancel:    cancel,
		buf:       make([]byte, f.Runtime.GetReadBufferSize()),
		container: container,
		timeout:   f.Runtime.GetReadIdleTimeout(),
	}
	s.idle = time.AfterFunc(s.timeout, func() {
		s.timedOut.Store(true)
		cancel()
	})
	return s, nil
}

type continuousStream struct {
	url       string
	body      io.ReadCloser
	cancel    context.CancelFunc
	buf       []byte
	container types.Container

	timeout  time.Duration
	idle     *time.Timer
	timedOut atomic.Bool

	seq      uint64
	received int64
	pending  error // error seen together with the last delivered bytes
	done     bool

	closeOnce sync.Once
}

func (s *continuousStream) Next(ctx context.Context) (types.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return types.Chunk{}, types.NewError(types.KindCancelled, "read", err)
	}
	if s.done {
		return types.Chunk{}, io.EOF
	}
	if s.pending != nil {
		err := s.pending
		s.pending = nil
		return types.Chunk{}, s.classify(ctx, err)
	}

	for {
		n, err := s.body.Read(s.buf)
		if n > 0 {
			s.idle.Reset(s.timeout)

			data := make([]byte, n)
			copy(data, s.buf[:n])
			if s.seq == 0 {
				if magicErr := checkMagic(s.container, data); magicErr != nil {
					return types.Chunk{}, types.NewError(types.KindNetwork, "read", magicErr)
				}
			}
			s.seq++
			s.received += int64(n)

			switch {
			case err == io.EOF:
				s.done = true
			case err != nil:
				s.pending = err
			}
			return types.Chunk{Data: data, Seq: s.seq, Boundary: true}, nil
		}
		if err == io.EOF {
			s.done = true
			utils.Debug("Continuous: %s closed after %s", utils.RedactURL(s.url), utils.ConvertBytesToHumanReadable(s.received))
			return types.Chunk{}, io.EOF
		}
		if err != nil {
			return types.Chunk{}, s.classify(ctx, err)
		}
		if ctx.Err() != nil {
			return types.Chunk{}, types.NewError(types.KindCancelled, "read", ctx.Err())
		}
	}
}

func (s *continuousStream) classify(ctx context.Context, err error) error {
	if s.timedOut.Load() {
		return types.NewError(types.KindNetwork, "read", fmt.Errorf("%w (%s)", errReadIdle, s.timeout))
	}
	if ctx.Err() != nil {
		return types.NewError(types.KindCancelled, "read", ctx.Err())
	}
	return types.NewError(types.KindNetwork, "read", err)
}

func (s *continuousStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.idle.Stop()
		s.cancel()
		err = s.body.Close()
	})
	return err
}

// checkMagic verifies the first bytes match the expected container. Short
// first reads are accepted as-is.
func checkMagic(container types.Container, data []byte) error {
	switch container {
	case types.ContainerFLV:
		if len(data) >= 4 && !filetype.Is(data, "flv") {
			return fmt.Errorf("stream is not flv (starts with % x)", data[:4])
		}
	case types.ContainerTS:
		if len(data) > 0 && data[0] != tsSyncByte {
			return fmt.Errorf("stream is not mpeg-ts (first byte %#x)", data[0])
		}
	}
	return nil
}
