package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blive-rec/blive/internal/engine/types"
	"github.com/blive-rec/blive/internal/testutil"
)

func testRuntime() *types.RuntimeConfig {
	return &types.RuntimeConfig{
		ReadBufferSize:   4 * 1024,
		ReadIdleTimeout:  500 * time.Millisecond,
		ManifestTimeout:  2 * time.Second,
		SegmentTimeout:   2 * time.Second,
		HLSPollInterval:  20 * time.Millisecond,
		HLSMaxEmptyPolls: 3,
		SegmentRetries:   2,
	}
}

func flvSession(urls ...string) types.StreamSession {
	return types.StreamSession{
		RoomID:    "1000",
		Quality:   types.QualityOriginal,
		Container: types.ContainerFLV,
		Protocol:  types.ProtocolHTTPStream,
		URLs:      urls,
	}
}

// drain reads the stream to its end and returns the bytes and the final error.
func drain(t *testing.T, s Stream) ([]byte, []types.Chunk, error) {
	t.Helper()
	var data []byte
	var chunks []types.Chunk
	ctx := context.Background()
	for {
		c, err := s.Next(ctx)
		if err != nil {
			return data, chunks, err
		}
		data = append(data, c.Data...)
		chunks = append(chunks, c)
	}
}

func TestKindFor(t *testing.T) {
	assert.Equal(t, Continuous, KindFor(types.StreamSession{Protocol: types.ProtocolHTTPStream, URLs: []string{"http://a/b.m3u8"}}))
	assert.Equal(t, Segmented, KindFor(types.StreamSession{Protocol: types.ProtocolHTTPHLS, URLs: []string{"http://a/b.flv"}}))
	assert.Equal(t, Segmented, KindFor(types.StreamSession{URLs: []string{"http://a/live/index.m3u8?token=1"}}))
	assert.Equal(t, Continuous, KindFor(types.StreamSession{URLs: []string{"http://a/live/1.flv?x=.m3u8"}}))
	assert.Equal(t, "segmented", Segmented.String())
}

func TestContinuous_DeliversExactBytes(t *testing.T) {
	server := testutil.NewMockServerT(t, testutil.WithFLVPayload(100*1024), testutil.WithChunkSize(3000))
	rt := testRuntime()
	f := New(Continuous, NewClient(rt), rt)

	s, err := f.Open(context.Background(), flvSession(server.URL()))
	require.NoError(t, err)
	defer s.Close()

	data, chunks, err := drain(t, s)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, server.Payload(), data)

	for i, c := range chunks {
		assert.True(t, c.Boundary, "every chunk is a flush point")
		assert.Equal(t, uint64(i+1), c.Seq)
	}

	ua, _ := server.UserAgents.Load(1)
	assert.Equal(t, types.DefaultUserAgent, ua)
	ref, _ := server.Referers.Load(1)
	assert.Equal(t, types.DefaultReferer, ref)
}

func TestContinuous_FailoverBeforeFirstByte(t *testing.T) {
	bad := testutil.NewMockServerT(t, testutil.WithResponses(testutil.StreamResponse{Status: http.StatusNotFound}))
	good := testutil.NewMockServerT(t, testutil.WithFLVPayload(8*1024))
	rt := testRuntime()
	f := &ContinuousFetcher{Client: NewClient(rt), Runtime: rt}

	s, err := f.Open(context.Background(), flvSession(bad.URL(), good.URL()))
	require.NoError(t, err)
	defer s.Close()

	data, _, err := drain(t, s)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, good.Payload(), data)
	assert.Equal(t, int64(1), bad.Stats().TotalRequests)
}

func TestContinuous_AllCandidatesFail(t *testing.T) {
	bad := testutil.NewMockServerT(t, testutil.WithResponses(testutil.StreamResponse{Status: http.StatusForbidden}))
	rt := testRuntime()
	f := &ContinuousFetcher{Client: NewClient(rt), Runtime: rt}

	_, err := f.Open(context.Background(), flvSession(bad.URL(), bad.URL()))
	require.Error(t, err)
	assert.Equal(t, types.KindNetwork, types.KindOf(err))

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.Equal(t, int64(2), bad.Stats().TotalRequests)
}

// A connection dropped mid-stream is a transport error and never fails over.
func TestContinuous_MidStreamResetIsNetworkError(t *testing.T) {
	first := testutil.NewMockServerT(t, testutil.WithFLVPayload(64*1024), testutil.WithChunkSize(1000), testutil.WithFailAfterBytes(3000))
	second := testutil.NewMockServerT(t)
	rt := testRuntime()
	f := &ContinuousFetcher{Client: NewClient(rt), Runtime: rt}

	s, err := f.Open(context.Background(), flvSession(first.URL(), second.URL()))
	require.NoError(t, err)
	defer s.Close()

	data, _, err := drain(t, s)
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
	assert.Equal(t, types.KindNetwork, types.KindOf(err))
	assert.Equal(t, first.Payload()[:3000], data)
	assert.Zero(t, second.Stats().TotalRequests)
}

func TestContinuous_IdleTimeout(t *testing.T) {
	server := testutil.NewMockServerT(t, testutil.WithResponses(testutil.StreamResponse{Data: testutil.FLVHeader, Hold: true}))
	rt := testRuntime()
	rt.ReadIdleTimeout = 100 * time.Millisecond
	f := &ContinuousFetcher{Client: NewClient(rt), Runtime: rt}

	s, err := f.Open(context.Background(), flvSession(server.URL()))
	require.NoError(t, err)
	defer s.Close()

	start := time.Now()
	_, _, err = drain(t, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, errReadIdle)
	assert.Equal(t, types.KindNetwork, types.KindOf(err))
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestContinuous_WrongContainer(t *testing.T) {
	server := testutil.NewMockServerT(t, testutil.WithPayload([]byte("<html>not a stream</html>")))
	rt := testRuntime()
	f := &ContinuousFetcher{Client: NewClient(rt), Runtime: rt}

	s, err := f.Open(context.Background(), flvSession(server.URL()))
	require.NoError(t, err)
	defer s.Close()

	_, chunks, err := drain(t, s)
	require.Error(t, err)
	assert.Empty(t, chunks)
	assert.Equal(t, types.KindNetwork, types.KindOf(err))
}

func TestContinuous_TSMagic(t *testing.T) {
	ts := make([]byte, 188*4)
	for i := 0; i < len(ts); i += 188 {
		ts[i] = 0x47
	}
	server := testutil.NewMockServerT(t, testutil.WithPayload(ts))
	rt := testRuntime()
	f := &ContinuousFetcher{Client: NewClient(rt), Runtime: rt}

	session := flvSession(server.URL())
	session.Container = types.ContainerTS
	s, err := f.Open(context.Background(), session)
	require.NoError(t, err)
	defer s.Close()

	data, _, err := drain(t, s)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, ts, data)
}

func TestContinuous_CancelBetweenChunks(t *testing.T) {
	server := testutil.NewMockServerT(t,
		testutil.WithFLVPayload(1024*1024),
		testutil.WithChunkSize(1024),
		testutil.WithChunkDelay(5*time.Millisecond),
	)
	rt := testRuntime()
	f := &ContinuousFetcher{Client: NewClient(rt), Runtime: rt}

	ctx, cancel := context.WithCancel(context.Background())
	s, err := f.Open(ctx, flvSession(server.URL()))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Next(ctx)
	require.NoError(t, err)

	cancel()
	_, err = s.Next(ctx)
	require.Error(t, err)
	assert.Equal(t, types.KindCancelled, types.KindOf(err))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestContinuous_EmptySession(t *testing.T) {
	f := &ContinuousFetcher{}
	_, err := f.Open(context.Background(), types.StreamSession{RoomID: "1"})
	require.Error(t, err)
	assert.Equal(t, types.KindAPI, types.KindOf(err))
}
