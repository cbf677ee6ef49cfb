package types

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Quality is the upstream quality code (qn).
type Quality int

const (
	QualityAny      Quality = 0
	QualitySmooth   Quality = 80
	QualityHD       Quality = 150
	QualityUltraHD  Quality = 250
	QualityBlueRay  Quality = 400
	QualityOriginal Quality = 10000
	QualityUHD4K    Quality = 20000
	QualityDolby    Quality = 30000
)

var qualityNames = map[Quality]string{
	QualityAny:      "any",
	QualitySmooth:   "smooth",
	QualityHD:       "hd",
	QualityUltraHD:  "ultrahd",
	QualityBlueRay:  "blueray",
	QualityOriginal: "original",
	QualityUHD4K:    "4k",
	QualityDolby:    "dolby",
}

func (q Quality) String() string {
	if name, ok := qualityNames[q]; ok {
		return name
	}
	return fmt.Sprintf("qn%d", int(q))
}

// ParseQuality accepts either a name ("original") or a numeric qn ("10000").
func ParseQuality(s string) (Quality, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for q, name := range qualityNames {
		if name == s {
			return q, nil
		}
	}
	if qn, err := strconv.Atoi(s); err == nil && qn >= 0 {
		return Quality(qn), nil
	}
	return 0, fmt.Errorf("unknown quality %q", s)
}

// Container is the media container of a stream.
type Container string

const (
	ContainerAny  Container = ""
	ContainerFLV  Container = "flv"
	ContainerTS   Container = "ts"
	ContainerFMP4 Container = "fmp4"
)

// Ext returns the file extension written for this container.
func (c Container) Ext() string {
	switch c {
	case ContainerTS:
		return "ts"
	case ContainerFMP4:
		return "m4s"
	default:
		return "flv"
	}
}

// Codec is the video codec of a stream.
type Codec string

const (
	CodecAny  Codec = ""
	CodecAVC  Codec = "avc"
	CodecHEVC Codec = "hevc"
)

// Protocol is the transport shape of a stream.
type Protocol string

const (
	ProtocolHTTPStream Protocol = "http_stream"
	ProtocolHTTPHLS    Protocol = "http_hls"
)

// Strategy is a resolver-side hint for ordering candidate protocols.
// It never changes the download or reconnect algorithm.
type Strategy int

const (
	// StrategyLowCost prefers the continuous stream
	StrategyLowCost Strategy = iota
	// StrategyPriorityConfig prefers HLS
	StrategyPriorityConfig
)

func (s Strategy) String() string {
	if s == StrategyPriorityConfig {
		return "priority_config"
	}
	return "low_cost"
}

// Room is a snapshot of a live room as reported by the resolver
type Room struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Live     bool      `json:"live"`
	UpName   string    `json:"up_name,omitempty"`
	AreaName string    `json:"area_name,omitempty"`
	LiveTime time.Time `json:"live_time,omitempty"`
}

// StreamSession is the resolved stream for one connect attempt. It is never
// mutated after the resolver returns it.
type StreamSession struct {
	RoomID    string
	Quality   Quality
	Codec     Codec
	Container Container
	Protocol  Protocol
	URLs      []string // ranked candidates, never empty

	// Resuming is set by the task on a reconnect after HLS segments were
	// recorded; segments up to LastMediaSeq are not fetched again.
	Resuming     bool
	LastMediaSeq uint64
}

// Validate checks the session invariants
func (s StreamSession) Validate() error {
	if len(s.URLs) == 0 {
		return fmt.Errorf("session for room %s has no candidate urls", s.RoomID)
	}
	return nil
}

// SourceResolver answers live status and playback sessions for rooms
type SourceResolver interface {
	RoomStatus(ctx context.Context, roomID string) (Room, error)
	PlaySession(ctx context.Context, roomID string, quality Quality, codec Codec, container Container) (StreamSession, error)
}

// Chunk is one ordered unit of bytes produced by a fetcher.
type Chunk struct {
	Data []byte
	Seq  uint64

	// Boundary marks a point where the sink may roll before writing Data.
	Boundary bool
	// Discontinuity requests a roll before Data is written.
	Discontinuity bool
	// Segment is set when Data is a whole HLS segment.
	Segment bool
	// MediaSeq is the HLS media sequence number of a segment.
	MediaSeq uint64
}

// FilePart is one output file of a recording
type FilePart struct {
	Index     int       `json:"index"`
	Path      string    `json:"path"`
	Written   int64     `json:"written"`
	Closed    bool      `json:"closed"`
	CreatedAt time.Time `json:"created_at"`
}

// StopReason explains why a task reached Stopped
type StopReason int

const (
	StopCompleted StopReason = iota
	StopCancelled
	StopMaxReconnectExceeded
	StopError
)

func (r StopReason) String() string {
	switch r {
	case StopCompleted:
		return "completed"
	case StopCancelled:
		return "cancelled"
	case StopMaxReconnectExceeded:
		return "max_reconnect_exceeded"
	case StopError:
		return "error"
	}
	return "unknown"
}

// TaskStatus represents the transient status of an active recording
type TaskStatus struct {
	TaskID    string    `json:"task_id"`
	RoomID    string    `json:"room_id"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	Part      string    `json:"part,omitempty"` // path of the open part
	PartBytes int64     `json:"part_bytes"`
	Parts     int       `json:"parts"`
	Bytes     int64     `json:"bytes"`
	Speed     float64   `json:"speed"` // bytes per second
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
}
