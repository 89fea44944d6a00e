package pion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/meet/internal/core/negotiation"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// opusSilence is one 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const frameDuration = 20 * time.Millisecond

var errNoKinds = errors.New("no audio or video requested")

// SyntheticSource produces local streams without capture hardware. The audio
// track carries Opus silence; the video track is negotiated but idle.
type SyntheticSource struct {
	// Deny makes every acquisition fail, like a refused permission prompt.
	Deny bool
}

func (s SyntheticSource) Acquire(_ context.Context, c negotiation.Constraints) (negotiation.LocalStream, error) {
	if s.Deny {
		return nil, fmt.Errorf("%w: permission denied", negotiation.ErrMediaAcquisition)
	}
	if !c.Audio && !c.Video {
		return nil, fmt.Errorf("%w: %w", negotiation.ErrMediaAcquisition, errNoKinds)
	}

	stream := &LocalStream{id: uuid.New().String()}

	if c.Audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", stream.id)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", negotiation.ErrMediaAcquisition, err)
		}
		stream.tracks = append(stream.tracks, track)
		stream.audio = track
	}
	if c.Video {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", stream.id)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", negotiation.ErrMediaAcquisition, err)
		}
		stream.tracks = append(stream.tracks, track)
	}

	stream.start()
	return stream, nil
}

type LocalStream struct {
	id     string
	tracks []*webrtc.TrackLocalStaticSample
	audio  *webrtc.TrackLocalStaticSample

	once sync.Once
	stop context.CancelFunc
}

func (s *LocalStream) ID() string {
	return s.id
}

// Kinds lists the kinds of the stream's tracks in order.
func (s *LocalStream) Kinds() []string {
	kinds := make([]string, 0, len(s.tracks))
	for _, t := range s.tracks {
		kinds = append(kinds, t.Kind().String())
	}
	return kinds
}

func (s *LocalStream) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	if s.audio == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(frameDuration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.audio.WriteSample(media.Sample{Data: opusSilence, Duration: frameDuration})
			}
		}
	}()
}

func (s *LocalStream) Close() error {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
	return nil
}
