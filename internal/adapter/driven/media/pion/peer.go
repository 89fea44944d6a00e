package pion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/meet/internal/core/negotiation"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultGatherTimeout = 5 * time.Second

var (
	errNothingToRollback = errors.New("no local offer to roll back")
	errOfferApplied      = errors.New("local offer already applied on an established session")
	errOfferOutstanding  = errors.New("local offer outstanding")
)

type Config struct {
	ICEServers    []string
	GatherTimeout time.Duration
}

// Peer adapts a pion PeerConnection to negotiation.PeerConnection.
// Descriptions are sent once ICE gathering is complete, so candidates travel
// inside them.
//
// pion cannot roll back a description. Offers on an established session are
// therefore kept unapplied until their answer arrives, and rolling back just
// forgets them. An offer on a connection that never finished a round is
// rolled back by replacing the connection.
type Peer struct {
	api           *webrtc.API
	config        webrtc.Configuration
	gatherTimeout time.Duration
	log           zerolog.Logger

	mu       sync.Mutex
	pc       *webrtc.PeerConnection
	offer    *webrtc.SessionDescription
	attached []*LocalStream
	streams  map[string]*RemoteStream
	onTrack  func([]negotiation.RemoteStream)
	onNeeded func()
}

func NewAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
	), nil
}

func NewPeer(cfg Config) (*Peer, error) {
	api, err := NewAPI()
	if err != nil {
		return nil, err
	}

	var servers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	timeout := cfg.GatherTimeout
	if timeout <= 0 {
		timeout = defaultGatherTimeout
	}

	p := &Peer{
		api:           api,
		config:        webrtc.Configuration{ICEServers: servers},
		gatherTimeout: timeout,
		log:           log.With().Str("component", "pion").Logger(),
		streams:       make(map[string]*RemoteStream),
	}
	if p.pc, err = p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// connect builds a fresh pion connection carrying every attached stream.
func (p *Peer) connect() (*webrtc.PeerConnection, error) {
	pc, err := p.api.NewPeerConnection(p.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.log.Info().Str("state", s.String()).Msg("Peer connection state changed")
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.handleTrack(pc, track)
	})

	for _, s := range p.attached {
		if err := addTracks(pc, s); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}
	return pc, nil
}

func (p *Peer) conn() *webrtc.PeerConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pc
}

func (p *Peer) CreateOffer(_ context.Context) (negotiation.Description, error) {
	pc := p.conn()
	if pc.CurrentLocalDescription() == nil {
		if err := addReceivers(pc); err != nil {
			return nil, err
		}
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	return json.Marshal(offer)
}

// addReceivers gives the first offer audio and video sections for kinds no
// attached track covers. The answering side gets its transceivers from the
// offer, so it never holds unnegotiated ones.
func addReceivers(pc *webrtc.PeerConnection) error {
	have := make(map[webrtc.RTPCodecType]bool)
	for _, t := range pc.GetTransceivers() {
		have[t.Kind()] = true
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if have[kind] {
			continue
		}
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

func (p *Peer) CreateAnswer(_ context.Context) (negotiation.Description, error) {
	answer, err := p.conn().CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	return json.Marshal(answer)
}

func (p *Peer) SetLocalDescription(ctx context.Context, d negotiation.Description) error {
	sd, err := decode(d)
	if err != nil {
		return err
	}

	p.mu.Lock()
	pc := p.pc
	if sd.Type == webrtc.SDPTypeOffer && pc.CurrentRemoteDescription() != nil {
		// Candidates were gathered in the first round and are already part
		// of the offer.
		p.offer = &sd
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(sd); err != nil {
		return err
	}

	select {
	case <-gathered:
	case <-time.After(p.gatherTimeout):
		p.log.Warn().Dur("timeout", p.gatherTimeout).Msg("ICE gathering incomplete, sending partial description")
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (p *Peer) LocalDescription() negotiation.Description {
	p.mu.Lock()
	ld := p.offer
	if ld == nil {
		ld = p.pc.LocalDescription()
	}
	p.mu.Unlock()

	if ld == nil {
		return nil
	}
	b, err := json.Marshal(ld)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to encode local description")
		return nil
	}
	return b
}

func (p *Peer) SetRemoteDescription(_ context.Context, d negotiation.Description) error {
	sd, err := decode(d)
	if err != nil {
		return err
	}

	p.mu.Lock()
	pc, offer := p.pc, p.offer
	if offer != nil {
		if sd.Type != webrtc.SDPTypeAnswer {
			p.mu.Unlock()
			return fmt.Errorf("set remote %s: %w", sd.Type, errOfferOutstanding)
		}
		p.offer = nil
	}
	p.mu.Unlock()

	if offer != nil {
		if err := pc.SetLocalDescription(*offer); err != nil {
			return fmt.Errorf("apply local offer: %w", err)
		}
	}
	return pc.SetRemoteDescription(sd)
}

func (p *Peer) Rollback(_ context.Context) error {
	p.mu.Lock()
	if p.offer != nil {
		p.offer = nil
		p.mu.Unlock()
		return nil
	}

	old := p.pc
	if old.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		p.mu.Unlock()
		return errNothingToRollback
	}
	if old.CurrentRemoteDescription() != nil {
		p.mu.Unlock()
		return errOfferApplied
	}

	pc, err := p.connect()
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("replace connection: %w", err)
	}
	p.pc = pc
	p.mu.Unlock()

	p.log.Debug().Msg("Replaced unanswered connection")
	if err := old.Close(); err != nil {
		p.log.Debug().Err(err).Msg("Failed to close replaced connection")
	}
	return nil
}

// AttachStream adds the tracks of s and then reports that negotiation is
// needed.
func (p *Peer) AttachStream(s negotiation.LocalStream) error {
	stream, ok := s.(*LocalStream)
	if !ok {
		return fmt.Errorf("unsupported local stream %T", s)
	}

	p.mu.Lock()
	if err := addTracks(p.pc, stream); err != nil {
		p.mu.Unlock()
		return err
	}
	p.attached = append(p.attached, stream)
	fn := p.onNeeded
	p.mu.Unlock()

	if fn != nil {
		go fn()
	}
	return nil
}

func addTracks(pc *webrtc.PeerConnection, s *LocalStream) error {
	for _, track := range s.tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		// Interceptors only run while RTCP is read.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}
	return nil
}

// OnNegotiationNeeded registers fn to run on its own goroutine after each
// AttachStream. pion's negotiationneeded event is not forwarded: an answering
// side keeps the flag raised for transceivers it has nothing to send on.
func (p *Peer) OnNegotiationNeeded(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onNeeded = fn
}

func (p *Peer) OnTrack(fn func([]negotiation.RemoteStream)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

// SignalingState reports have-local-offer while an unapplied offer waits for
// its answer.
func (p *Peer) SignalingState() webrtc.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.offer != nil {
		return webrtc.SignalingStateHaveLocalOffer
	}
	return p.pc.SignalingState()
}

func (p *Peer) Close() error {
	return p.conn().Close()
}

func (p *Peer) handleTrack(pc *webrtc.PeerConnection, track *webrtc.TrackRemote) {
	l := p.log.With().Str("kind", track.Kind().String()).Str("stream", track.StreamID()).Logger()
	l.Debug().Str("codec", track.Codec().MimeType).Msg("Received remote track")

	p.mu.Lock()
	rs, ok := p.streams[track.StreamID()]
	if !ok {
		rs = &RemoteStream{id: track.StreamID()}
		p.streams[track.StreamID()] = rs
	}
	rs.add(track)
	cb := p.onTrack
	p.mu.Unlock()

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		// Ask for a keyframe right away.
		if err := pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
		}); err != nil {
			l.Debug().Err(err).Msg("Failed to send PLI")
		}
	}

	go func() {
		for {
			if _, _, err := track.ReadRTP(); err != nil {
				return
			}
		}
	}()

	if cb != nil {
		cb([]negotiation.RemoteStream{rs})
	}
}

func decode(d negotiation.Description) (webrtc.SessionDescription, error) {
	var sd webrtc.SessionDescription
	if len(d) == 0 {
		return sd, errors.New("empty session description")
	}
	if err := json.Unmarshal(d, &sd); err != nil {
		return sd, fmt.Errorf("decode session description: %w", err)
	}
	return sd, nil
}

// RemoteStream groups the remote tracks that share a stream id.
type RemoteStream struct {
	id string

	mu     sync.Mutex
	tracks []*webrtc.TrackRemote
}

func (s *RemoteStream) ID() string {
	return s.id
}

func (s *RemoteStream) Kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]string, 0, len(s.tracks))
	for _, t := range s.tracks {
		kinds = append(kinds, t.Kind().String())
	}
	return kinds
}

func (s *RemoteStream) add(t *webrtc.TrackRemote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
}
