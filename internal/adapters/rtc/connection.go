package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/Jincoo/youtube-music-remote/internal/discovery"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const channelLabel = "remote"

var ErrNoChannel = errors.New("data channel not open")

func DefaultWebRTCConfig(stunURLs ...string) webrtc.Configuration {
	if len(stunURLs) == 0 {
		stunURLs = []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunURLs}},
	}
}

// PeerLink is a discovery.Link over a WebRTC data channel. The offerer
// creates the channel; the answerer receives it.
type PeerLink struct {
	pc *webrtc.PeerConnection
	ev discovery.LinkEvents

	mu         sync.Mutex
	dc         *webrtc.DataChannel
	remoteSet  bool
	pending    []webrtc.ICECandidateInit
	closeOnce  sync.Once
	notifyOnce sync.Once
}

// NewFactory returns a discovery.LinkFactory producing PeerLinks.
func NewFactory(cfg webrtc.Configuration) discovery.LinkFactory {
	return func(ev discovery.LinkEvents) (discovery.Link, error) {
		return NewPeerLink(cfg, ev)
	}
}

func NewPeerLink(cfg webrtc.Configuration, ev discovery.LinkEvents) (*PeerLink, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	l := &PeerLink{pc: pc, ev: ev}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil && l.ev.OnCandidate != nil {
			l.ev.OnCandidate(fromInit(c.ToJSON()))
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed ||
			s == webrtc.PeerConnectionStateDisconnected {
			l.notifyClosed()
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() == channelLabel {
			l.bind(dc)
		}
	})
	return l, nil
}

func (l *PeerLink) bind(dc *webrtc.DataChannel) {
	l.mu.Lock()
	l.dc = dc
	l.mu.Unlock()

	dc.OnOpen(func() {
		log.Info().Str("module", "rtc").Str("label", dc.Label()).Msg("data channel open")
		if l.ev.OnOpen != nil {
			l.ev.OnOpen()
		}
	})
	dc.OnClose(l.notifyClosed)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if l.ev.OnMessage != nil {
			l.ev.OnMessage(msg.Data)
		}
	})
}

func (l *PeerLink) CreateOffer(context.Context) (discovery.SessionDescription, error) {
	dc, err := l.pc.CreateDataChannel(channelLabel, nil)
	if err != nil {
		return discovery.SessionDescription{}, err
	}
	l.bind(dc)

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return discovery.SessionDescription{}, err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return discovery.SessionDescription{}, err
	}
	return fromSDP(offer), nil
}

func (l *PeerLink) AcceptOffer(_ context.Context, offer discovery.SessionDescription) (discovery.SessionDescription, error) {
	if err := l.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		return discovery.SessionDescription{}, err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return discovery.SessionDescription{}, err
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return discovery.SessionDescription{}, err
	}
	return fromSDP(answer), nil
}

func (l *PeerLink) AcceptAnswer(answer discovery.SessionDescription) error {
	return l.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP})
}

// setRemote applies the remote description and flushes candidates that
// arrived before it.
func (l *PeerLink) setRemote(sd webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(sd); err != nil {
		return err
	}
	l.mu.Lock()
	l.remoteSet = true
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, c := range pending {
		if err := l.pc.AddICECandidate(c); err != nil {
			log.Debug().Err(err).Str("module", "rtc").Msg("queued candidate")
		}
	}
	return nil
}

// AddCandidate applies a remote candidate, queueing it until the remote
// description is known.
func (l *PeerLink) AddCandidate(c discovery.ICECandidate) error {
	init := toInit(c)
	l.mu.Lock()
	if !l.remoteSet {
		l.pending = append(l.pending, init)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return l.pc.AddICECandidate(init)
}

func (l *PeerLink) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *PeerLink) Send(data []byte) error {
	l.mu.Lock()
	dc := l.dc
	l.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNoChannel
	}
	return dc.Send(data)
}

func (l *PeerLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.pc.Close()
		if err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("close error")
		}
	})
	return err
}

func (l *PeerLink) notifyClosed() {
	l.notifyOnce.Do(func() {
		if l.ev.OnClose != nil {
			l.ev.OnClose()
		}
	})
}

func toInit(c discovery.ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: c.Candidate, SDPMid: c.SDPMid, SDPMLineIndex: c.SDPMLineIndex}
}

func fromInit(c webrtc.ICECandidateInit) discovery.ICECandidate {
	return discovery.ICECandidate{Candidate: c.Candidate, SDPMid: c.SDPMid, SDPMLineIndex: c.SDPMLineIndex}
}

func fromSDP(sd webrtc.SessionDescription) discovery.SessionDescription {
	return discovery.SessionDescription{Type: sd.Type.String(), SDP: sd.SDP}
}
