package discovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Jincoo/youtube-music-remote/internal/core"
	"github.com/rs/zerolog/log"
)

var ErrMediumClosed = errors.New("discovery medium closed")

type Config struct {
	Role       Role
	NetworkID  string
	DeviceName string
	// Interval between presence broadcasts while searching.
	Interval time.Duration
	// OfferTimeout is how long the host keeps a pending offer before a new
	// discovery request may replace it. Zero replaces immediately.
	OfferTimeout time.Duration
	Clock        core.Clock

	OnState     func(State)
	OnPeerFound func(deviceName string)
	OnMessage   func([]byte)
}

type eventKind int

const (
	evCandidate eventKind = iota
	evOpen
	evClose
)

type linkEvent struct {
	gen  uint64
	kind eventKind
	cand ICECandidate
}

// Signaler runs the discovery state machine for one endpoint. All state
// transitions happen on the Run goroutine; medium messages, link callbacks
// and timer ticks are fed into it.
type Signaler struct {
	cfg     Config
	medium  Medium
	newLink LinkFactory
	clock   core.Clock

	events chan linkEvent
	done   chan struct{}

	mu    sync.RWMutex
	state State
	link  Link

	// owned by the run loop
	gen       uint64
	ticker    core.Ticker
	offeredAt time.Time
	// remote candidates that arrived before the link they belong to
	early []ICECandidate
}

const maxEarlyCandidates = 16

func New(cfg Config, medium Medium, newLink LinkFactory) *Signaler {
	clock := cfg.Clock
	if clock == nil {
		clock = core.RealClock{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	return &Signaler{
		cfg:     cfg,
		medium:  medium,
		newLink: newLink,
		clock:   clock,
		events:  make(chan linkEvent, 64),
		done:    make(chan struct{}),
	}
}

func (s *Signaler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Send writes over the direct link. It fails unless the link is open.
func (s *Signaler) Send(data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateConnected || s.link == nil {
		return ErrNotConnected
	}
	return s.link.Send(data)
}

// Run blocks until ctx is cancelled or the medium closes.
func (s *Signaler) Run(ctx context.Context) error {
	defer close(s.done)
	log.Info().Str("module", "discovery").Str("role", s.cfg.Role.String()).Str("network", s.cfg.NetworkID).Msg("signaler started")

	s.enterSearch(ctx)
	for {
		var tick <-chan time.Time
		if s.ticker != nil {
			tick = s.ticker.C()
		}
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case <-tick:
			s.emitPresence(ctx)
		case m, ok := <-s.medium.Messages():
			if !ok {
				s.shutdown()
				return ErrMediumClosed
			}
			s.handle(ctx, m)
		case ev := <-s.events:
			s.handleEvent(ctx, ev)
		}
	}
}

func (s *Signaler) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev == st {
		return
	}
	log.Info().Str("module", "discovery").Str("from", prev.String()).Str("to", st.String()).Msg("state")
	if s.cfg.OnState != nil {
		s.cfg.OnState(st)
	}
}

// enterSearch broadcasts presence right away and then on every tick.
func (s *Signaler) enterSearch(ctx context.Context) {
	s.setState(s.cfg.Role.searchState())
	if s.ticker == nil {
		s.ticker = s.clock.NewTicker(s.cfg.Interval)
	}
	s.emitPresence(ctx)
}

func (s *Signaler) stopTicker() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *Signaler) emitPresence(ctx context.Context) {
	if s.State() == StateConnected {
		return
	}
	s.publish(ctx, Message{Type: s.cfg.Role.presence()})
}

func (s *Signaler) publish(ctx context.Context, m Message) {
	m.NetworkID = s.cfg.NetworkID
	m.DeviceName = s.cfg.DeviceName
	m.Timestamp = s.clock.Now().UnixMilli()
	if err := s.medium.Publish(ctx, m); err != nil {
		log.Warn().Err(err).Str("module", "discovery").Str("type", string(m.Type)).Msg("publish")
	}
}

func (s *Signaler) handle(ctx context.Context, m Message) {
	if m.NetworkID != s.cfg.NetworkID {
		log.Debug().Str("module", "discovery").Str("network", m.NetworkID).Msg("foreign message ignored")
		return
	}
	state := s.State()
	if state == StateConnected {
		return
	}

	switch m.Type {
	case TypeHostAnnouncement:
		if s.cfg.Role == RoleClient && s.cfg.OnPeerFound != nil {
			s.cfg.OnPeerFound(m.DeviceName)
		}
	case TypeDiscoveryRequest:
		if s.cfg.Role != RoleHost {
			return
		}
		if state == StateAnnouncing ||
			(state == StateOffered && s.clock.Now().Sub(s.offeredAt) >= s.cfg.OfferTimeout) {
			s.offer(ctx, m.DeviceName)
		}
	case TypeConnectionOffer:
		if s.cfg.Role != RoleClient || m.Offer == nil {
			return
		}
		if state == StateScanning || state == StateAnswered {
			s.answer(ctx, *m.Offer)
		}
	case TypeConnectionAnswer:
		if s.cfg.Role != RoleHost || state != StateOffered || m.Answer == nil {
			return
		}
		if err := s.currentLink().AcceptAnswer(*m.Answer); err != nil {
			log.Warn().Err(err).Str("module", "discovery").Msg("apply answer")
			s.dropLink()
			s.enterSearch(ctx)
			return
		}
		s.setState(StateAnswered)
	case TypeICECandidate:
		if m.Candidate == nil {
			return
		}
		link := s.currentLink()
		if link == nil {
			if len(s.early) == maxEarlyCandidates {
				s.early = s.early[1:]
			}
			s.early = append(s.early, *m.Candidate)
			return
		}
		if err := link.AddCandidate(*m.Candidate); err != nil {
			log.Debug().Err(err).Str("module", "discovery").Msg("add candidate")
		}
	default:
		log.Debug().Str("module", "discovery").Str("type", string(m.Type)).Msg("unknown message")
	}
}

func (s *Signaler) currentLink() Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.link
}

// replaceLink closes any pending link and opens a fresh one whose callbacks
// are tagged with a new generation, so late events of the old one are ignored.
func (s *Signaler) replaceLink() (Link, error) {
	s.dropLink()
	s.gen++
	gen := s.gen
	link, err := s.newLink(LinkEvents{
		OnCandidate: func(c ICECandidate) { s.post(linkEvent{gen: gen, kind: evCandidate, cand: c}) },
		OnOpen:      func() { s.post(linkEvent{gen: gen, kind: evOpen}) },
		OnClose:     func() { s.post(linkEvent{gen: gen, kind: evClose}) },
		OnMessage: func(b []byte) {
			if s.cfg.OnMessage != nil {
				s.cfg.OnMessage(b)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.link = link
	s.mu.Unlock()
	return link, nil
}

func (s *Signaler) dropLink() {
	s.mu.Lock()
	link := s.link
	s.link = nil
	s.mu.Unlock()
	if link != nil {
		_ = link.Close()
	}
}

func (s *Signaler) post(ev linkEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Signaler) offer(ctx context.Context, peer string) {
	link, err := s.replaceLink()
	if err != nil {
		log.Error().Err(err).Str("module", "discovery").Msg("new link")
		return
	}
	offer, err := link.CreateOffer(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "discovery").Msg("create offer")
		s.dropLink()
		s.enterSearch(ctx)
		return
	}
	s.offeredAt = s.clock.Now()
	s.setState(StateOffered)
	log.Info().Str("module", "discovery").Str("peer", peer).Msg("offer sent")
	s.publish(ctx, Message{Type: TypeConnectionOffer, Offer: &offer})
}

func (s *Signaler) answer(ctx context.Context, offer SessionDescription) {
	link, err := s.replaceLink()
	if err != nil {
		log.Error().Err(err).Str("module", "discovery").Msg("new link")
		return
	}
	answer, err := link.AcceptOffer(ctx, offer)
	if err != nil {
		log.Warn().Err(err).Str("module", "discovery").Msg("accept offer")
		s.dropLink()
		s.enterSearch(ctx)
		return
	}
	for _, c := range s.early {
		if err := link.AddCandidate(c); err != nil {
			log.Debug().Err(err).Str("module", "discovery").Msg("add early candidate")
		}
	}
	s.early = nil
	s.setState(StateAnswered)
	s.publish(ctx, Message{Type: TypeConnectionAnswer, Answer: &answer})
}

func (s *Signaler) handleEvent(ctx context.Context, ev linkEvent) {
	if ev.gen != s.gen {
		return
	}
	switch ev.kind {
	case evCandidate:
		if s.State() == StateConnected || s.currentLink() == nil {
			return
		}
		c := ev.cand
		s.publish(ctx, Message{Type: TypeICECandidate, Candidate: &c})
	case evOpen:
		if s.currentLink() == nil {
			return
		}
		s.stopTicker()
		s.early = nil
		s.setState(StateConnected)
	case evClose:
		if s.currentLink() == nil {
			return
		}
		log.Info().Str("module", "discovery").Msg("direct link lost")
		s.dropLink()
		s.enterSearch(ctx)
	}
}

func (s *Signaler) shutdown() {
	s.stopTicker()
	s.dropLink()
	s.setState(StateIdle)
	log.Info().Str("module", "discovery").Msg("signaler stopped")
}
