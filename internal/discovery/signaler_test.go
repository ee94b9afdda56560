package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Jincoo/youtube-music-remote/internal/core/coretest"
)

const testNetwork = "YTM_test"

type fakeMedium struct {
	in        chan Message
	published chan Message
}

func newFakeMedium() *fakeMedium {
	return &fakeMedium{in: make(chan Message, 64), published: make(chan Message, 256)}
}

func (m *fakeMedium) Publish(_ context.Context, msg Message) error {
	m.published <- msg
	return nil
}
func (m *fakeMedium) Messages() <-chan Message { return m.in }
func (m *fakeMedium) Close() error             { return nil }

type fakeLink struct {
	id     int
	events LinkEvents

	mu         sync.Mutex
	answers    []SessionDescription
	candidates []ICECandidate
	sent       [][]byte
	closed     bool
}

func (l *fakeLink) CreateOffer(context.Context) (SessionDescription, error) {
	return SessionDescription{Type: "offer", SDP: fmt.Sprintf("offer-%d", l.id)}, nil
}

func (l *fakeLink) AcceptOffer(_ context.Context, offer SessionDescription) (SessionDescription, error) {
	return SessionDescription{Type: "answer", SDP: "answer-to-" + offer.SDP}, nil
}

func (l *fakeLink) AcceptAnswer(a SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.answers = append(l.answers, a)
	return nil
}

func (l *fakeLink) AddCandidate(c ICECandidate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.candidates = append(l.candidates, c)
	return nil
}

func (l *fakeLink) Send(b []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, b)
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *fakeLink) candidateCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.candidates)
}

type harness struct {
	t      *testing.T
	clock  *coretest.Clock
	medium *fakeMedium
	sig    *Signaler
	done   chan error

	mu    sync.Mutex
	links []*fakeLink
}

func start(t *testing.T, role Role, offerTimeout time.Duration) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		clock:  coretest.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		medium: newFakeMedium(),
		done:   make(chan error, 1),
	}
	h.sig = New(Config{
		Role:         role,
		NetworkID:    testNetwork,
		DeviceName:   role.String() + "-device",
		Interval:     3 * time.Second,
		OfferTimeout: offerTimeout,
		Clock:        h.clock,
	}, h.medium, h.newLink)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.done <- h.sig.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(3 * time.Second):
			t.Error("signaler did not stop")
		}
	})
	return h
}

func (h *harness) newLink(ev LinkEvents) (Link, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	l := &fakeLink{id: len(h.links) + 1, events: ev}
	h.links = append(h.links, l)
	return l, nil
}

func (h *harness) link(i int) *fakeLink {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.links[i]
}

func (h *harness) linkCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.links)
}

func (h *harness) deliver(m Message) {
	if m.NetworkID == "" {
		m.NetworkID = testNetwork
	}
	h.medium.in <- m
}

// expect returns the next published message, which must be of type want.
func (h *harness) expect(want MessageType) Message {
	h.t.Helper()
	select {
	case m := <-h.medium.published:
		if m.Type != want {
			h.t.Fatalf("published %s, want %s", m.Type, want)
		}
		if m.NetworkID != testNetwork {
			h.t.Fatalf("published with network %q", m.NetworkID)
		}
		return m
	case <-time.After(3 * time.Second):
		h.t.Fatalf("nothing published, want %s", want)
		return Message{}
	}
}

func (h *harness) expectQuiet() {
	h.t.Helper()
	select {
	case m := <-h.medium.published:
		h.t.Fatalf("unexpected publish %s", m.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func (h *harness) waitState(want State) {
	h.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for h.sig.State() != want {
		if time.Now().After(deadline) {
			h.t.Fatalf("state = %s, want %s", h.sig.State(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHostAnnouncesImmediatelyAndPeriodically(t *testing.T) {
	h := start(t, RoleHost, 0)
	m := h.expect(TypeHostAnnouncement)
	if m.DeviceName != "host-device" {
		t.Fatalf("device name = %q", m.DeviceName)
	}
	h.waitState(StateAnnouncing)

	h.clock.Advance(3 * time.Second)
	h.expect(TypeHostAnnouncement)
	h.clock.Advance(3 * time.Second)
	h.expect(TypeHostAnnouncement)
}

func TestClientScans(t *testing.T) {
	h := start(t, RoleClient, 0)
	h.expect(TypeDiscoveryRequest)
	h.waitState(StateScanning)
	h.clock.Advance(3 * time.Second)
	h.expect(TypeDiscoveryRequest)
}

func TestHostNegotiatesToConnected(t *testing.T) {
	h := start(t, RoleHost, 0)
	h.expect(TypeHostAnnouncement)

	h.deliver(Message{Type: TypeDiscoveryRequest, DeviceName: "phone"})
	offer := h.expect(TypeConnectionOffer)
	if offer.Offer == nil || offer.Offer.SDP != "offer-1" {
		t.Fatalf("offer = %+v", offer.Offer)
	}
	h.waitState(StateOffered)

	link := h.link(0)
	mid := "0"
	link.events.OnCandidate(ICECandidate{Candidate: "candidate:1", SDPMid: &mid})
	cand := h.expect(TypeICECandidate)
	if cand.Candidate == nil || cand.Candidate.Candidate != "candidate:1" {
		t.Fatalf("candidate = %+v", cand.Candidate)
	}

	h.deliver(Message{Type: TypeICECandidate, Candidate: &ICECandidate{Candidate: "remote:1"}})
	h.deliver(Message{Type: TypeConnectionAnswer, Answer: &SessionDescription{Type: "answer", SDP: "a"}})
	h.waitState(StateAnswered)
	if link.candidateCount() != 1 {
		t.Fatalf("remote candidates applied = %d", link.candidateCount())
	}

	if err := h.sig.Send([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("send before open: %v", err)
	}
	link.events.OnOpen()
	h.waitState(StateConnected)
	if err := h.sig.Send([]byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	// announcements stop once connected
	h.clock.Advance(10 * time.Second)
	h.expectQuiet()
	if h.clock.Tickers() != 0 {
		t.Fatalf("%d tickers still running", h.clock.Tickers())
	}

	// signaling is stale while connected
	h.deliver(Message{Type: TypeDiscoveryRequest})
	h.deliver(Message{Type: TypeConnectionAnswer, Answer: &SessionDescription{SDP: "late"}})
	h.expectQuiet()
	if h.sig.State() != StateConnected || h.linkCount() != 1 {
		t.Fatalf("connected state disturbed: %s, links %d", h.sig.State(), h.linkCount())
	}

	link.events.OnClose()
	h.waitState(StateAnnouncing)
	h.expect(TypeHostAnnouncement)
	h.clock.Advance(3 * time.Second)
	h.expect(TypeHostAnnouncement)
}

func TestClientAnswersOffer(t *testing.T) {
	h := start(t, RoleClient, 0)
	h.expect(TypeDiscoveryRequest)

	h.deliver(Message{Type: TypeHostAnnouncement, DeviceName: "pc"})
	h.deliver(Message{Type: TypeConnectionOffer, Offer: &SessionDescription{Type: "offer", SDP: "o1"}})
	ans := h.expect(TypeConnectionAnswer)
	if ans.Answer == nil || ans.Answer.SDP != "answer-to-o1" {
		t.Fatalf("answer = %+v", ans.Answer)
	}
	h.waitState(StateAnswered)

	// a fresh offer while answered replaces the pending link
	h.deliver(Message{Type: TypeConnectionOffer, Offer: &SessionDescription{Type: "offer", SDP: "o2"}})
	h.expect(TypeConnectionAnswer)
	if !h.link(0).isClosed() {
		t.Fatal("first link not closed on re-offer")
	}
}

func TestClientKeepsCandidatesThatPrecedeOffer(t *testing.T) {
	h := start(t, RoleClient, 0)
	h.expect(TypeDiscoveryRequest)

	h.deliver(Message{Type: TypeICECandidate, NetworkID: "YTM_other", Candidate: &ICECandidate{Candidate: "foreign"}})
	h.deliver(Message{Type: TypeICECandidate, Candidate: &ICECandidate{Candidate: "host:1"}})
	h.deliver(Message{Type: TypeConnectionOffer, Offer: &SessionDescription{Type: "offer", SDP: "o1"}})
	h.expect(TypeConnectionAnswer)

	link := h.link(0)
	if n := link.candidateCount(); n != 1 {
		t.Fatalf("candidates applied = %d, want 1", n)
	}
	link.mu.Lock()
	got := link.candidates[0].Candidate
	link.mu.Unlock()
	if got != "host:1" {
		t.Fatalf("candidate = %q", got)
	}
}

func TestHostReofferReplacesPendingLink(t *testing.T) {
	h := start(t, RoleHost, 0)
	h.expect(TypeHostAnnouncement)

	h.deliver(Message{Type: TypeDiscoveryRequest})
	h.expect(TypeConnectionOffer)
	h.deliver(Message{Type: TypeDiscoveryRequest})
	second := h.expect(TypeConnectionOffer)
	if second.Offer.SDP != "offer-2" {
		t.Fatalf("second offer = %+v", second.Offer)
	}
	if !h.link(0).isClosed() {
		t.Fatal("pending link not closed")
	}

	// the replaced link opening late must not connect the signaler
	h.link(0).events.OnOpen()
	h.expectQuiet()
	if st := h.sig.State(); st != StateOffered {
		t.Fatalf("state = %s after stale open", st)
	}
}

func TestHostHoldsOfferUntilTimeout(t *testing.T) {
	h := start(t, RoleHost, 10*time.Second)
	h.expect(TypeHostAnnouncement)

	h.deliver(Message{Type: TypeDiscoveryRequest})
	h.expect(TypeConnectionOffer)
	h.deliver(Message{Type: TypeDiscoveryRequest})
	h.expectQuiet()

	h.clock.Advance(11 * time.Second)
	h.expect(TypeHostAnnouncement)
	h.deliver(Message{Type: TypeDiscoveryRequest})
	h.expect(TypeConnectionOffer)
}

func TestForeignNetworkNeverChangesState(t *testing.T) {
	for _, role := range []Role{RoleHost, RoleClient} {
		t.Run(role.String(), func(t *testing.T) {
			h := start(t, role, 0)
			h.expect(role.presence())
			initial := h.sig.State()

			for _, mt := range AllTypes {
				h.deliver(Message{
					Type:      mt,
					NetworkID: "YTM_other",
					Offer:     &SessionDescription{Type: "offer", SDP: "x"},
					Answer:    &SessionDescription{Type: "answer", SDP: "y"},
					Candidate: &ICECandidate{Candidate: "z"},
				})
			}
			h.expectQuiet()
			if st := h.sig.State(); st != initial {
				t.Fatalf("state moved to %s", st)
			}
			if n := h.linkCount(); n != 0 {
				t.Fatalf("%d links created for foreign messages", n)
			}
		})
	}
}

func TestCancelReturnsToIdle(t *testing.T) {
	medium := newFakeMedium()
	sig := New(Config{Role: RoleHost, NetworkID: testNetwork, Clock: coretest.NewClock(time.Now())}, medium,
		func(LinkEvents) (Link, error) { return &fakeLink{}, nil })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sig.Run(ctx) }()
	<-medium.published
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
	if sig.State() != StateIdle {
		t.Fatalf("state = %s", sig.State())
	}
}

func TestMediumCloseStopsRun(t *testing.T) {
	medium := newFakeMedium()
	sig := New(Config{Role: RoleClient, NetworkID: testNetwork, Clock: coretest.NewClock(time.Now())}, medium, nil)
	close(medium.in)
	if err := sig.Run(context.Background()); !errors.Is(err, ErrMediumClosed) {
		t.Fatalf("Run returned %v", err)
	}
}
