package medium

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Jincoo/youtube-music-remote/internal/discovery"
	"github.com/google/uuid"
)

func receive(t *testing.T, m discovery.Medium) discovery.Message {
	t.Helper()
	select {
	case msg, ok := <-m.Messages():
		if !ok {
			t.Fatal("medium closed")
		}
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("no message")
		return discovery.Message{}
	}
}

func assertNothing(t *testing.T, m discovery.Medium) {
	t.Helper()
	select {
	case msg := <-m.Messages():
		t.Fatalf("unexpected message %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubFansOutToOthers(t *testing.T) {
	hub := NewHub()
	a, b, c := hub.Join(), hub.Join(), hub.Join()
	ctx := context.Background()

	if err := a.Publish(ctx, discovery.Message{Type: discovery.TypeHostAnnouncement, NetworkID: "YTM_1"}); err != nil {
		t.Fatal(err)
	}
	for _, ep := range []*Endpoint{b, c} {
		if got := receive(t, ep); got.Type != discovery.TypeHostAnnouncement || got.NetworkID != "YTM_1" {
			t.Fatalf("got %+v", got)
		}
	}
	assertNothing(t, a)
}

func TestHubClose(t *testing.T) {
	hub := NewHub()
	a, b := hub.Join(), hub.Join()
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-b.Messages(); ok {
		t.Fatal("closed endpoint still delivering")
	}
	if err := a.Publish(context.Background(), discovery.Message{Type: discovery.TypeDiscoveryRequest}); err != nil {
		t.Fatalf("publish after peer left: %v", err)
	}
	if err := b.Publish(context.Background(), discovery.Message{}); err != ErrClosed {
		t.Fatalf("publish on closed endpoint: %v", err)
	}
	_ = b.Close()
}

func TestInboxDropsWhenFull(t *testing.T) {
	in := newInbox()
	for i := 0; i < inboxSize+10; i++ {
		in.deliver(discovery.Message{Timestamp: int64(i)})
	}
	if len(in.ch) != inboxSize {
		t.Fatalf("inbox holds %d", len(in.ch))
	}
	in.close()
	in.deliver(discovery.Message{})
	in.close()
}

func TestMulticastSkipsOwnDatagrams(t *testing.T) {
	addr := "239.255.77.78:47475"
	a, err := NewMulticast(addr, uuid.NewString())
	if err != nil {
		t.Skipf("multicast unavailable: %v", err)
	}
	defer a.Close()

	if err := a.Publish(context.Background(), discovery.Message{Type: discovery.TypeHostAnnouncement, NetworkID: "YTM_self"}); err != nil {
		t.Skipf("multicast send unavailable: %v", err)
	}
	assertNothing(t, a)
}

func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("YTMR_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("YTMR_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	channel := "ytm-remote.test." + uuid.NewString()
	a, err := NewRedis(ctx, addr, channel, "a")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := NewRedis(ctx, addr, channel, "b")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := a.Publish(ctx, discovery.Message{Type: discovery.TypeDiscoveryRequest, NetworkID: "YTM_r"}); err != nil {
		t.Fatal(err)
	}
	if got := receive(t, b); got.Type != discovery.TypeDiscoveryRequest {
		t.Fatalf("got %+v", got)
	}
	assertNothing(t, a)
}

func TestNATSRoundTrip(t *testing.T) {
	url := os.Getenv("YTMR_TEST_NATS_URL")
	if url == "" {
		t.Skip("YTMR_TEST_NATS_URL not set")
	}
	subject := "ytm-remote.test." + uuid.NewString()
	a, err := NewNATS(url, subject, "a")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := NewNATS(url, subject, "b")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	offer := &discovery.SessionDescription{Type: "offer", SDP: "v=0"}
	if err := a.Publish(context.Background(), discovery.Message{Type: discovery.TypeConnectionOffer, Offer: offer}); err != nil {
		t.Fatal(err)
	}
	got := receive(t, b)
	if got.Offer == nil || got.Offer.SDP != "v=0" {
		t.Fatalf("got %+v", got)
	}
	assertNothing(t, a)
}
