package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/Jincoo/youtube-music-remote/internal/domain"
	"github.com/Jincoo/youtube-music-remote/internal/protocol"
)

func TestWSURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080": "ws://localhost:8080/ws",
		"http://10.0.0.2:8080/": "ws://10.0.0.2:8080/ws",
		"https://remote.lan":    "wss://remote.lan/ws",
		"ws://already.lan:8080": "ws://already.lan:8080/ws",
	}
	for in, want := range cases {
		if got := wsURL(in); got != want {
			t.Errorf("wsURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderSessions(t *testing.T) {
	var buf bytes.Buffer
	renderSessions(&buf, []domain.SessionInfo{{
		SessionID:  "abc",
		DeviceType: domain.RolePC,
		Connected:  true,
		Status:     &domain.StatusSnapshot{Title: "Song", Artist: "Band", IsPlaying: true},
	}})
	out := buf.String()
	for _, want := range []string{"abc", "pc", "Song", "Band"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	renderSessions(&buf, nil)
	if !strings.Contains(buf.String(), "no sessions") {
		t.Errorf("empty listing = %q", buf.String())
	}
}

func TestDescribe(t *testing.T) {
	status, _ := protocol.Marshal(protocol.StatusUpdate{
		Type:           protocol.TypeStatusUpdate,
		StatusSnapshot: domain.StatusSnapshot{Title: "Song", Progress: 65, Duration: 200, Volume: 30},
	})
	line := describe(status)
	for _, want := range []string{"Song", "1:05", "3:20", "vol 30"} {
		if !strings.Contains(line, want) {
			t.Errorf("status line %q missing %q", line, want)
		}
	}

	if got := describe([]byte(`{"type":"heartbeat"}`)); got != "" {
		t.Errorf("heartbeat rendered as %q", got)
	}
	if got := describe([]byte(`not json`)); got != "" {
		t.Errorf("garbage rendered as %q", got)
	}
}
