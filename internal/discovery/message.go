// Package discovery finds a peer on a shared local medium and negotiates a
// direct link with it, without a server.
package discovery

import (
	"context"
	"errors"
	"strconv"
	"unicode/utf16"
)

type MessageType string

const (
	TypeHostAnnouncement MessageType = "host_announcement"
	TypeDiscoveryRequest MessageType = "discovery_request"
	TypeConnectionOffer  MessageType = "connection_offer"
	TypeConnectionAnswer MessageType = "connection_answer"
	TypeICECandidate     MessageType = "ice_candidate"
)

var AllTypes = []MessageType{
	TypeHostAnnouncement,
	TypeDiscoveryRequest,
	TypeConnectionOffer,
	TypeConnectionAnswer,
	TypeICECandidate,
}

type SessionDescription struct {
	Type string `json:"type" msgpack:"type"`
	SDP  string `json:"sdp" msgpack:"sdp"`
}

type ICECandidate struct {
	Candidate     string  `json:"candidate" msgpack:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty" msgpack:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty" msgpack:"sdpMLineIndex,omitempty"`
}

type Message struct {
	Type       MessageType         `json:"type" msgpack:"type"`
	NetworkID  string              `json:"networkId" msgpack:"networkId"`
	DeviceName string              `json:"deviceName,omitempty" msgpack:"deviceName,omitempty"`
	Timestamp  int64               `json:"timestamp" msgpack:"timestamp"`
	Offer      *SessionDescription `json:"offer,omitempty" msgpack:"offer,omitempty"`
	Answer     *SessionDescription `json:"answer,omitempty" msgpack:"answer,omitempty"`
	Candidate  *ICECandidate       `json:"candidate,omitempty" msgpack:"candidate,omitempty"`
}

// Medium is a broadcast channel shared by every endpoint on the network.
// Messages published by an endpoint are not delivered back to it.
type Medium interface {
	Publish(ctx context.Context, m Message) error
	Messages() <-chan Message
	Close() error
}

var ErrNotConnected = errors.New("direct link not connected")

// Link is one direct peer channel under negotiation or open.
type Link interface {
	CreateOffer(ctx context.Context) (SessionDescription, error)
	AcceptOffer(ctx context.Context, offer SessionDescription) (SessionDescription, error)
	AcceptAnswer(answer SessionDescription) error
	AddCandidate(c ICECandidate) error
	Send(data []byte) error
	Close() error
}

// LinkEvents are invoked by a Link from any goroutine.
type LinkEvents struct {
	OnCandidate func(ICECandidate)
	OnOpen      func()
	OnClose     func()
	OnMessage   func([]byte)
}

type LinkFactory func(LinkEvents) (Link, error)

// NetworkID derives the shared namespace tag from environment traits of the
// endpoint. Endpoints with equal traits land in the same namespace. It is a
// filter, not a secret.
func NetworkID(userAgent, locale, host string) string {
	var h int32
	for _, cu := range utf16.Encode([]rune(userAgent + locale + host)) {
		h = h*31 + int32(cu)
	}
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	hex := strconv.FormatInt(abs, 16)
	if len(hex) > 8 {
		hex = hex[:8]
	}
	return "YTM_" + hex
}

const DefaultHost = "music.youtube.com"
