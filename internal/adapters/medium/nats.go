package medium

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Jincoo/youtube-music-remote/internal/discovery"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATS carries discovery messages on a NATS subject.
type NATS struct {
	node    string
	subject string
	conn    *nats.Conn
	sub     *nats.Subscription
	in      *inbox
}

func NewNATS(url, subject, node string) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("ytm-remote-discovery"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	n := &NATS{node: node, subject: subject, conn: nc, in: newInbox()}
	sub, err := nc.Subscribe(subject, n.onMsg)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	if err := nc.Flush(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats flush: %w", err)
	}
	n.sub = sub
	log.Info().Str("module", "medium").Str("url", url).Str("subject", subject).Msg("nats medium subscribed")
	return n, nil
}

func (n *NATS) onMsg(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Debug().Err(err).Str("module", "medium").Msg("bad nats payload")
		return
	}
	if env.Node == n.node {
		return
	}
	n.in.deliver(env.Msg)
}

func (n *NATS) Publish(_ context.Context, msg discovery.Message) error {
	b, err := json.Marshal(envelope{Node: n.node, Msg: msg})
	if err != nil {
		return err
	}
	return n.conn.Publish(n.subject, b)
}

func (n *NATS) Messages() <-chan discovery.Message { return n.in.ch }

func (n *NATS) Close() error {
	err := n.sub.Unsubscribe()
	n.conn.Close()
	n.in.close()
	return err
}
