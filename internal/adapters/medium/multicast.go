package medium

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/Jincoo/youtube-music-remote/internal/discovery"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/net/ipv4"
)

const maxDatagram = 64 << 10

// Multicast broadcasts msgpack datagrams to an IPv4 multicast group on the
// local link.
type Multicast struct {
	node  string
	group *net.UDPAddr
	conn  net.PacketConn
	pc    *ipv4.PacketConn
	in    *inbox
}

func NewMulticast(addr, node string) (*Multicast, error) {
	group, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	if !group.IP.IsMulticast() {
		return nil, fmt.Errorf("%s is not a multicast address", addr)
	}
	conn, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", group.Port))
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(nil, &net.UDPAddr{IP: group.IP}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("join group %s: %w", group.IP, err)
	}
	// link-local only; other processes on this host still see our datagrams
	_ = pc.SetMulticastTTL(1)
	_ = pc.SetMulticastLoopback(true)

	m := &Multicast{node: node, group: group, conn: conn, pc: pc, in: newInbox()}
	go m.readLoop()
	log.Info().Str("module", "medium").Str("group", group.String()).Msg("multicast medium joined")
	return m, nil
}

func (m *Multicast) Publish(_ context.Context, msg discovery.Message) error {
	b, err := msgpack.Marshal(envelope{Node: m.node, Msg: msg})
	if err != nil {
		return err
	}
	_, err = m.pc.WriteTo(b, nil, m.group)
	return err
}

func (m *Multicast) Messages() <-chan discovery.Message { return m.in.ch }

func (m *Multicast) Close() error {
	_ = m.pc.LeaveGroup(nil, &net.UDPAddr{IP: m.group.IP})
	return m.conn.Close()
}

func (m *Multicast) readLoop() {
	defer m.in.close()
	buf := make([]byte, maxDatagram)
	for {
		n, _, src, err := m.pc.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Error().Err(err).Str("module", "medium").Msg("multicast read")
			}
			return
		}
		var env envelope
		if err := msgpack.Unmarshal(buf[:n], &env); err != nil {
			log.Debug().Err(err).Str("module", "medium").Str("src", src.String()).Msg("bad datagram")
			continue
		}
		if env.Node == m.node {
			continue
		}
		m.in.deliver(env.Msg)
	}
}
