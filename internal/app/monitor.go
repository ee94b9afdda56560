package app

import (
	"context"
	"time"

	"github.com/Jincoo/youtube-music-remote/internal/core"
	"github.com/Jincoo/youtube-music-remote/internal/metrics"
	"github.com/Jincoo/youtube-music-remote/internal/protocol"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

type MonitorConfig struct {
	HeartbeatInterval time.Duration
	LivenessInterval  time.Duration
	// LivenessThreshold is how long a connection may stay silent before it is probed.
	LivenessThreshold time.Duration
	GCInterval        time.Duration
	StaleTimeout      time.Duration
	ServerName        string
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		HeartbeatInterval: 15 * time.Second,
		LivenessInterval:  30 * time.Second,
		LivenessThreshold: 5 * time.Minute,
		GCInterval:        30 * time.Second,
		StaleTimeout:      5 * time.Minute,
		ServerName:        "ytm-remote",
	}
}

// Monitor supervises connection liveness, evicts stale registry entries
// and pushes heartbeats.
type Monitor struct {
	cfg      MonitorConfig
	clock    core.Clock
	conns    *Connections
	registry *Registry
	router   *Router
	metrics  *metrics.Metrics
}

func NewMonitor(cfg MonitorConfig, clock core.Clock, conns *Connections, reg *Registry, router *Router, m *metrics.Metrics) *Monitor {
	if clock == nil {
		clock = core.RealClock{}
	}
	return &Monitor{cfg: cfg, clock: clock, conns: conns, registry: reg, router: router, metrics: m}
}

// Run blocks until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	log.Info().Str("module", "app.monitor").
		Dur("heartbeat", m.cfg.HeartbeatInterval).
		Dur("liveness", m.cfg.LivenessInterval).
		Dur("gc", m.cfg.GCInterval).
		Msg("monitor started")

	var wg conc.WaitGroup
	wg.Go(func() { m.every(ctx, m.cfg.HeartbeatInterval, m.Heartbeat) })
	wg.Go(func() { m.every(ctx, m.cfg.LivenessInterval, m.SweepLiveness) })
	wg.Go(func() { m.every(ctx, m.cfg.GCInterval, m.SweepRegistry) })
	wg.Wait()

	log.Info().Str("module", "app.monitor").Msg("monitor stopped")
}

func (m *Monitor) every(ctx context.Context, d time.Duration, fn func()) {
	t := m.clock.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			fn()
		}
	}
}

// SweepLiveness terminates connections that ignored the previous probe and
// probes those that have been silent past the threshold.
func (m *Monitor) SweepLiveness() {
	now := m.clock.Now()
	for _, conn := range m.conns.All() {
		if !conn.IsOpen() {
			continue
		}
		if !conn.Alive() {
			log.Info().Str("module", "app.monitor").Str("conn", conn.ID()).Msg("no reply to probe, terminating")
			m.metrics.Evicted("unresponsive")
			conn.Close()
			continue
		}
		if now.Sub(conn.LastSeen()) > m.cfg.LivenessThreshold {
			if err := conn.Probe(); err != nil {
				log.Debug().Err(err).Str("module", "app.monitor").Str("conn", conn.ID()).Msg("probe")
			}
		}
	}
}

// SweepRegistry removes entries whose connection closed or went stale and
// tells the surviving peer.
func (m *Monitor) SweepRegistry() {
	removed := m.registry.Sweep(m.clock.Now(), m.cfg.StaleTimeout)
	for _, e := range removed {
		reason := "closed"
		if e.Conn.IsOpen() {
			reason = "stale"
			e.Conn.Close()
		}
		log.Info().Str("module", "app.monitor").Str("key", e.Key.String()).Str("reason", reason).Msg("evicted")
		m.metrics.Evicted(reason)
		m.router.NotifyPeers(e.Key.SessionID, e.Key.Role, protocol.TypeDeviceDisconn)
	}
	m.metrics.SetSessions(m.registry.Len())
}

// Heartbeat pushes a heartbeat to every open connection.
func (m *Monitor) Heartbeat() {
	b, err := protocol.Marshal(protocol.Heartbeat{
		Type:      protocol.TypeHeartbeat,
		Timestamp: m.clock.Now().UnixMilli(),
		Server:    m.cfg.ServerName,
	})
	if err != nil {
		return
	}
	for _, conn := range m.conns.All() {
		if !conn.IsOpen() {
			continue
		}
		if err := conn.TrySend(b); err != nil {
			m.metrics.Dropped("heartbeat")
		}
	}
}
