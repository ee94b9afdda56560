// Package ws is the relay's WebSocket transport.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/Jincoo/youtube-music-remote/internal/app/orch"
	"github.com/Jincoo/youtube-music-remote/internal/core"
	"github.com/Jincoo/youtube-music-remote/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Config struct {
	ReadLimit  int64
	WriteWait  time.Duration
	SendBuffer int
	RateLimit  float64
	RateBurst  int
}

func DefaultConfig() Config {
	return Config{
		ReadLimit:  32 << 10,
		WriteWait:  5 * time.Second,
		SendBuffer: 64,
		RateLimit:  50,
		RateBurst:  100,
	}
}

type Controller struct {
	Orch    *orch.Orchestrator
	Metrics *metrics.Metrics
	cfg     Config
	clock   core.Clock

	upgrader websocket.Upgrader
}

func NewController(o *orch.Orchestrator, cfg Config, clock core.Clock, m *metrics.Metrics) *Controller {
	if clock == nil {
		clock = core.RealClock{}
	}
	return &Controller{
		Orch:    o,
		Metrics: m,
		cfg:     cfg,
		clock:   clock,
		upgrader: websocket.Upgrader{
			// origin filtering happens in the http layer by source address
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS upgrades the request and runs the connection until either side
// closes it or ctx ends.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("upgrade")
		return
	}
	conn := newConn(ws, ctl.cfg, ctl.clock.Now())
	log.Info().Str("module", "ws").Str("conn", conn.ID()).Str("remote", conn.RemoteAddr()).
		Str("client_token", c.GetString("client_token")).Msg("new WS connection")

	ctl.Orch.OnConnect(conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}

func (ctl *Controller) writePump(ctx context.Context, c *Conn) {
	for {
		select {
		case <-ctx.Done():
			// unblocks the read pump
			c.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(ctl.cfg.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "ws").Str("conn", c.ID()).Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Str("conn", c.ID()).Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, c *Conn) {
	defer func() {
		log.Info().Str("module", "ws").Str("conn", c.ID()).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.Orch.OnDisconnect(c)
	}()

	c.ws.SetReadLimit(ctl.cfg.ReadLimit)
	c.ws.SetPongHandler(func(string) error {
		c.pong(ctl.clock.Now())
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				log.Warn().Err(err).Str("module", "ws").Str("conn", c.ID()).Msg("readPump read error")
			}
			return
		}
		c.seen(ctl.clock.Now())
		if !c.allow() {
			ctl.Metrics.Dropped("rate")
			log.Warn().Str("module", "ws").Str("conn", c.ID()).Msg("rate limit exceeded, message dropped")
			continue
		}
		ctl.Orch.OnMessage(c, data)
	}
}
