package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/Jincoo/youtube-music-remote/internal/adapters/ws"
	"github.com/Jincoo/youtube-music-remote/internal/app"
	"github.com/Jincoo/youtube-music-remote/internal/config"
	"github.com/Jincoo/youtube-music-remote/internal/domain"
	"github.com/Jincoo/youtube-music-remote/internal/metrics"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

const pairKey = "session_id"

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware tags every browser with a stable id used in logs.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

var privateNets = func() []*net.IPNet {
	var out []*net.IPNet
	for _, cidr := range []string{
		"127.0.0.0/8",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"::1/128",
		"fc00::/7",
	} {
		_, n, _ := net.ParseCIDR(cidr)
		out = append(out, n)
	}
	return out
}()

// IsPrivate reports whether ip is loopback or in a private range.
func IsPrivate(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// PrivateNetworkMiddleware rejects peers outside the local network. The
// socket address is used, forwarding headers are ignored.
func PrivateNetworkMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			host = c.Request.RemoteAddr
		}
		if !IsPrivate(net.ParseIP(host)) {
			log.Warn().Str("module", "adapters.http").Str("remote", c.Request.RemoteAddr).Msg("rejected non-private peer")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

type Deps struct {
	Registry *app.Registry
	WS       *ws.Controller
	Gatherer prometheus.Gatherer
}

func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	if !cfg.AllowPublic {
		r.Use(PrivateNetworkMiddleware())
	}

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RemoteSessions", store))
	r.Use(ClientTokenMiddleware())

	handleWS := func(c *gin.Context) { d.WS.HandleWS(ctx, c) }
	r.GET("/ws", handleWS)
	// older clients dial the bare host
	r.GET("/", func(c *gin.Context) {
		if c.IsWebsocket() {
			handleWS(c)
			return
		}
		c.JSON(http.StatusOK, gin.H{"service": cfg.ServerName, "ws": "/ws"})
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": d.Registry.Len()})
	})
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(d.Gatherer)))
	}

	api := r.Group("/api")
	api.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": d.Registry.Snapshot()})
	})
	api.GET("/pair", handlePair)

	log.Info().Str("module", "adapters.http").Bool("allow_public", cfg.AllowPublic).Msg("router setup")
	return r
}

type pairing struct {
	SessionID string `json:"sessionId"`
	MobileURL string `json:"mobileUrl"`
	WSURL     string `json:"wsUrl"`
}

// handlePair remembers the session a browser is pairing and returns the
// URLs a remote needs to join it.
func handlePair(c *gin.Context) {
	sess := sessions.Default(c)
	sid := c.Query("session")
	if sid == "" {
		stored, ok := sess.Get(pairKey).(string)
		if !ok || stored == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "no pairing"})
			return
		}
		c.JSON(http.StatusOK, newPairing(c.Request.Host, stored))
		return
	}
	key, err := domain.NewSessionKey(sid, string(domain.RoleMobile))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess.Set(pairKey, string(key.SessionID))
	if err := sess.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("save pairing")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store pairing"})
		return
	}
	c.JSON(http.StatusOK, newPairing(c.Request.Host, string(key.SessionID)))
}

func newPairing(host, sid string) pairing {
	q := url.Values{"session": {sid}}.Encode()
	return pairing{
		SessionID: sid,
		MobileURL: fmt.Sprintf("http://%s/mobile?%s", host, q),
		WSURL:     fmt.Sprintf("ws://%s/ws", host),
	}
}
